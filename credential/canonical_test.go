package credential

import (
	"fmt"
	"testing"

	"github.com/piprate/json-gold/ld"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticLoader serves a vocabulary-only context for every URL, so tests never fetch.
type staticLoader struct{}

func (staticLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	return &ld.RemoteDocument{
		DocumentURL: u,
		Document: map[string]any{
			"@context": map[string]any{
				"@vocab": "https://example.com/vocab#",
				"id":     "@id",
				"type":   "@type",
			},
		},
	}, nil
}

func TestJCSIsKeyOrderIndependent(t *testing.T) {
	a, err := JCS{}.Canonicalize([]byte(`{"b": 1, "a": {"y": true, "x": "s"}}`))
	require.NoError(t, err)

	b, err := JCS{}.Canonicalize([]byte(`{"a":{"x":"s","y":true},"b":1.0}`))
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":{"x":"s","y":true},"b":1}`, string(a))

	_, err = JCS{}.Canonicalize([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestRDFCInlineContext(t *testing.T) {
	doc := func(name string, age int) []byte {
		return []byte(fmt.Sprintf(`{
			"@context": {"name": "http://schema.org/name", "age": "http://schema.org/age"},
			"@id": "urn:example:1",
			"name": %q,
			"age": %d
		}`, name, age))
	}

	rdfc := NewRDFC(staticLoader{})
	assert.Equal(t, SuiteRDFC, rdfc.Suite())

	first, err := rdfc.Canonicalize(doc("Ada", 36))
	require.NoError(t, err)
	assert.Contains(t, string(first), `<urn:example:1> <http://schema.org/name> "Ada" .`)

	again, err := rdfc.Canonicalize(doc("Ada", 36))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	changed, err := rdfc.Canonicalize(doc("Ada", 37))
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	_, err = rdfc.Canonicalize([]byte(`{"name": "no context"}`))
	assert.Error(t, err)
}

func TestIssueAndVerifyWithRDFC(t *testing.T) {
	f := newFixture(t)
	rdfc := NewRDFC(staticLoader{})

	vc, err := f.issuer(WithCanonicalizer(rdfc)).Issue(f.ctx, personhood())
	require.NoError(t, err)
	assert.Equal(t, SuiteRDFC, vc.Proof.Cryptosuite)

	result, err := f.verifier(WithCanonicalizer(rdfc)).Verify(f.ctx, vc)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, result.Status, result.Reason)

	result, err = f.verifier().Verify(f.ctx, vc)
	require.NoError(t, err)
	assert.Equal(t, StatusSignatureInvalid, result.Status)

	vc.CredentialSubject["age"] = 37.0

	result, err = f.verifier(WithCanonicalizer(rdfc)).Verify(f.ctx, vc)
	require.NoError(t, err)
	assert.Equal(t, StatusSignatureInvalid, result.Status)
}
