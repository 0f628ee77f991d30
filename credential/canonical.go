package credential

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gowebpki/jcs"
	"github.com/piprate/json-gold/ld"
)

// Cryptosuite names recorded in proof.cryptosuite. They select the canonicalization
// a verifier must reproduce.
const (
	SuiteJCS  = "ecdsa-secp256k1-jcs-2019"
	SuiteRDFC = "ecdsa-secp256k1-rdfc-2019"
)

// Canonicalizer turns a JSON document into deterministic bytes for signing.
type Canonicalizer interface {
	Suite() string
	Canonicalize(doc []byte) ([]byte, error)
}

// JCS canonicalizes with RFC 8785 (sorted keys, normalized numbers).
type JCS struct{}

func (JCS) Suite() string { return SuiteJCS }

func (JCS) Canonicalize(doc []byte) ([]byte, error) {
	out, err := jcs.Transform(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize document: %w", err)
	}

	return out, nil
}

// RDFC canonicalizes JSON-LD documents to URDNA2015 N-Quads.
type RDFC struct {
	loader ld.DocumentLoader
}

// NewRDFC returns an RDFC canonicalizer. A nil loader fetches contexts over HTTP and
// caches them for the lifetime of the canonicalizer.
func NewRDFC(loader ld.DocumentLoader) *RDFC {
	if loader == nil {
		loader = ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(nil))
	}

	return &RDFC{loader: loader}
}

func (*RDFC) Suite() string { return SuiteRDFC }

func (r *RDFC) Canonicalize(doc []byte) ([]byte, error) {
	var parsed map[string]any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON-LD document: %w", err)
	}

	processor := ld.NewJsonLdProcessor()
	options := ld.NewJsonLdOptions("")
	options.Format = "application/n-quads"
	options.Algorithm = ld.AlgorithmURDNA2015
	options.DocumentLoader = r.loader

	normalized, err := processor.Normalize(toJSONLDCompatible(parsed), options)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}

	nquads, ok := normalized.(string)
	if !ok || nquads == "" {
		return nil, fmt.Errorf("failed to normalize document: empty dataset")
	}

	return []byte(nquads), nil
}

// toJSONLDCompatible turns numbers and booleans into typed literals so the N-Quads
// form keeps their lexical value regardless of JSON number formatting.
func toJSONLDCompatible(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = toJSONLDCompatible(val)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = toJSONLDCompatible(val)
		}

		return out
	case float64:
		return map[string]any{
			"@value": strconv.FormatFloat(v, 'f', -1, 64),
			"@type":  "http://www.w3.org/2001/XMLSchema#string",
		}
	case bool:
		return map[string]any{
			"@value": strconv.FormatBool(v),
			"@type":  "http://www.w3.org/2001/XMLSchema#boolean",
		}
	default:
		return v
	}
}
