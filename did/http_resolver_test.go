package did

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-identity-sdk/storage"
)

func TestHTTPResolver(t *testing.T) {
	doc, err := BuildDocument("did:wallof:abc", newPublicKey(t))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/dids/"))
		require.NoError(t, err)

		switch id {
		case doc.ID:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(doc)
		case "did:wallof:flaky":
			w.WriteHeader(http.StatusBadGateway)
		case "did:wallof:garbage":
			_, _ = w.Write([]byte("{"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	res := NewHTTPResolver(srv.URL + "/dids/")
	ctx := context.Background()

	got, found, err := res.Resolve(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, doc, got)

	_, found, err = res.Resolve(ctx, "did:wallof:missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = res.Resolve(ctx, "did:wallof:flaky")
	require.ErrorIs(t, err, storage.ErrUnavailable)

	_, _, err = res.Resolve(ctx, "did:wallof:garbage")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrUnavailable)

	key, err := PublicKeyFor(ctx, res, doc.ID+"#key-1")
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestHTTPResolverUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, _, err := NewHTTPResolver(srv.URL).Resolve(context.Background(), "did:wallof:abc")
	require.ErrorIs(t, err, storage.ErrUnavailable)
}
