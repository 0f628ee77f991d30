package did

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-identity-sdk/storage"
)

const defaultResolverTimeout = 10 * time.Second

// HTTPResolver resolves DIDs against a remote registry exposing GET {baseURL}/{did}.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// HTTPResolverOption configures an HTTPResolver.
type HTTPResolverOption func(*HTTPResolver)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) HTTPResolverOption {
	return func(r *HTTPResolver) { r.client = c }
}

// NewHTTPResolver creates a resolver for baseURL (e.g., "https://registry.example/dids").
func NewHTTPResolver(baseURL string, opts ...HTTPResolverOption) *HTTPResolver {
	r := &HTTPResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout:   defaultResolverTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve fetches the document of did. A 404 is reported as not found; network
// failures and 5xx responses wrap storage.ErrUnavailable.
func (r *HTTPResolver) Resolve(ctx context.Context, did string) (*Document, bool, error) {
	apiURL := r.baseURL + "/" + url.PathEscape(did)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create resolver request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, storage.Unavailable("resolve DID", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, false, storage.Unavailable("resolve DID", fmt.Errorf("resolver returned %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("DID resolver returned non-200 status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, storage.Unavailable("read resolver response", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal DID document JSON: %w", err)
	}

	return &doc, true, nil
}
