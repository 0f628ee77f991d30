package keys

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultRemoteSignerTimeout = 10 * time.Second

// ErrRemoteSigner is returned when the signing service fails or answers with a
// signature that does not match the configured public key.
var ErrRemoteSigner = errors.New("remote signer failed")

// RemoteSigner signs through an HTTP signing service that holds the private key.
// The service receives {"payload_hex"} with the 32-byte digest to sign and answers
// {"signature_hex"} with a 65-byte recoverable signature.
type RemoteSigner struct {
	endpoint string
	apiKey   string
	pub      *ecdsa.PublicKey
	client   *http.Client
}

// RemoteSignerOption configures a RemoteSigner.
type RemoteSignerOption func(*RemoteSigner)

// WithSignerHTTPClient replaces the instrumented default client.
func WithSignerHTTPClient(c *http.Client) RemoteSignerOption {
	return func(s *RemoteSigner) { s.client = c }
}

// WithAPIKey sends key in the x-api-key header.
func WithAPIKey(key string) RemoteSignerOption {
	return func(s *RemoteSigner) { s.apiKey = key }
}

// NewRemoteSigner creates a signer for endpoint. pub is the public key the
// service signs for; every returned signature is checked against it.
func NewRemoteSigner(endpoint string, pub *ecdsa.PublicKey, opts ...RemoteSignerOption) (*RemoteSigner, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("remote signer endpoint required")
	}

	if pub == nil {
		return nil, fmt.Errorf("%w: remote signer public key required", ErrInvalidPublicKey)
	}

	s := &RemoteSigner{
		endpoint: endpoint,
		pub:      pub,
		client: &http.Client{
			Timeout:   defaultRemoteSignerTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *RemoteSigner) PublicKey() *ecdsa.PublicKey {
	return s.pub
}

// Sign hashes data with sha256 and asks the service to sign the digest.
func (s *RemoteSigner) Sign(data []byte) ([]byte, error) {
	return s.SignContext(context.Background(), data)
}

func (s *RemoteSigner) SignContext(ctx context.Context, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)

	reqBody, err := json.Marshal(map[string]string{"payload_hex": hex.EncodeToString(digest[:])})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create signer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteSigner, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", ErrRemoteSigner, resp.StatusCode)
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteSigner, err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil || len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: invalid signature", ErrRemoteSigner)
	}

	if !VerifySignature(data, sig, s.pub) {
		return nil, fmt.Errorf("%w: signature does not match public key", ErrRemoteSigner)
	}

	return sig, nil
}
