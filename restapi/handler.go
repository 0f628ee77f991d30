// Package restapi exposes identity.Service over HTTP with a chi router.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/disclosure"
	"github.com/pilacorp/go-identity-sdk/identity"
)

const (
	healthCheckEndpoint = "/healthcheck"
	metricsEndpoint     = "/metrics"

	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
)

// Service is the part of identity.Service served over HTTP.
type Service interface {
	GenerateIdentity(ctx context.Context, passphrase string) (*identity.Identity, error)
	VerifyIdentity(ctx context.Context, id string) (bool, error)
	ResolveDID(ctx context.Context, id string) (*did.Document, bool, error)
	RecoverIdentity(ctx context.Context, recoveryKey, newPassphrase string) (*identity.Identity, error)
	RotateRecoveryKey(ctx context.Context, id, recoveryKey string) (string, error)
	SignAsIdentity(ctx context.Context, data []byte, encryptedKey, passphrase string) ([]byte, error)
	IssueCredential(ctx context.Context, req credential.IssueRequest) (*credential.Credential, error)
	VerifyCredential(ctx context.Context, vc *credential.Credential) (credential.Result, error)
	VerifyCredentialJWT(ctx context.Context, token string) (credential.Result, error)
	ExportCredentialJWT(ctx context.Context, vc *credential.Credential) (string, error)
	RevokeCredential(ctx context.Context, id, issuerDID string) (bool, error)
	ProveAttributes(ctx context.Context, vc *credential.Credential, names []string) (*disclosure.Proof, error)
	VerifyProof(ctx context.Context, proof *disclosure.Proof) (bool, error)
}

// Handler serves the identity API.
type Handler struct {
	svc    Service
	logger *zap.Logger
	clock  func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

func New(svc Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: zap.NewNop(), clock: time.Now}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Router returns the API routes wrapped in OpenTelemetry instrumentation.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get(healthCheckEndpoint, h.healthCheck)
	r.Handle(metricsEndpoint, promhttp.Handler())

	r.Route("/identities", func(r chi.Router) {
		r.Post("/", h.generateIdentity)
		r.Post("/recover", h.recoverIdentity)
		r.Post("/sign", h.signAsIdentity)
		r.Get("/{did}/verify", h.verifyIdentity)
		r.Post("/{did}/recovery-key", h.rotateRecoveryKey)
	})

	r.Get("/dids/{did}", h.resolveDID)

	r.Route("/credentials", func(r chi.Router) {
		r.Post("/", h.issueCredential)
		r.Post("/verify", h.verifyCredential)
		r.Post("/jwt", h.exportCredentialJWT)
		r.Post("/{id}/revoke", h.revokeCredential)
	})

	r.Route("/proofs", func(r chi.Router) {
		r.Post("/", h.proveAttributes)
		r.Post("/verify", h.verifyProof)
	})

	return otelhttp.NewHandler(r, "identity-rest")
}

func (h *Handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthCheckResp{Status: "success", CurrentTime: h.clock().UTC()})
}

func (h *Handler) generateIdentity(w http.ResponseWriter, r *http.Request) {
	var req generateIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.svc.GenerateIdentity(r.Context(), req.Passphrase)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusCreated, id)
}

func (h *Handler) verifyIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "did")

	valid, err := h.svc.VerifyIdentity(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, verifyIdentityResponse{DID: id, Valid: valid})
}

func (h *Handler) recoverIdentity(w http.ResponseWriter, r *http.Request) {
	var req recoverIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.svc.RecoverIdentity(r.Context(), req.RecoveryKey, req.NewPassphrase)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, id)
}

func (h *Handler) rotateRecoveryKey(w http.ResponseWriter, r *http.Request) {
	var req rotateRecoveryKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	next, err := h.svc.RotateRecoveryKey(r.Context(), chi.URLParam(r, "did"), req.RecoveryKey)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, rotateRecoveryKeyResponse{RecoveryKey: next})
}

func (h *Handler) signAsIdentity(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !h.decode(w, r, &req) {
		return
	}

	sig, err := h.svc.SignAsIdentity(r.Context(), req.Data, req.EncryptedKey, req.Passphrase)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, signResponse{Signature: sig})
}

func (h *Handler) resolveDID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "did")

	doc, found, err := h.svc.ResolveDID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	if !found {
		h.writeError(w, r, fmt.Errorf("%w: %s", did.ErrNotRegistered, id))

		return
	}

	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) issueCredential(w http.ResponseWriter, r *http.Request) {
	var req issueCredentialRequest
	if !h.decode(w, r, &req) {
		return
	}

	credType, err := credential.ParseType(req.Type)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	vc, err := h.svc.IssueCredential(r.Context(), credential.IssueRequest{
		IssuerDID:  req.Issuer,
		SubjectDID: req.Subject,
		Type:       credType,
		Claims:     req.Claims,
		TTL:        credential.ExpirationDays(req.ExpirationDays),
	})
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusCreated, vc)
}

func (h *Handler) verifyCredential(w http.ResponseWriter, r *http.Request) {
	var req verifyCredentialRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		result credential.Result
		err    error
	)

	switch {
	case req.JWT != "" && req.Credential == nil:
		result, err = h.svc.VerifyCredentialJWT(r.Context(), req.JWT)
	case req.Credential != nil && req.JWT == "":
		result, err = h.svc.VerifyCredential(r.Context(), req.Credential)
	default:
		err = fmt.Errorf("%w: exactly one of credential or jwt is required", errBadRequest)
	}

	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) exportCredentialJWT(w http.ResponseWriter, r *http.Request) {
	var req exportCredentialRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.svc.ExportCredentialJWT(r.Context(), req.Credential)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, exportCredentialResponse{JWT: token})
}

func (h *Handler) revokeCredential(w http.ResponseWriter, r *http.Request) {
	var req revokeCredentialRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")

	changed, err := h.svc.RevokeCredential(r.Context(), id, req.Issuer)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, revokeCredentialResponse{CredentialID: id, Changed: changed})
}

func (h *Handler) proveAttributes(w http.ResponseWriter, r *http.Request) {
	var req proveAttributesRequest
	if !h.decode(w, r, &req) {
		return
	}

	proof, err := h.svc.ProveAttributes(r.Context(), req.Credential, req.Attributes)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusCreated, proof)
}

func (h *Handler) verifyProof(w http.ResponseWriter, r *http.Request) {
	var proof disclosure.Proof
	if !h.decode(w, r, &proof) {
		return
	}

	valid, err := h.svc.VerifyProof(r.Context(), &proof)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	h.writeJSON(w, http.StatusOK, verifyProofResponse{Valid: valid})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid request body: %w", errBadRequest, err))

		return false
	}

	return true
}
