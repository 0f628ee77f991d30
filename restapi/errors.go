package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/disclosure"
	"github.com/pilacorp/go-identity-sdk/identity"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/revocation"
	"github.com/pilacorp/go-identity-sdk/storage"
)

var errBadRequest = errors.New("bad request")

var (
	badRequestErrors = []error{
		errBadRequest,
		credential.ErrInvalidRequest,
		credential.ErrInvalidClaims,
		credential.ErrIssuerNotResolvable,
		credential.ErrSubjectNotResolvable,
		credential.ErrSigningKeyMismatch,
		disclosure.ErrUnknownAttribute,
		disclosure.ErrInvalidProof,
		identity.ErrInvalidPassphrase,
		did.ErrInvalidDocument,
		keys.ErrInvalidPublicKey,
		keys.ErrInvalidRecoveryKey,
		keys.ErrSignerNotFound,
	}

	forbiddenErrors = []error{
		credential.ErrUnauthorizedIssuer,
		revocation.ErrUnauthorizedRevocation,
		identity.ErrRecoveryFailed,
		keys.ErrDecryption,
	}

	notFoundErrors = []error{
		storage.ErrNotFound,
		revocation.ErrUnknownCredential,
		identity.ErrIdentityNotFound,
		did.ErrNotRegistered,
		did.ErrUnknownVerificationMethod,
	}
)

func statusFor(err error) int {
	switch {
	case storage.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case isAny(err, forbiddenErrors):
		return http.StatusForbidden
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))

		msg = http.StatusText(status)
	} else {
		h.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}

	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
