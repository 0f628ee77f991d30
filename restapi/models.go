package restapi

import (
	"time"

	"github.com/pilacorp/go-identity-sdk/credential"
)

type generateIdentityRequest struct {
	Passphrase string `json:"passphrase"`
}

type verifyIdentityResponse struct {
	DID   string `json:"did"`
	Valid bool   `json:"valid"`
}

type recoverIdentityRequest struct {
	RecoveryKey   string `json:"recoveryKey"`
	NewPassphrase string `json:"newPassphrase"`
}

type rotateRecoveryKeyRequest struct {
	RecoveryKey string `json:"recoveryKey"`
}

type rotateRecoveryKeyResponse struct {
	RecoveryKey string `json:"recoveryKey"`
}

// Data and Signature travel as standard base64, the encoding/json default for []byte.
type signRequest struct {
	Data         []byte `json:"data"`
	EncryptedKey string `json:"encryptedKey"`
	Passphrase   string `json:"passphrase"`
}

type signResponse struct {
	Signature []byte `json:"signature"`
}

type issueCredentialRequest struct {
	Issuer         string         `json:"issuer"`
	Subject        string         `json:"subject"`
	Type           string         `json:"type"`
	Claims         map[string]any `json:"claims"`
	ExpirationDays int            `json:"expirationDays,omitempty"`
}

// verifyCredentialRequest carries either a JSON credential or a VC-JWT.
type verifyCredentialRequest struct {
	Credential *credential.Credential `json:"credential,omitempty"`
	JWT        string                 `json:"jwt,omitempty"`
}

type exportCredentialRequest struct {
	Credential *credential.Credential `json:"credential"`
}

type exportCredentialResponse struct {
	JWT string `json:"jwt"`
}

type revokeCredentialRequest struct {
	Issuer string `json:"issuer"`
}

type revokeCredentialResponse struct {
	CredentialID string `json:"credentialId"`
	Changed      bool   `json:"changed"`
}

type proveAttributesRequest struct {
	Credential *credential.Credential `json:"credential"`
	Attributes []string               `json:"attributes"`
}

type verifyProofResponse struct {
	Valid bool `json:"valid"`
}

type healthCheckResp struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
}

type errorResponse struct {
	Error string `json:"error"`
}
