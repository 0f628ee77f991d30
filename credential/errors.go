package credential

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid credential request")
	ErrUnauthorizedIssuer   = errors.New("issuer is not authorized")
	ErrIssuerNotResolvable  = errors.New("issuer DID cannot be resolved")
	ErrSubjectNotResolvable = errors.New("subject DID cannot be resolved")
	ErrSigningKeyMismatch   = errors.New("signing key does not match issuer verification method")
	ErrInvalidClaims        = errors.New("claims do not match credential schema")
)
