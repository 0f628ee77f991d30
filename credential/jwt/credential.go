// Package jwt encodes verifiable credentials as VC-JWTs signed with ES256K and
// verifies them against the issuer's DID document.
package jwt

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keys"
)

// ErrInvalidToken is returned when a token is malformed, badly signed or
// inconsistent with the credential it carries.
var ErrInvalidToken = errors.New("invalid credential token")

// Claims is the VC-JWT claim set. Registered claims mirror the embedded credential.
type Claims struct {
	jwt.RegisteredClaims
	VC *credential.Credential `json:"vc"`
}

// Encode signs vc as a compact JWS. The kid header names the verification method of
// the credential proof, or the issuer's default key when vc has no proof.
func Encode(vc *credential.Credential, signer keys.Signer) (string, error) {
	if vc == nil {
		return "", fmt.Errorf("%w: credential is nil", ErrInvalidToken)
	}

	kid := vc.Issuer + "#" + did.DefaultKeyFragment
	if vc.Proof != nil && vc.Proof.VerificationMethod != "" {
		kid = vc.Proof.VerificationMethod
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    vc.Issuer,
			Subject:   vc.CredentialSubject.ID(),
			ID:        vc.ID,
			NotBefore: jwt.NewNumericDate(vc.IssuanceDate),
			IssuedAt:  jwt.NewNumericDate(vc.IssuanceDate),
		},
		VC: vc,
	}

	if vc.ExpirationDate != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*vc.ExpirationDate)
	}

	token := jwt.NewWithClaims(ES256K, claims)
	token.Header["typ"] = "JWT"
	token.Header["kid"] = kid

	signed, err := token.SignedString(signer)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Decode verifies token with the key named by its kid header and returns the
// embedded credential. The nbf and exp claims are not enforced here: validity
// dates belong to the credential and are judged by credential.Verifier, so an
// expired credential decodes and then verifies as EXPIRED. Resolver failures other
// than an unknown key are not reported as ErrInvalidToken, so an unreachable
// registry stays distinguishable from a bad token.
func Decode(ctx context.Context, token string, resolver did.Resolver) (*credential.Credential, error) {
	var resolveErr error

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("kid not found in header")
		}

		controller, err := did.ControllerOf(kid)
		if err != nil {
			return nil, err
		}

		if iss, _ := t.Claims.GetIssuer(); iss != controller {
			return nil, fmt.Errorf("kid %s is not controlled by issuer %s", kid, iss)
		}

		pub, err := did.PublicKeyFor(ctx, resolver, kid)
		if err != nil {
			resolveErr = err

			return nil, err
		}

		return pub, nil
	}, jwt.WithValidMethods([]string{ES256K.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		if resolveErr != nil && !errors.Is(resolveErr, did.ErrNotRegistered) &&
			!errors.Is(resolveErr, did.ErrUnknownVerificationMethod) && !errors.Is(resolveErr, keys.ErrInvalidPublicKey) {
			return nil, fmt.Errorf("failed to resolve token key: %w", resolveErr)
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if err := checkConsistency(claims); err != nil {
		return nil, err
	}

	return claims.VC, nil
}

func checkConsistency(claims *Claims) error {
	vc := claims.VC

	switch {
	case vc == nil:
		return fmt.Errorf("%w: vc claim is missing", ErrInvalidToken)
	case claims.ID != vc.ID:
		return fmt.Errorf("%w: jti does not match credential id", ErrInvalidToken)
	case claims.Issuer != vc.Issuer:
		return fmt.Errorf("%w: iss does not match credential issuer", ErrInvalidToken)
	case claims.Subject != vc.CredentialSubject.ID():
		return fmt.Errorf("%w: sub does not match credential subject", ErrInvalidToken)
	}

	return nil
}
