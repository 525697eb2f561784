package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Métodos PKCE soportados.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// validateCodeChallenge valida los parámetros de /authorize.
// El challenge es opcional (clients confidenciales pueden omitirlo), pero si
// viene, el método tiene que ser conocido y el largo razonable.
func validateCodeChallenge(challenge, method string) error {
	if challenge == "" && method == "" {
		return nil
	}
	if challenge == "" || method == "" {
		return fmt.Errorf("%w: code_challenge and code_challenge_method go together", ErrInvalidRequest)
	}
	if method != PKCEMethodS256 && method != PKCEMethodPlain {
		return fmt.Errorf("%w: unsupported code_challenge_method %q", ErrInvalidRequest, method)
	}
	if len(challenge) < 43 || len(challenge) > 128 {
		return fmt.Errorf("%w: code_challenge length out of range", ErrInvalidRequest)
	}
	return nil
}

// verifyPKCE aplica las reglas del exchange:
//   - challenge guardado y sin verifier => invalid_grant (PKCE es obligatorio
//     una vez prometido)
//   - verifier presente sin challenge guardado => invalid_grant (bloquea el
//     downgrade: alguien intenta colar un verifier en un code sin PKCE)
//   - S256: base64url(sha256(verifier)) == challenge
//   - plain: igualdad literal
func verifyPKCE(storedChallenge, storedMethod, verifier string) error {
	if storedChallenge == "" {
		if verifier != "" {
			return fmt.Errorf("%w: code was issued without code_challenge", ErrInvalidGrant)
		}
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("%w: code_verifier required", ErrInvalidGrant)
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("%w: code_verifier length out of range", ErrInvalidGrant)
	}

	switch storedMethod {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) != 1 {
			return fmt.Errorf("%w: pkce verification failed", ErrInvalidGrant)
		}
	case PKCEMethodPlain:
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(storedChallenge)) != 1 {
			return fmt.Errorf("%w: pkce verification failed", ErrInvalidGrant)
		}
	default:
		return fmt.Errorf("%w: unknown challenge method", ErrInvalidGrant)
	}
	return nil
}
