// Package jwt emite y verifica access tokens EdDSA.
//
// Los access tokens son stateless: la validez es firma + expiración, más el
// negative-check contra la revocation list que mantiene el service de oauth.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tipos de token emitidos (claim "typ").
const (
	TokenTypeUser   = "user"
	TokenTypeClient = "client"
)

var (
	ErrNoLifetime   = errors.New("jwt: token lifetime not configured")
	ErrInvalidToken = errors.New("jwt: invalid token")
)

// Issuer firma access tokens con la clave activa.
type Issuer struct {
	Iss string
	Key *SigningKey
}

func NewIssuer(iss string, key *SigningKey) *Issuer {
	return &Issuer{Iss: iss, Key: key}
}

// AccessClaims es el contenido decodificado de un access token.
type AccessClaims struct {
	JTI      string
	ClientID string
	Subject  string // user id; vacío en tokens de tipo client
	Scopes   []string
	Type     string // "user" | "client"
	IssuedAt time.Time
	Expiry   time.Time
}

// Remaining retorna la vida que le queda al token.
func (c *AccessClaims) Remaining(now time.Time) time.Duration {
	return c.Expiry.Sub(now)
}

// IssueAccess firma un access token. ttl es obligatorio: viene de la config
// del client y no hay default (un client sin lifetime falla la emisión).
func (i *Issuer) IssueAccess(clientID, sub string, scopes []string, typ string, ttl time.Duration) (string, *AccessClaims, error) {
	if ttl <= 0 {
		return "", nil, ErrNoLifetime
	}
	now := time.Now().UTC()
	ac := &AccessClaims{
		JTI:      uuid.NewString(),
		ClientID: clientID,
		Subject:  sub,
		Scopes:   scopes,
		Type:     typ,
		IssuedAt: now,
		Expiry:   now.Add(ttl),
	}

	claims := jwtv5.MapClaims{
		"iss":       i.Iss,
		"jti":       ac.JTI,
		"client_id": clientID,
		"scope":     strings.Join(scopes, " "),
		"typ":       typ,
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       ac.Expiry.Unix(),
	}
	if sub != "" {
		claims["sub"] = sub
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.Key.KID

	signed, err := tk.SignedString(i.Key.Private)
	if err != nil {
		return "", nil, err
	}
	return signed, ac, nil
}

// Keyfunc elige la pubkey por kid. Con una sola clave activa, un kid distinto
// es un token de otra instancia y falla.
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" && kid != i.Key.KID {
			return nil, fmt.Errorf("jwt: unknown kid %q", kid)
		}
		return ed25519.PublicKey(i.Key.Public), nil
	}
}

// ParseAndVerify valida firma, exp/nbf e issuer y retorna los claims.
func (i *Issuer) ParseAndVerify(raw string) (*AccessClaims, error) {
	parsed, err := jwtv5.Parse(raw, i.Keyfunc(),
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithIssuer(i.Iss),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	mc, ok := parsed.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	jti, _ := mc["jti"].(string)
	clientID, _ := mc["client_id"].(string)
	sub, _ := mc["sub"].(string)
	typ, _ := mc["typ"].(string)
	scopeRaw, _ := mc["scope"].(string)
	expF, _ := mc["exp"].(float64)
	iatF, _ := mc["iat"].(float64)

	if jti == "" || clientID == "" {
		return nil, ErrInvalidToken
	}
	return &AccessClaims{
		JTI:      jti,
		ClientID: clientID,
		Subject:  sub,
		Scopes:   strings.Fields(scopeRaw),
		Type:     typ,
		IssuedAt: time.Unix(int64(iatF), 0).UTC(),
		Expiry:   time.Unix(int64(expF), 0).UTC(),
	}, nil
}
