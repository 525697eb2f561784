// Package oauth implementa el authorization server: registro de clients,
// authorization codes con PKCE, los cuatro grant handlers, introspección y
// revocación.
package oauth

import (
	"context"
	"time"

	"github.com/coverwise/authcore/internal/cache"
	jwtx "github.com/coverwise/authcore/internal/jwt"
	"github.com/coverwise/authcore/internal/rate"
	"github.com/coverwise/authcore/internal/scope"
	"github.com/coverwise/authcore/internal/store/core"
)

const (
	// Los códigos viven en cache, nunca más de 10 minutos.
	maxCodeTTL     = 10 * time.Minute
	defaultCodeTTL = 5 * time.Minute

	codeKeyPrefix    = "authcode:"
	revokedKeyPrefix = "revoked:jti:"
)

// CertValidator es la vista que el server necesita del manager de mTLS para
// autenticar clients cert-bound en el token endpoint.
type CertValidator interface {
	Validate(ctx context.Context, clientID, certPEM string) (*core.ClientCertificate, error)
}

// Deps agrupa las dependencias del server. Todo inyectado, nada global.
type Deps struct {
	Store  core.Store
	Cache  cache.Client
	Issuer *jwtx.Issuer
	Scopes *scope.Registry

	// Limiter opcional: rate limit uniforme para los grants password y
	// client_credentials. Nil deshabilita.
	Limiter rate.Limiter
	// GrantRateLimit es el máximo de intentos por client por ventana.
	GrantRateLimit int64

	// Certs opcional: habilita autenticación de client por certificado.
	Certs CertValidator

	// CodeTTL de los authorization codes. Se capea a 10 minutos.
	CodeTTL time.Duration
	// RefreshTTL default cuando el client no configura uno propio.
	RefreshTTL time.Duration
}

// Server es el authorization server.
type Server struct {
	store   core.Store
	cache   cache.Client
	issuer  *jwtx.Issuer
	scopes  *scope.Registry
	limiter rate.Limiter
	certs   CertValidator

	grantRateLimit int64
	codeTTL        time.Duration
	refreshTTL     time.Duration
}

func NewServer(d Deps) *Server {
	codeTTL := d.CodeTTL
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	if codeTTL > maxCodeTTL {
		codeTTL = maxCodeTTL
	}
	refreshTTL := d.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	grantLimit := d.GrantRateLimit
	if grantLimit <= 0 {
		grantLimit = 30
	}
	return &Server{
		store:          d.Store,
		cache:          d.Cache,
		issuer:         d.Issuer,
		scopes:         d.Scopes,
		limiter:        d.Limiter,
		certs:          d.Certs,
		grantRateLimit: grantLimit,
		codeTTL:        codeTTL,
		refreshTTL:     refreshTTL,
	}
}

// TokenResponse es la respuesta estándar del token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ValidateAccessToken verifica firma, expiración y revocation list. Lo usa el
// middleware de bearer auth.
func (s *Server) ValidateAccessToken(ctx context.Context, raw string) (*jwtx.AccessClaims, error) {
	ac, err := s.issuer.ParseAndVerify(raw)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	revoked, err := s.cache.Exists(ctx, revokedKeyPrefix+ac.JTI)
	if err == nil && revoked {
		return nil, ErrInvalidGrant
	}
	return ac, nil
}
