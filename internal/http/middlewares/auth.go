package middlewares

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/coverwise/authcore/internal/apikey"
	jwtx "github.com/coverwise/authcore/internal/jwt"
	"github.com/coverwise/authcore/internal/metrics"
	"github.com/coverwise/authcore/internal/observability/logger"
	"github.com/coverwise/authcore/internal/scope"
	"github.com/coverwise/authcore/internal/store/core"
)

// Headers del proxy para clients cert-bound: el proxy termina TLS y
// forwardea el PEM más el client_id que el caller reclama.
const (
	HeaderAPIKey     = "X-API-Key"
	HeaderClientCert = "X-Client-Cert"
	HeaderClientID   = "X-Client-ID"
)

// CredentialKind identifica cómo se autenticó el request.
type CredentialKind string

const (
	CredentialJWT    CredentialKind = "jwt"
	CredentialAPIKey CredentialKind = "api_key"
	CredentialCert   CredentialKind = "client_cert"
)

// Principal es la identidad resuelta de una credencial válida.
type Principal struct {
	Kind     CredentialKind
	ClientID string
	UserID   string // vacío para credenciales de máquina
	Scopes   []string
	KeyID    string // solo api keys
}

// TokenValidator valida bearer JWTs (incluida la revocation list).
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, raw string) (*jwtx.AccessClaims, error)
}

// KeyValidator valida API keys.
type KeyValidator interface {
	Validate(ctx context.Context, key, requiredScope, requestIP string) (*apikey.Principal, error)
}

// CertValidator valida certificados de client forwardeados.
type CertValidator interface {
	Validate(ctx context.Context, clientID, certPEM string) (*core.ClientCertificate, error)
}

// AuthDeps son los validadores que el dispatch puede consultar.
type AuthDeps struct {
	Tokens TokenValidator
	Keys   KeyValidator
	Certs  CertValidator
	// Clients resuelve los scopes configurados de un client cert-bound.
	Clients core.ClientRepository
	Scopes  *scope.Registry
}

// WithAuth despacha la credencial entrante al validador que corresponda
// (Bearer JWT, X-API-Key / Authorization: ApiKey, o cert forwardeado) y
// adjunta el Principal resuelto al contexto. Sin credencial o credencial
// inválida: 401 y no pasa.
func WithAuth(d AuthDeps) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			p, err := resolvePrincipal(ctx, d, r)
			if err != nil {
				logger.From(ctx).Warn("credential rejected", logger.Err(err), logger.Path(r.URL.Path))
				writeUnauthorized(w)
				return
			}

			ctx = context.WithValue(ctx, ctxKeyPrincipal, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope exige que el principal tenga (transitiva) el scope dado.
// Debe ir después de WithAuth.
func RequireScope(reg *scope.Registry, required string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				writeUnauthorized(w)
				return
			}
			if !reg.HasPermission(p.Scopes, required) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"insufficient_scope"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extrae el principal autenticado del contexto.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxKeyPrincipal).(*Principal); ok {
		return p
	}
	return nil
}

func resolvePrincipal(ctx context.Context, d AuthDeps, r *http.Request) (*Principal, error) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))

	// Bearer JWT
	if raw, ok := strings.CutPrefix(authz, "Bearer "); ok && d.Tokens != nil {
		ac, err := d.Tokens.ValidateAccessToken(ctx, strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		return &Principal{
			Kind:     CredentialJWT,
			ClientID: ac.ClientID,
			UserID:   ac.Subject,
			Scopes:   ac.Scopes,
		}, nil
	}

	// API key: header dedicado o scheme ApiKey
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if key == "" {
		if raw, ok := strings.CutPrefix(authz, "ApiKey "); ok {
			key = strings.TrimSpace(raw)
		}
	}
	if key != "" && d.Keys != nil {
		kp, err := d.Keys.Validate(ctx, key, "", clientIP(r))
		if err != nil {
			metrics.APIKeyValidation(keyResult(err))
			return nil, err
		}
		metrics.APIKeyValidation("ok")
		return &Principal{
			Kind:     CredentialAPIKey,
			ClientID: kp.ClientID,
			Scopes:   kp.Scopes,
			KeyID:    kp.KeyID,
		}, nil
	}

	// Cert forwardeado por el proxy
	certPEM := r.Header.Get(HeaderClientCert)
	clientID := strings.TrimSpace(r.Header.Get(HeaderClientID))
	if certPEM != "" && clientID != "" && d.Certs != nil {
		rec, err := d.Certs.Validate(ctx, clientID, certPEM)
		if err != nil {
			metrics.CertValidation("rejected")
			return nil, err
		}
		metrics.CertValidation("ok")
		// el cert autentica al client; los permisos salen de los scopes
		// configurados en su registro
		var scopes []string
		if d.Clients != nil {
			if c, cerr := d.Clients.GetByClientID(ctx, rec.ClientID); cerr == nil && c.Active {
				scopes = d.Scopes.Expand(c.Scopes)
			}
		}
		return &Principal{
			Kind:     CredentialCert,
			ClientID: rec.ClientID,
			Scopes:   scopes,
		}, nil
	}

	return nil, errNoCredential
}

var errNoCredential = &credError{"no credential presented"}

type credError struct{ msg string }

func (e *credError) Error() string { return e.msg }

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func keyResult(err error) string {
	switch err {
	case apikey.ErrKeyRevoked:
		return "revoked"
	case apikey.ErrKeyExpired:
		return "expired"
	case apikey.ErrIPNotAllowed:
		return "ip"
	case apikey.ErrScopeDenied:
		return "scope"
	case apikey.ErrRateLimited:
		return "rate"
	default:
		return "invalid"
	}
}
