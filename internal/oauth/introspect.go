package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/coverwise/authcore/internal/observability/logger"
	tokens "github.com/coverwise/authcore/internal/security/token"
)

// IntrospectionResponse es la respuesta RFC 7662. Un token inválido es
// simplemente {"active": false}: el endpoint nunca explica por qué.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Sub       string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

var inactive = &IntrospectionResponse{Active: false}

// Introspect resuelve el estado de un token. El hint (RFC 7662
// token_type_hint) solo ordena los lookups: si no matchea se intenta el
// otro tipo igual. Nunca retorna error hacia el caller; cualquier falla
// colapsa en active:false para no servir de oráculo.
func (s *Server) Introspect(ctx context.Context, token, tokenTypeHint string) *IntrospectionResponse {
	if token == "" {
		return inactive
	}

	if tokenTypeHint == "refresh_token" {
		if res := s.introspectRefresh(ctx, token); res.Active {
			return res
		}
		return s.introspectAccess(ctx, token)
	}
	if res := s.introspectAccess(ctx, token); res.Active {
		return res
	}
	return s.introspectRefresh(ctx, token)
}

func (s *Server) introspectAccess(ctx context.Context, token string) *IntrospectionResponse {
	ac, err := s.issuer.ParseAndVerify(token)
	if err != nil {
		return inactive
	}
	revoked, cerr := s.cache.Exists(ctx, revokedKeyPrefix+ac.JTI)
	if cerr != nil {
		// cache caído: fail-closed, el token no se confirma activo
		logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.introspect")).
			Warn("revocation cache unavailable", logger.Err(cerr))
		return inactive
	}
	if revoked {
		return inactive
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(ac.Scopes, " "),
		ClientID:  ac.ClientID,
		Sub:       ac.Subject,
		TokenType: "access_token",
		Exp:       ac.Expiry.Unix(),
		Iat:       ac.IssuedAt.Unix(),
		JTI:       ac.JTI,
	}
}

func (s *Server) introspectRefresh(ctx context.Context, token string) *IntrospectionResponse {
	rt, err := s.store.Tokens().GetByHash(ctx, tokens.SHA256Base64URL(token))
	if err != nil {
		return inactive
	}
	now := time.Now().UTC()
	if rt.RevokedAt != nil || !now.Before(rt.ExpiresAt) {
		return inactive
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(rt.Scopes, " "),
		ClientID:  rt.ClientID,
		Sub:       rt.UserID,
		TokenType: "refresh_token",
		Exp:       rt.ExpiresAt.Unix(),
		Iat:       rt.IssuedAt.Unix(),
	}
}
