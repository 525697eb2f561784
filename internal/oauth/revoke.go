package oauth

import (
	"context"
	"time"

	"github.com/coverwise/authcore/internal/audit"
	"github.com/coverwise/authcore/internal/observability/logger"
	tokens "github.com/coverwise/authcore/internal/security/token"
)

// Revoke invalida un token por RFC 7009. Siempre retorna nil para tokens
// desconocidos o ya revocados: revocar es idempotente y el endpoint no
// filtra si el token existía. Solo errores de infraestructura suben.
func (s *Server) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.revoke"))

	// JWT de acceso: marcar el jti en la revocation list por lo que le
	// queda de vida. Después de exp el cache lo limpia solo.
	if ac, err := s.issuer.ParseAndVerify(token); err == nil {
		remaining := ac.Remaining(time.Now().UTC())
		if remaining <= 0 {
			return nil
		}
		if err := s.cache.Set(ctx, revokedKeyPrefix+ac.JTI, "1", remaining); err != nil {
			log.Error("revocation cache write failed", logger.Err(err))
			return ErrServerError
		}
		audit.Log(ctx, "token.revoked", map[string]any{
			"client_id":  ac.ClientID,
			"jti":        ac.JTI,
			"token_type": "access_token",
		})
		return nil
	}

	// Opaco: si es un refresh token conocido, revocarlo en el store.
	rt, err := s.store.Tokens().GetByHash(ctx, tokens.SHA256Base64URL(token))
	if err != nil {
		// desconocido o expirado: éxito silencioso
		return nil
	}
	if rt.RevokedAt != nil {
		return nil
	}
	if err := s.store.Tokens().Revoke(ctx, rt.ID); err != nil {
		log.Error("refresh token revoke failed", logger.Err(err))
		return ErrServerError
	}
	audit.Log(ctx, "token.revoked", map[string]any{
		"client_id":  rt.ClientID,
		"token_type": "refresh_token",
		"token_id":   rt.ID,
	})
	return nil
}
