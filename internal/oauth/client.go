package oauth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/coverwise/authcore/internal/audit"
	"github.com/coverwise/authcore/internal/observability/logger"
	"github.com/coverwise/authcore/internal/security/password"
	tokens "github.com/coverwise/authcore/internal/security/token"
	"github.com/coverwise/authcore/internal/store/core"
)

// CreateClientInput son los parámetros de alta de un OAuth client.
type CreateClientInput struct {
	Name         string
	Type         core.ClientType
	GrantTypes   []string
	Scopes       []string
	RedirectURIs []string
	TokenTTL     time.Duration
	RefreshTTL   time.Duration
}

// CreateClientResult incluye el secret en claro exactamente una vez.
type CreateClientResult struct {
	Client       *core.Client
	ClientSecret string // vacío para clients públicos
}

// CreateClient registra un client nuevo. Sin defaults silenciosos: grant
// types y scopes tienen que venir explícitos y ser conocidos.
func (s *Server) CreateClient(ctx context.Context, in CreateClientInput) (*CreateClientResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.clients"), logger.Op("CreateClient"))

	if in.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidRequest)
	}
	if in.Type != core.ClientTypePublic && in.Type != core.ClientTypeConfidential {
		return nil, fmt.Errorf("%w: client_type must be public or confidential", ErrInvalidRequest)
	}
	if len(in.GrantTypes) == 0 {
		return nil, fmt.Errorf("%w: grant_types required", ErrInvalidRequest)
	}
	for _, g := range in.GrantTypes {
		if _, ok := core.KnownGrantTypes[g]; !ok {
			return nil, fmt.Errorf("%w: unknown grant_type %q", ErrInvalidRequest, g)
		}
	}
	if _, err := s.scopes.Validate(in.Scopes, nil); err != nil {
		return nil, err
	}
	if err := validateRedirectURIs(in.GrantTypes, in.RedirectURIs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &core.Client{
		ID:           uuid.NewString(),
		ClientID:     "cw_" + uuid.NewString(),
		Name:         in.Name,
		Type:         in.Type,
		GrantTypes:   append([]string(nil), in.GrantTypes...),
		Scopes:       append([]string(nil), in.Scopes...),
		RedirectURIs: append([]string(nil), in.RedirectURIs...),
		TokenTTL:     in.TokenTTL,
		RefreshTTL:   in.RefreshTTL,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var plainSecret string
	if in.Type == core.ClientTypeConfidential {
		secret, err := tokens.GenerateOpaque(32)
		if err != nil {
			return nil, ErrServerError
		}
		plainSecret = "cws_" + secret
		hash, err := password.Hash(password.Default, plainSecret)
		if err != nil {
			return nil, ErrServerError
		}
		c.SecretHash = &hash
	}

	if err := s.store.Clients().Create(ctx, c); err != nil {
		log.Error("client create failed", logger.Err(err))
		return nil, ErrServerError
	}

	log.Info("client created", logger.ClientID(c.ClientID), logger.String("type", string(c.Type)))
	audit.Log(ctx, "oauth.client.created", map[string]any{"client_id": c.ClientID, "type": c.Type})

	return &CreateClientResult{Client: c, ClientSecret: plainSecret}, nil
}

func validateRedirectURIs(grantTypes, uris []string) error {
	needsRedirect := false
	for _, g := range grantTypes {
		if g == core.GrantAuthorizationCode {
			needsRedirect = true
		}
	}
	if needsRedirect && len(uris) == 0 {
		return fmt.Errorf("%w: redirect_uris required for authorization_code", ErrInvalidRequest)
	}
	for _, u := range uris {
		parsed, err := url.Parse(u)
		if err != nil || !parsed.IsAbs() || parsed.Fragment != "" {
			return fmt.Errorf("%w: invalid redirect_uri %q", ErrInvalidRequest, u)
		}
	}
	return nil
}

// GetClient retorna el client por su client_id público.
func (s *Server) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	c, err := s.store.Clients().GetByClientID(ctx, clientID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	return c, nil
}

// ListClients retorna todos los clients registrados.
func (s *Server) ListClients(ctx context.Context) ([]core.Client, error) {
	return s.store.Clients().List(ctx)
}

// UpdateClientInput: campos mutables. Nil/zero = sin cambio.
type UpdateClientInput struct {
	Name         *string
	GrantTypes   []string
	Scopes       []string
	RedirectURIs []string
	TokenTTL     *time.Duration
	RefreshTTL   *time.Duration
}

// UpdateClient aplica cambios sobre un client existente.
func (s *Server) UpdateClient(ctx context.Context, clientID string, in UpdateClientInput) (*core.Client, error) {
	c, err := s.store.Clients().GetByClientID(ctx, clientID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.GrantTypes != nil {
		if len(in.GrantTypes) == 0 {
			return nil, fmt.Errorf("%w: grant_types cannot be emptied", ErrInvalidRequest)
		}
		for _, g := range in.GrantTypes {
			if _, ok := core.KnownGrantTypes[g]; !ok {
				return nil, fmt.Errorf("%w: unknown grant_type %q", ErrInvalidRequest, g)
			}
		}
		c.GrantTypes = in.GrantTypes
	}
	if in.Scopes != nil {
		if _, err := s.scopes.Validate(in.Scopes, nil); err != nil {
			return nil, err
		}
		c.Scopes = in.Scopes
	}
	if in.RedirectURIs != nil {
		if err := validateRedirectURIs(c.GrantTypes, in.RedirectURIs); err != nil {
			return nil, err
		}
		c.RedirectURIs = in.RedirectURIs
	}
	if in.TokenTTL != nil {
		c.TokenTTL = *in.TokenTTL
	}
	if in.RefreshTTL != nil {
		c.RefreshTTL = *in.RefreshTTL
	}
	if err := s.store.Clients().Update(ctx, c); err != nil {
		return nil, ErrServerError
	}
	audit.Log(ctx, "oauth.client.updated", map[string]any{"client_id": clientID})
	return c, nil
}

// RotateClientSecret genera un secret nuevo para un client confidencial.
// El anterior deja de valer de inmediato.
func (s *Server) RotateClientSecret(ctx context.Context, clientID string) (string, error) {
	c, err := s.store.Clients().GetByClientID(ctx, clientID)
	if err != nil {
		return "", ErrInvalidClient
	}
	if c.Type != core.ClientTypeConfidential {
		return "", fmt.Errorf("%w: public clients have no secret", ErrInvalidRequest)
	}
	secret, err := tokens.GenerateOpaque(32)
	if err != nil {
		return "", ErrServerError
	}
	plain := "cws_" + secret
	hash, err := password.Hash(password.Default, plain)
	if err != nil {
		return "", ErrServerError
	}
	c.SecretHash = &hash
	if err := s.store.Clients().Update(ctx, c); err != nil {
		return "", ErrServerError
	}
	audit.Log(ctx, "oauth.client.secret_rotated", map[string]any{"client_id": clientID})
	return plain, nil
}

// DeactivateClient apaga el client y revoca sus refresh tokens vivos.
// Los clients nunca se borran.
func (s *Server) DeactivateClient(ctx context.Context, clientID string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.clients"), logger.Op("DeactivateClient"))

	c, err := s.store.Clients().GetByClientID(ctx, clientID)
	if err != nil {
		return ErrInvalidClient
	}
	c.Active = false
	if err := s.store.Clients().Update(ctx, c); err != nil {
		return ErrServerError
	}
	n, err := s.store.Tokens().RevokeAllForClient(ctx, clientID)
	if err != nil {
		log.Warn("revoking refresh tokens after deactivation failed", logger.Err(err))
	}
	log.Info("client deactivated", logger.ClientID(clientID), logger.Int("tokens_revoked", n))
	audit.Log(ctx, "oauth.client.deactivated", map[string]any{"client_id": clientID, "tokens_revoked": n})
	return nil
}

// verifyClientSecret valida el secret contra el PHC almacenado.
func verifyClientSecret(c *core.Client, secret string) bool {
	if c.SecretHash == nil || secret == "" {
		return false
	}
	return password.Verify(secret, *c.SecretHash)
}
