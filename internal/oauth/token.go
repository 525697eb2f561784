package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coverwise/authcore/internal/cache"
	jwtx "github.com/coverwise/authcore/internal/jwt"
	"github.com/coverwise/authcore/internal/observability/logger"
	"github.com/coverwise/authcore/internal/security/password"
	tokens "github.com/coverwise/authcore/internal/security/token"
	"github.com/coverwise/authcore/internal/store/core"
	"go.uber.org/zap"
)

// TokenRequest son los form params del token endpoint.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	RefreshToken string
	Scope        string
	Username     string
	Password     string
	CodeVerifier string
	// ClientCertPEM: PEM forwardeado por el proxy para clients cert-bound.
	ClientCertPEM string
}

// Token despacha al grant handler que corresponda. La autenticación del
// client pasa primero; la única excepción es el client público en el
// exchange de authorization_code, que no tiene secret.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.token"), logger.GrantType(req.GrantType))

	if req.GrantType == "" {
		return nil, fmt.Errorf("%w: grant_type required", ErrInvalidRequest)
	}
	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id required", ErrInvalidRequest)
	}

	client, err := s.store.Clients().GetByClientID(ctx, req.ClientID)
	if err != nil || !client.Active {
		log.Warn("unknown or inactive client", logger.ClientID(req.ClientID))
		return nil, ErrInvalidClient
	}

	if _, known := core.KnownGrantTypes[req.GrantType]; !known {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	}
	if !client.HasGrantType(req.GrantType) {
		log.Warn("grant_type not allowed for client", logger.ClientID(req.ClientID))
		return nil, ErrUnauthorizedClient
	}

	if err := s.authenticateClient(ctx, client, req); err != nil {
		return nil, err
	}

	switch req.GrantType {
	case core.GrantAuthorizationCode:
		return s.grantAuthorizationCode(ctx, client, req)
	case core.GrantRefreshToken:
		return s.grantRefreshToken(ctx, client, req)
	case core.GrantClientCredentials:
		return s.grantClientCredentials(ctx, client, req)
	case core.GrantPassword:
		return s.grantPassword(ctx, client, req)
	default:
		return nil, ErrUnsupportedGrantType
	}
}

// authenticateClient: confidential exige secret o cert válido; public pasa
// sin secret solo en el exchange de authorization_code y refresh.
func (s *Server) authenticateClient(ctx context.Context, client *core.Client, req TokenRequest) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.token"), logger.Op("authenticateClient"))

	if client.Type == core.ClientTypePublic {
		switch req.GrantType {
		case core.GrantAuthorizationCode, core.GrantRefreshToken:
			return nil
		default:
			// un client público no puede usar grants que requieren secret
			return ErrUnauthorizedClient
		}
	}

	if req.ClientSecret != "" {
		if !verifyClientSecret(client, req.ClientSecret) {
			log.Warn("client secret mismatch", logger.ClientID(client.ClientID))
			return ErrInvalidClient
		}
		return nil
	}

	if req.ClientCertPEM != "" && s.certs != nil {
		if _, err := s.certs.Validate(ctx, client.ClientID, req.ClientCertPEM); err != nil {
			log.Warn("client certificate rejected", logger.ClientID(client.ClientID))
			return ErrInvalidClient
		}
		return nil
	}

	return fmt.Errorf("%w: client authentication required", ErrInvalidClient)
}

// checkGrantRate aplica el rate limit uniforme por client a los grants que
// llevan credenciales adivinables (password, client_credentials).
func (s *Server) checkGrantRate(ctx context.Context, clientID, grant string) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Allow(ctx, "grant:"+grant+":"+clientID, s.grantRateLimit)
	if err != nil {
		// el limiter caído no bloquea la emisión; se loguea y sigue
		logger.From(ctx).Warn("grant rate limiter unavailable", logger.Err(err))
		return nil
	}
	if !res.Allowed {
		return ErrSlowDown
	}
	return nil
}

func (s *Server) grantAuthorizationCode(ctx context.Context, client *core.Client, req TokenRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.token"), logger.Op("authorization_code"))

	if req.Code == "" || req.RedirectURI == "" {
		return nil, fmt.Errorf("%w: code and redirect_uri required", ErrInvalidRequest)
	}

	// Consumo one-shot: TakeDelete es atómico, dos exchanges concurrentes
	// del mismo code dejan exactamente uno con el payload.
	key := codeKeyPrefix + tokens.SHA256Base64URL(req.Code)
	raw, err := s.cache.TakeDelete(ctx, key)
	if err != nil {
		if !cache.IsNotFound(err) {
			log.Error("cache error consuming code", logger.Err(err))
			return nil, ErrServerError
		}
		log.Warn("authorization code not found", logger.ClientID(client.ClientID))
		return nil, ErrInvalidGrant
	}

	var payload authCodePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Warn("authorization code corrupted", logger.Err(err))
		return nil, ErrInvalidGrant
	}
	if time.Now().UTC().After(payload.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if payload.ClientID != client.ClientID || payload.RedirectURI != req.RedirectURI {
		log.Warn("client/redirect_uri mismatch on exchange", logger.ClientID(client.ClientID))
		return nil, ErrInvalidGrant
	}
	if err := verifyPKCE(payload.CodeChallenge, payload.ChallengeMethod, req.CodeVerifier); err != nil {
		log.Warn("pkce verification failed", logger.ClientID(client.ClientID))
		return nil, err
	}

	if client.TokenTTL <= 0 {
		log.Error("client has no token lifetime configured", logger.ClientID(client.ClientID))
		return nil, ErrClientMisconfigured
	}

	access, ac, err := s.issuer.IssueAccess(client.ClientID, payload.UserID, payload.Scopes, jwtx.TokenTypeUser, client.TokenTTL)
	if err != nil {
		log.Error("issue access failed", logger.Err(err))
		return nil, ErrServerError
	}
	rawRT, err := s.createRefreshToken(ctx, client, payload.UserID, payload.Scopes)
	if err != nil {
		log.Error("create refresh token failed", logger.Err(err))
		return nil, ErrServerError
	}

	log.Info("authorization_code exchanged",
		logger.ClientID(client.ClientID),
		logger.UserID(payload.UserID),
		logger.JTI(ac.JTI),
	)
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(ac.Expiry).Seconds()),
		Scope:        strings.Join(payload.Scopes, " "),
		RefreshToken: rawRT,
	}, nil
}

func (s *Server) grantRefreshToken(ctx context.Context, client *core.Client, req TokenRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.token"), logger.Op("refresh_token"))

	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token required", ErrInvalidRequest)
	}

	hash := tokens.SHA256Base64URL(req.RefreshToken)
	rt, err := s.store.Tokens().GetByHash(ctx, hash)
	if err != nil {
		log.Warn("refresh token not found")
		return nil, ErrInvalidGrant
	}

	now := time.Now().UTC()
	if rt.RevokedAt != nil || !now.Before(rt.ExpiresAt) || rt.ClientID != client.ClientID {
		log.Warn("refresh token revoked/expired/mismatched", logger.ClientID(client.ClientID))
		return nil, ErrInvalidGrant
	}

	// El pedido puede achicar el scope original, nunca ampliarlo.
	grantScopes := rt.Scopes
	if req.Scope != "" {
		requested := strings.Fields(req.Scope)
		if !s.scopes.Subset(requested, rt.Scopes) {
			return nil, fmt.Errorf("%w: refresh cannot widen scope", ErrInvalidScope)
		}
		grantScopes = s.scopes.Expand(requested)
	}

	if client.TokenTTL <= 0 {
		log.Error("client has no token lifetime configured", logger.ClientID(client.ClientID))
		return nil, ErrClientMisconfigured
	}

	typ := jwtx.TokenTypeUser
	if rt.UserID == "" {
		typ = jwtx.TokenTypeClient
	}
	access, ac, err := s.issuer.IssueAccess(client.ClientID, rt.UserID, grantScopes, typ, client.TokenTTL)
	if err != nil {
		log.Error("issue access failed", logger.Err(err))
		return nil, ErrServerError
	}

	// Rotación: revocar el viejo y persistir el nuevo es un solo paso
	// lógico en el store; el conflicto significa doble uso del token.
	newRaw, newRT, err := s.buildRefreshToken(client, rt.UserID, grantScopes)
	if err != nil {
		return nil, ErrServerError
	}
	if err := s.store.Tokens().Rotate(ctx, rt.ID, newRT); err != nil {
		if errors.Is(err, core.ErrConflict) {
			log.Warn("refresh token replay detected", logger.ClientID(client.ClientID))
			return nil, ErrInvalidGrant
		}
		log.Error("rotate failed", logger.Err(err))
		return nil, ErrServerError
	}

	log.Info("refresh_token rotated",
		logger.ClientID(client.ClientID),
		zap.String("old_id", rt.ID),
		zap.String("new_id", newRT.ID),
		logger.JTI(ac.JTI),
	)
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(ac.Expiry).Seconds()),
		Scope:        strings.Join(grantScopes, " "),
		RefreshToken: newRaw,
	}, nil
}

func (s *Server) grantClientCredentials(ctx context.Context, client *core.Client, req TokenRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.token"), logger.Op("client_credentials"))

	if err := s.checkGrantRate(ctx, client.ClientID, core.GrantClientCredentials); err != nil {
		return nil, err
	}

	// scope explícito, sin defaults
	requested := strings.Fields(req.Scope)
	expanded, err := s.scopes.Validate(requested, client.Scopes)
	if err != nil {
		return nil, err
	}
	if s.scopes.RequiresUser(requested) {
		return nil, fmt.Errorf("%w: requested scope requires a user principal", ErrInvalidScope)
	}

	if client.TokenTTL <= 0 {
		log.Error("client has no token lifetime configured", logger.ClientID(client.ClientID))
		return nil, ErrClientMisconfigured
	}

	access, ac, err := s.issuer.IssueAccess(client.ClientID, "", expanded, jwtx.TokenTypeClient, client.TokenTTL)
	if err != nil {
		log.Error("issue access failed", logger.Err(err))
		return nil, ErrServerError
	}

	log.Info("client_credentials token issued", logger.ClientID(client.ClientID), logger.JTI(ac.JTI))
	// sin refresh token en M2M: el client puede pedir otro cuando quiera
	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(ac.Expiry).Seconds()),
		Scope:       strings.Join(expanded, " "),
	}, nil
}

func (s *Server) grantPassword(ctx context.Context, client *core.Client, req TokenRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.token"), logger.Op("password"))

	if err := s.checkGrantRate(ctx, client.ClientID, core.GrantPassword); err != nil {
		return nil, err
	}
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password required", ErrInvalidRequest)
	}

	requested := strings.Fields(req.Scope)
	expanded, err := s.scopes.Validate(requested, client.Scopes)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Users().GetByEmail(ctx, req.Username)
	if err != nil || !user.Active || user.PasswordHash == nil {
		log.Warn("resource owner auth failed", logger.ClientID(client.ClientID))
		return nil, ErrInvalidGrant
	}
	if !password.Verify(req.Password, *user.PasswordHash) {
		log.Warn("resource owner auth failed", logger.ClientID(client.ClientID))
		return nil, ErrInvalidGrant
	}

	if client.TokenTTL <= 0 {
		log.Error("client has no token lifetime configured", logger.ClientID(client.ClientID))
		return nil, ErrClientMisconfigured
	}

	access, ac, err := s.issuer.IssueAccess(client.ClientID, user.ID, expanded, jwtx.TokenTypeUser, client.TokenTTL)
	if err != nil {
		log.Error("issue access failed", logger.Err(err))
		return nil, ErrServerError
	}
	rawRT, err := s.createRefreshToken(ctx, client, user.ID, expanded)
	if err != nil {
		log.Error("create refresh token failed", logger.Err(err))
		return nil, ErrServerError
	}

	log.Info("password grant token issued", logger.ClientID(client.ClientID), logger.UserID(user.ID), logger.JTI(ac.JTI))
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(ac.Expiry).Seconds()),
		Scope:        strings.Join(expanded, " "),
		RefreshToken: rawRT,
	}, nil
}

// buildRefreshToken arma el record nuevo (sin persistir) y retorna el opaco.
func (s *Server) buildRefreshToken(client *core.Client, userID string, scopes []string) (string, *core.RefreshToken, error) {
	raw, err := tokens.GenerateOpaque(32)
	if err != nil {
		return "", nil, err
	}
	ttl := client.RefreshTTL
	if ttl <= 0 {
		ttl = s.refreshTTL
	}
	now := time.Now().UTC()
	rt := &core.RefreshToken{
		ID:        uuid.NewString(),
		ClientID:  client.ClientID,
		UserID:    userID,
		TokenHash: tokens.SHA256Base64URL(raw),
		Scopes:    append([]string(nil), scopes...),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return raw, rt, nil
}

func (s *Server) createRefreshToken(ctx context.Context, client *core.Client, userID string, scopes []string) (string, error) {
	raw, rt, err := s.buildRefreshToken(client, userID, scopes)
	if err != nil {
		return "", err
	}
	if err := s.store.Tokens().Create(ctx, rt); err != nil {
		return "", err
	}
	return raw, nil
}
