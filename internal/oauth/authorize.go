package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jwtx "github.com/coverwise/authcore/internal/jwt"
	"github.com/coverwise/authcore/internal/observability/logger"
	tokens "github.com/coverwise/authcore/internal/security/token"
	"github.com/coverwise/authcore/internal/store/core"
)

// AuthorizeRequest son los parámetros del authorization endpoint.
// UserID es el principal ya autenticado por la capa externa; este core no
// hace login interactivo.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string // space-separated
	State               string
	UserID              string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult es code+state, o tokens directos para el implicit flow.
type AuthorizeResult struct {
	Code        string `json:"code,omitempty"`
	State       string `json:"state,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// authCodePayload es lo que se cachea bajo el hash del code.
type authCodePayload struct {
	ClientID        string    `json:"client_id"`
	UserID          string    `json:"user_id"`
	RedirectURI     string    `json:"redirect_uri"`
	Scopes          []string  `json:"scopes"`
	CodeChallenge   string    `json:"code_challenge,omitempty"`
	ChallengeMethod string    `json:"challenge_method,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Authorize procesa response_type=code (mint de authorization code) o
// response_type=token (implicit, solo clients públicos).
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.authorize"), logger.Op("Authorize"))

	if req.ClientID == "" || req.RedirectURI == "" {
		return nil, fmt.Errorf("%w: client_id and redirect_uri required", ErrInvalidRequest)
	}

	client, err := s.store.Clients().GetByClientID(ctx, req.ClientID)
	if err != nil || !client.Active {
		log.Warn("unknown or inactive client", logger.ClientID(req.ClientID))
		return nil, ErrInvalidClient
	}
	if !redirectURIRegistered(client, req.RedirectURI) {
		log.Warn("redirect_uri not registered", logger.ClientID(req.ClientID))
		return nil, fmt.Errorf("%w: redirect_uri not registered", ErrInvalidRequest)
	}

	requested := strings.Fields(req.Scope)
	expanded, err := s.scopes.Validate(requested, client.Scopes)
	if err != nil {
		return nil, err
	}

	switch req.ResponseType {
	case "code":
		return s.authorizeCode(ctx, client, req, expanded)
	case "token":
		return s.authorizeImplicit(ctx, client, req, expanded)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResponseType, req.ResponseType)
	}
}

func (s *Server) authorizeCode(ctx context.Context, client *core.Client, req AuthorizeRequest, expandedScopes []string) (*AuthorizeResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.authorize"), logger.Op("authorizeCode"))

	if !client.HasGrantType(core.GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient
	}
	if req.UserID == "" {
		// el code representa una delegación de un usuario autenticado
		return nil, fmt.Errorf("%w: authenticated user required", ErrAccessDenied)
	}
	if err := validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, err
	}

	code, err := tokens.GenerateOpaque(32)
	if err != nil {
		return nil, ErrServerError
	}

	now := time.Now().UTC()
	payload := authCodePayload{
		ClientID:        client.ClientID,
		UserID:          req.UserID,
		RedirectURI:     req.RedirectURI,
		Scopes:          expandedScopes,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.codeTTL),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrServerError
	}

	// se cachea bajo el hash: el code en claro nunca toca el storage
	key := codeKeyPrefix + tokens.SHA256Base64URL(code)
	if err := s.cache.Set(ctx, key, string(raw), s.codeTTL); err != nil {
		log.Error("cache set failed", logger.Err(err))
		return nil, ErrServerError
	}

	log.Info("authorization code issued",
		logger.ClientID(client.ClientID),
		logger.UserID(req.UserID),
		logger.Scope(strings.Join(expandedScopes, " ")),
	)
	return &AuthorizeResult{Code: code, State: req.State}, nil
}

// authorizeImplicit emite tokens directos. Solo clients públicos y sin
// refresh token (el implicit flow no los lleva).
func (s *Server) authorizeImplicit(ctx context.Context, client *core.Client, req AuthorizeRequest, expandedScopes []string) (*AuthorizeResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.authorize"), logger.Op("authorizeImplicit"))

	if client.Type != core.ClientTypePublic {
		return nil, fmt.Errorf("%w: implicit flow is public-client only", ErrUnauthorizedClient)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: authenticated user required", ErrAccessDenied)
	}
	if client.TokenTTL <= 0 {
		log.Error("client has no token lifetime configured", logger.ClientID(client.ClientID))
		return nil, ErrClientMisconfigured
	}

	access, ac, err := s.issuer.IssueAccess(client.ClientID, req.UserID, expandedScopes, jwtx.TokenTypeUser, client.TokenTTL)
	if err != nil {
		log.Error("issue access failed", logger.Err(err))
		return nil, ErrServerError
	}

	log.Info("implicit tokens issued", logger.ClientID(client.ClientID), logger.UserID(req.UserID))
	return &AuthorizeResult{
		State:       req.State,
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(ac.Expiry).Seconds()),
		Scope:       strings.Join(expandedScopes, " "),
	}, nil
}

// redirectURIRegistered: match exacto contra el set registrado, sin patterns.
func redirectURIRegistered(c *core.Client, uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}
