package http

import (
	"net/http"
	"strings"

	"github.com/coverwise/authcore/internal/http/middlewares"
	"github.com/coverwise/authcore/internal/metrics"
	"github.com/coverwise/authcore/internal/oauth"
	"github.com/coverwise/authcore/internal/observability/logger"
)

// OAuthHandlers expone los endpoints del protocolo sobre el service.
type OAuthHandlers struct {
	svc *oauth.Server
}

func NewOAuthHandlers(svc *oauth.Server) *OAuthHandlers {
	return &OAuthHandlers{svc: svc}
}

// Token maneja POST /oauth/token (RFC 6749).
func (h *OAuthHandlers) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("oauth.token"))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		WriteError(w, http.StatusMethodNotAllowed, "invalid_request", "Only POST method is allowed")
		return
	}

	// 64KB alcanza para cualquier form OAuth
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		log.Warn("failed to parse form", logger.Err(err))
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid form data")
		return
	}

	form := func(k string) string { return strings.TrimSpace(r.PostForm.Get(k)) }
	req := oauth.TokenRequest{
		GrantType:     form("grant_type"),
		ClientID:      form("client_id"),
		ClientSecret:  form("client_secret"),
		Code:          form("code"),
		RedirectURI:   form("redirect_uri"),
		RefreshToken:  form("refresh_token"),
		Scope:         form("scope"),
		Username:      form("username"),
		Password:      form("password"),
		CodeVerifier:  form("code_verifier"),
		ClientCertPEM: r.Header.Get(middlewares.HeaderClientCert),
	}

	resp, err := h.svc.Token(ctx, req)
	if err != nil {
		metrics.GrantFailure(req.GrantType, oauthErrorCode(err))
		writeServiceError(w, err)
		return
	}
	metrics.TokenIssued(req.GrantType)

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	WriteJSON(w, http.StatusOK, resp)
}

// Authorize maneja GET/POST /oauth/authorize. El principal autenticado
// viene de la capa de login externa en X-Authenticated-User.
func (h *OAuthHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		WriteError(w, http.StatusMethodNotAllowed, "invalid_request", "Method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid form data")
		return
	}

	form := func(k string) string { return strings.TrimSpace(r.Form.Get(k)) }
	userID := strings.TrimSpace(r.Header.Get("X-Authenticated-User"))
	if userID == "" {
		userID = form("user_id")
	}

	req := oauth.AuthorizeRequest{
		ResponseType:        form("response_type"),
		ClientID:            form("client_id"),
		RedirectURI:         form("redirect_uri"),
		Scope:               form("scope"),
		State:               form("state"),
		UserID:              userID,
		CodeChallenge:       form("code_challenge"),
		CodeChallengeMethod: form("code_challenge_method"),
	}

	res, err := h.svc.Authorize(ctx, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, res)
}

// Introspect maneja POST /oauth/introspect (RFC 7662). Nunca falla: un
// token inválido responde {"active": false}.
func (h *OAuthHandlers) Introspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		WriteError(w, http.StatusMethodNotAllowed, "invalid_request", "Only POST method is allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid form data")
		return
	}

	res := h.svc.Introspect(r.Context(),
		strings.TrimSpace(r.PostForm.Get("token")),
		strings.TrimSpace(r.PostForm.Get("token_type_hint")))
	WriteJSON(w, http.StatusOK, res)
}

// Revoke maneja POST /oauth/revoke (RFC 7009). Éxito incondicional para
// cualquier token sintácticamente aceptable.
func (h *OAuthHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		WriteError(w, http.StatusMethodNotAllowed, "invalid_request", "Only POST method is allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid form data")
		return
	}

	if err := h.svc.Revoke(r.Context(), strings.TrimSpace(r.PostForm.Get("token"))); err != nil {
		writeServiceError(w, err)
		return
	}
	metrics.Revocation("token")
	w.WriteHeader(http.StatusOK)
}

// oauthErrorCode reduce un sentinel al código RFC para la métrica.
func oauthErrorCode(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ":"); i >= 0 {
		return msg[:i]
	}
	return msg
}
