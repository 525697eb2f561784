package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coverwise/authcore/internal/oauth"
	"github.com/coverwise/authcore/internal/store/core"
)

// AdminHandlers expone la API administrativa de clients, keys y certs.
type AdminHandlers struct {
	svc *oauth.Server
}

func NewAdminHandlers(svc *oauth.Server) *AdminHandlers {
	return &AdminHandlers{svc: svc}
}

type clientDTO struct {
	ClientID     string   `json:"client_id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       []string `json:"scopes"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	TokenTTLSecs int64    `json:"token_ttl_seconds"`
	RefreshSecs  int64    `json:"refresh_ttl_seconds,omitempty"`
	Active       bool     `json:"active"`
	CreatedAt    string   `json:"created_at"`
}

func toClientDTO(c *core.Client) clientDTO {
	return clientDTO{
		ClientID:     c.ClientID,
		Name:         c.Name,
		Type:         string(c.Type),
		GrantTypes:   c.GrantTypes,
		Scopes:       c.Scopes,
		RedirectURIs: c.RedirectURIs,
		TokenTTLSecs: int64(c.TokenTTL.Seconds()),
		RefreshSecs:  int64(c.RefreshTTL.Seconds()),
		Active:       c.Active,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
	}
}

type createClientBody struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	GrantTypes     []string `json:"grant_types"`
	Scopes         []string `json:"scopes"`
	RedirectURIs   []string `json:"redirect_uris"`
	TokenTTLSecs   int64    `json:"token_ttl_seconds"`
	RefreshTTLSecs int64    `json:"refresh_ttl_seconds"`
}

// CreateClient maneja POST /admin/clients. El secret viaja en la respuesta
// una sola vez.
func (h *AdminHandlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	var body createClientBody
	if !ReadJSON(w, r, &body) {
		return
	}

	res, err := h.svc.CreateClient(r.Context(), oauth.CreateClientInput{
		Name:         body.Name,
		Type:         core.ClientType(body.Type),
		GrantTypes:   body.GrantTypes,
		Scopes:       body.Scopes,
		RedirectURIs: body.RedirectURIs,
		TokenTTL:     time.Duration(body.TokenTTLSecs) * time.Second,
		RefreshTTL:   time.Duration(body.RefreshTTLSecs) * time.Second,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"client":        toClientDTO(res.Client),
		"client_secret": res.ClientSecret,
	})
}

// ListClients maneja GET /admin/clients.
func (h *AdminHandlers) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.svc.ListClients(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]clientDTO, 0, len(clients))
	for i := range clients {
		out = append(out, toClientDTO(&clients[i]))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"clients": out})
}

// GetClient maneja GET /admin/clients/{clientID}.
func (h *AdminHandlers) GetClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "Unknown client")
		return
	}
	WriteJSON(w, http.StatusOK, toClientDTO(c))
}

type updateClientBody struct {
	Name           *string  `json:"name"`
	GrantTypes     []string `json:"grant_types"`
	Scopes         []string `json:"scopes"`
	RedirectURIs   []string `json:"redirect_uris"`
	TokenTTLSecs   *int64   `json:"token_ttl_seconds"`
	RefreshTTLSecs *int64   `json:"refresh_ttl_seconds"`
}

// UpdateClient maneja PATCH /admin/clients/{clientID}.
func (h *AdminHandlers) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var body updateClientBody
	if !ReadJSON(w, r, &body) {
		return
	}

	in := oauth.UpdateClientInput{
		Name:         body.Name,
		GrantTypes:   body.GrantTypes,
		Scopes:       body.Scopes,
		RedirectURIs: body.RedirectURIs,
	}
	if body.TokenTTLSecs != nil {
		d := time.Duration(*body.TokenTTLSecs) * time.Second
		in.TokenTTL = &d
	}
	if body.RefreshTTLSecs != nil {
		d := time.Duration(*body.RefreshTTLSecs) * time.Second
		in.RefreshTTL = &d
	}

	c, err := h.svc.UpdateClient(r.Context(), chi.URLParam(r, "clientID"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toClientDTO(c))
}

// RotateClientSecret maneja POST /admin/clients/{clientID}/rotate-secret.
func (h *AdminHandlers) RotateClientSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.svc.RotateClientSecret(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"client_secret": secret})
}

// DeactivateClient maneja POST /admin/clients/{clientID}/deactivate.
func (h *AdminHandlers) DeactivateClient(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateClient(r.Context(), chi.URLParam(r, "clientID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
