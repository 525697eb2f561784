package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coverwise/authcore/internal/apikey"
	"github.com/coverwise/authcore/internal/store/core"
)

// KeyHandlers expone la administración de API keys.
type KeyHandlers struct {
	mgr *apikey.Manager
}

func NewKeyHandlers(mgr *apikey.Manager) *KeyHandlers {
	return &KeyHandlers{mgr: mgr}
}

type keyDTO struct {
	ID            string   `json:"id"`
	KeyPrefix     string   `json:"key_prefix"`
	Name          string   `json:"name"`
	ClientID      string   `json:"client_id"`
	Scopes        []string `json:"scopes"`
	RatePerMinute int      `json:"rate_limit_per_minute"`
	AllowedIPs    []string `json:"allowed_ips,omitempty"`
	ParentID      *string  `json:"parent_id,omitempty"`
	ExpiresAt     *string  `json:"expires_at,omitempty"`
	Active        bool     `json:"active"`
	UseCount      int64    `json:"use_count"`
}

func toKeyDTO(k *core.APIKey) keyDTO {
	dto := keyDTO{
		ID:            k.ID,
		KeyPrefix:     k.KeyPrefix,
		Name:          k.Name,
		ClientID:      k.ClientID,
		Scopes:        k.Scopes,
		RatePerMinute: k.RateLimitPerMinute,
		AllowedIPs:    k.AllowedIPs,
		ParentID:      k.ParentID,
		Active:        k.Active,
		UseCount:      k.UseCount,
	}
	if k.ExpiresAt != nil {
		s := k.ExpiresAt.Format(time.RFC3339)
		dto.ExpiresAt = &s
	}
	return dto
}

type createKeyBody struct {
	Name          string   `json:"name"`
	ClientID      string   `json:"client_id"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays int      `json:"expires_in_days"`
	RatePerMinute int      `json:"rate_limit_per_minute"`
	AllowedIPs    []string `json:"allowed_ips"`
}

// CreateKey maneja POST /admin/keys. La key en claro viaja una sola vez.
func (h *KeyHandlers) CreateKey(w http.ResponseWriter, r *http.Request) {
	var body createKeyBody
	if !ReadJSON(w, r, &body) {
		return
	}

	res, err := h.mgr.Create(r.Context(), apikey.CreateInput{
		Name:               body.Name,
		ClientID:           body.ClientID,
		Scopes:             body.Scopes,
		ExpiresInDays:      body.ExpiresInDays,
		RateLimitPerMinute: body.RatePerMinute,
		AllowedIPs:         body.AllowedIPs,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"key":       toKeyDTO(res.Key),
		"plain_key": res.PlainKey,
	})
}

// ListKeys maneja GET /admin/clients/{clientID}/keys.
func (h *KeyHandlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.mgr.ListByClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]keyDTO, 0, len(keys))
	for i := range keys {
		out = append(out, toKeyDTO(&keys[i]))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": out})
}

type revokeBody struct {
	Reason string `json:"reason"`
}

// RevokeKey maneja POST /admin/keys/{id}/revoke.
func (h *KeyHandlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	var body revokeBody
	if !ReadJSON(w, r, &body) {
		return
	}
	if err := h.mgr.Revoke(r.Context(), chi.URLParam(r, "id"), body.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateKey maneja POST /admin/keys/{id}/rotate.
func (h *KeyHandlers) RotateKey(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.Rotate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"key":       toKeyDTO(res.Key),
		"plain_key": res.PlainKey,
	})
}

type scopedKeyBody struct {
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"`
	TTLMinutes int      `json:"ttl_minutes"`
}

// CreateScopedKey maneja POST /admin/keys/{id}/scoped: deriva una key de
// corta vida con scopes subconjunto de la key padre.
func (h *KeyHandlers) CreateScopedKey(w http.ResponseWriter, r *http.Request) {
	var body scopedKeyBody
	if !ReadJSON(w, r, &body) {
		return
	}
	res, err := h.mgr.CreateScoped(r.Context(), chi.URLParam(r, "id"), body.Name,
		body.Scopes, time.Duration(body.TTLMinutes)*time.Minute)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"key":       toKeyDTO(res.Key),
		"plain_key": res.PlainKey,
	})
}

// BulkRevokeKeys maneja POST /admin/clients/{clientID}/keys/revoke-all.
func (h *KeyHandlers) BulkRevokeKeys(w http.ResponseWriter, r *http.Request) {
	var body revokeBody
	if !ReadJSON(w, r, &body) {
		return
	}
	n, err := h.mgr.BulkRevoke(r.Context(), chi.URLParam(r, "clientID"), body.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
