package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coverwise/authcore/internal/apikey"
	"github.com/coverwise/authcore/internal/mtls"
	"github.com/coverwise/authcore/internal/oauth"
	"github.com/coverwise/authcore/internal/store/core"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// WriteError responde un error con el vocabulario de RFC 6749.
func WriteError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:            code,
		ErrorDescription: desc,
		RequestID:        rid,
	})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica JSON de forma tolerante (no falla por campos
// desconocidos). Valida Content-Type y limita el body a 1MB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Content-Type debe ser application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "invalid_request", "json inválido")
		return false
	}
	return true
}

// writeServiceError mapea los sentinels del dominio al status y código
// OAuth que corresponden. El mensaje nunca incluye material secreto.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oauth.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, "invalid_request", trimDesc(err))
	case errors.Is(err, oauth.ErrInvalidClient):
		w.Header().Set("WWW-Authenticate", `Basic realm="authcore"`)
		WriteError(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed")
	case errors.Is(err, oauth.ErrInvalidGrant):
		WriteError(w, http.StatusBadRequest, "invalid_grant", "Invalid or expired grant")
	case errors.Is(err, oauth.ErrInvalidScope):
		WriteError(w, http.StatusBadRequest, "invalid_scope", trimDesc(err))
	case errors.Is(err, oauth.ErrUnauthorizedClient):
		WriteError(w, http.StatusForbidden, "unauthorized_client", "Client not authorized for this grant type")
	case errors.Is(err, oauth.ErrUnsupportedGrantType):
		WriteError(w, http.StatusBadRequest, "unsupported_grant_type", trimDesc(err))
	case errors.Is(err, oauth.ErrUnsupportedResponseType):
		WriteError(w, http.StatusBadRequest, "unsupported_response_type", trimDesc(err))
	case errors.Is(err, oauth.ErrAccessDenied):
		WriteError(w, http.StatusForbidden, "access_denied", trimDesc(err))
	case errors.Is(err, oauth.ErrSlowDown):
		w.Header().Set("Retry-After", "60")
		WriteError(w, http.StatusTooManyRequests, "slow_down", "Too many attempts, retry later")
	case errors.Is(err, oauth.ErrClientMisconfigured):
		WriteError(w, http.StatusInternalServerError, "server_error", "Client configuration incomplete")
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, core.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", "Resource already exists")
	case errors.Is(err, apikey.ErrInvalidKey),
		errors.Is(err, apikey.ErrKeyRevoked),
		errors.Is(err, apikey.ErrKeyExpired):
		WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid API key")
	case errors.Is(err, apikey.ErrScopeDenied):
		WriteError(w, http.StatusForbidden, "insufficient_scope", trimDesc(err))
	case errors.Is(err, apikey.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		WriteError(w, http.StatusTooManyRequests, "slow_down", "Rate limit exceeded")
	case errors.Is(err, mtls.ErrBadCertificate),
		errors.Is(err, mtls.ErrNotYetValid),
		errors.Is(err, mtls.ErrCertExpired),
		errors.Is(err, mtls.ErrDuplicateCert),
		errors.Is(err, mtls.ErrUnknownClientID):
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, mtls.ErrCertRevoked), errors.Is(err, mtls.ErrNotRegistered):
		WriteError(w, http.StatusUnauthorized, "invalid_token", "Certificate rejected")
	default:
		WriteError(w, http.StatusInternalServerError, "server_error", "Internal error")
	}
}

// trimDesc devuelve el mensaje del error sin duplicar el código OAuth que
// ya viaja en el campo error ("invalid_scope: foo" -> "foo").
func trimDesc(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
