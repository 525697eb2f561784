package oauth

import (
	"errors"

	"github.com/coverwise/authcore/internal/scope"
)

// Errores del protocolo (RFC 6749 §5.2 / §4.1.2.1). El http layer los mapea
// 1:1 al campo "error" de la respuesta; los mensajes nunca incluyen material
// secreto.
var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInvalidClient  = errors.New("invalid_client")
	ErrInvalidGrant   = errors.New("invalid_grant")
	// Mismo sentinel que usa el registry: un rechazo de scopes matchea
	// errors.Is sin importar en qué capa se originó.
	ErrInvalidScope            = scope.ErrInvalidScope
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrAccessDenied            = errors.New("access_denied")
	ErrServerError             = errors.New("server_error")

	// ErrSlowDown: rate limit del token endpoint (password/client_credentials).
	ErrSlowDown = errors.New("slow_down")

	// ErrClientMisconfigured: el client no tiene token lifetime configurado.
	// No hay default implícito; la emisión falla en vez de inventar un TTL.
	ErrClientMisconfigured = errors.New("client_misconfigured")
)
