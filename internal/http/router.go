package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coverwise/authcore/internal/apikey"
	"github.com/coverwise/authcore/internal/http/middlewares"
	"github.com/coverwise/authcore/internal/mtls"
	"github.com/coverwise/authcore/internal/oauth"
	"github.com/coverwise/authcore/internal/scope"
	"github.com/coverwise/authcore/internal/store/core"
)

// RouterDeps agrupa lo que el router necesita para armar los endpoints.
type RouterDeps struct {
	OAuth  *oauth.Server
	Keys   *apikey.Manager
	Certs  *mtls.Manager
	Scopes *scope.Registry
	Store  core.Store

	// MetricsHandler opcional; nil deshabilita /metrics.
	MetricsHandler http.Handler
}

// NewRouter arma el árbol de rutas completo.
//
// Los endpoints del protocolo OAuth son públicos (la autenticación del
// client viaja en el form). La API administrativa exige una credencial
// válida con el scope de administración correspondiente.
func NewRouter(d RouterDeps) http.Handler {
	oauthH := NewOAuthHandlers(d.OAuth)
	adminH := NewAdminHandlers(d.OAuth)
	keyH := NewKeyHandlers(d.Keys)
	certH := NewCertHandlers(d.Certs)

	authMW := middlewares.WithAuth(middlewares.AuthDeps{
		Tokens:  d.OAuth,
		Keys:    d.Keys,
		Certs:   d.Certs,
		Clients: d.Store.Clients(),
		Scopes:  d.Scopes,
	})

	r := chi.NewRouter()

	// Protocolo OAuth2 (form-encoded)
	r.HandleFunc("/oauth/token", oauthH.Token)
	r.HandleFunc("/oauth/authorize", oauthH.Authorize)
	r.HandleFunc("/oauth/introspect", oauthH.Introspect)
	r.HandleFunc("/oauth/revoke", oauthH.Revoke)

	// API administrativa (JSON, credencial + scope)
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(authMW)

		clientsMW := middlewares.RequireScope(d.Scopes, "clients:manage")
		keysMW := middlewares.RequireScope(d.Scopes, "keys:manage")
		certsMW := middlewares.RequireScope(d.Scopes, "certs:manage")

		ar.With(clientsMW).Post("/clients", adminH.CreateClient)
		ar.With(clientsMW).Get("/clients", adminH.ListClients)
		ar.With(clientsMW).Get("/clients/{clientID}", adminH.GetClient)
		ar.With(clientsMW).Patch("/clients/{clientID}", adminH.UpdateClient)
		ar.With(clientsMW).Post("/clients/{clientID}/rotate-secret", adminH.RotateClientSecret)
		ar.With(clientsMW).Post("/clients/{clientID}/deactivate", adminH.DeactivateClient)

		ar.With(keysMW).Post("/keys", keyH.CreateKey)
		ar.With(keysMW).Post("/keys/{id}/revoke", keyH.RevokeKey)
		ar.With(keysMW).Post("/keys/{id}/rotate", keyH.RotateKey)
		ar.With(keysMW).Post("/keys/{id}/scoped", keyH.CreateScopedKey)
		ar.With(keysMW).Get("/clients/{clientID}/keys", keyH.ListKeys)
		ar.With(keysMW).Post("/clients/{clientID}/keys/revoke-all", keyH.BulkRevokeKeys)

		ar.With(certsMW).Post("/certs", certH.RegisterCert)
		ar.With(certsMW).Post("/certs/{id}/revoke", certH.RevokeCert)
		ar.With(certsMW).Get("/clients/{clientID}/certs", certH.ListCerts)
		ar.With(certsMW).Post("/clients/{clientID}/csr", certH.IssueCSR)
	})

	// Salud y métricas
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := d.Store.Ping(req.Context()); err != nil {
			WriteError(w, http.StatusServiceUnavailable, "not_ready", "storage unavailable")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	// El stack base envuelve todo el árbol, incluidos 404/405 de chi.
	return middlewares.Chain(r,
		middlewares.WithRecover(),
		middlewares.WithRequestID(),
		middlewares.WithLogging(),
	)
}
