// Package bootstrap siembra el client administrativo inicial.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/coverwise/authcore/internal/oauth"
	"github.com/coverwise/authcore/internal/observability/logger"
	"github.com/coverwise/authcore/internal/store/core"
)

// AdminConfig configura el alta del client admin de arranque.
type AdminConfig struct {
	OAuth *oauth.Server
	Store core.Store

	// Name del client admin; vacío usa el default.
	Name string
	// Scopes administrativos; vacío usa el set de administración completo.
	Scopes []string
}

// CheckAndCreateAdminClient crea el client administrativo si el sistema no
// tiene ningún client registrado todavía. El secret se imprime por stdout
// UNA vez: es el único momento en que existe en claro.
func CheckAndCreateAdminClient(ctx context.Context, cfg AdminConfig) error {
	log := logger.Named("bootstrap")

	clients, err := cfg.Store.Clients().List(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list clients: %w", err)
	}
	if len(clients) > 0 {
		log.Debug("clients already registered, skipping bootstrap")
		return nil
	}

	name := cfg.Name
	if name == "" {
		name = "authcore-admin"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"clients:manage", "keys:manage", "certs:manage"}
	}

	res, err := cfg.OAuth.CreateClient(ctx, oauth.CreateClientInput{
		Name:       name,
		Type:       core.ClientTypeConfidential,
		GrantTypes: []string{core.GrantClientCredentials},
		Scopes:     scopes,
		TokenTTL:   15 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: create admin client: %w", err)
	}

	log.Info("admin client created", logger.ClientID(res.Client.ClientID))

	// único lugar donde el secret toca una salida humana
	fmt.Printf("\n== bootstrap: admin client created ==\n")
	fmt.Printf("client_id:     %s\n", res.Client.ClientID)
	fmt.Printf("client_secret: %s\n", res.ClientSecret)
	fmt.Printf("Guardá el secret ahora: no se puede recuperar después.\n\n")
	return nil
}
