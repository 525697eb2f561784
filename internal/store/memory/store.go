// Package memory implementa core.Store con maps en memoria.
// Mismas semánticas que el adapter pg (incluida la rotación atómica);
// se usa en tests y en modo dev sin base de datos.
package memory

import (
	"context"
	"sync"

	"github.com/coverwise/authcore/internal/store/core"
)

type Store struct {
	mu      sync.Mutex
	clients map[string]*core.Client            // por client_id
	tokens  map[string]*core.RefreshToken      // por id
	apikeys map[string]*core.APIKey            // por id
	certs   map[string]*core.ClientCertificate // por id
	users   map[string]*core.User              // por email
}

func New() *Store {
	return &Store{
		clients: make(map[string]*core.Client),
		tokens:  make(map[string]*core.RefreshToken),
		apikeys: make(map[string]*core.APIKey),
		certs:   make(map[string]*core.ClientCertificate),
		users:   make(map[string]*core.User),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

func (s *Store) Clients() core.ClientRepository          { return (*clientRepo)(s) }
func (s *Store) Tokens() core.RefreshTokenRepository     { return (*tokenRepo)(s) }
func (s *Store) APIKeys() core.APIKeyRepository          { return (*apiKeyRepo)(s) }
func (s *Store) Certificates() core.CertificateRepository { return (*certRepo)(s) }
func (s *Store) Users() core.UserRepository              { return (*userRepo)(s) }
