package core

import (
	"context"
	"time"
)

// Store agrupa los repositorios del core. Los adapters (pg, memory) proveen
// la única serialización entre requests concurrentes: no hay locks cross-
// request fuera del store y el cache.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	Clients() ClientRepository
	Tokens() RefreshTokenRepository
	APIKeys() APIKeyRepository
	Certificates() CertificateRepository
	Users() UserRepository
}

type ClientRepository interface {
	Create(ctx context.Context, c *Client) error
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	List(ctx context.Context) ([]Client, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, rt *RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Revoke marca revoked_at si aún no lo está. Idempotente.
	Revoke(ctx context.Context, id string) error
	// Rotate marca el token viejo como revocado y persiste el nuevo en el
	// mismo paso lógico. Si el viejo ya estaba revocado retorna ErrConflict
	// y el nuevo NO se persiste (la revocación es la señal de commit).
	Rotate(ctx context.Context, oldID string, next *RefreshToken) error
	RevokeAllForClient(ctx context.Context, clientID string) (int, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, k *APIKey) error
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	GetByID(ctx context.Context, id string) (*APIKey, error)
	ListByClient(ctx context.Context, clientID string) ([]APIKey, error)
	Revoke(ctx context.Context, id, reason string) error
	// Rotate revoca la key vieja y persiste la nueva en un solo paso
	// atómico. ErrConflict si la vieja ya no está activa.
	Rotate(ctx context.Context, oldID, reason string, next *APIKey) error
	RevokeAllForClient(ctx context.Context, clientID, reason string) (int, error)
	// RecordUsage incrementa use_count y actualiza last_used_at.
	// Best-effort: los callers no deben propagar su error al request.
	RecordUsage(ctx context.Context, id string, at time.Time) error
}

type CertificateRepository interface {
	Create(ctx context.Context, c *ClientCertificate) error
	GetByID(ctx context.Context, id string) (*ClientCertificate, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*ClientCertificate, error)
	ListByClient(ctx context.Context, clientID string) ([]ClientCertificate, error)
	Revoke(ctx context.Context, id, reason string) error
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
}
