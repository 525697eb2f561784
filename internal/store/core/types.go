package core

import "time"

type ClientType string

const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// Grant types soportados por el token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
)

// KnownGrantTypes es el set cerrado de grant types registrables.
var KnownGrantTypes = map[string]struct{}{
	GrantAuthorizationCode: {},
	GrantRefreshToken:      {},
	GrantClientCredentials: {},
	GrantPassword:          {},
}

// Client es un OAuth client registrado. Nunca se borra, solo se desactiva.
type Client struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id"`
	Name         string     `json:"name"`
	Type         ClientType `json:"client_type"`
	SecretHash   *string    `json:"-"` // solo confidential; PHC argon2id
	GrantTypes   []string   `json:"grant_types"`
	Scopes       []string   `json:"scopes"`
	RedirectURIs []string   `json:"redirect_uris"`
	// TokenTTL es obligatorio para emitir tokens: sin valor configurado la
	// emisión falla, no hay default implícito.
	TokenTTL   time.Duration `json:"token_ttl"`
	RefreshTTL time.Duration `json:"refresh_ttl"`
	Active     bool          `json:"active"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// HasGrantType verifica pertenencia exacta (sin defaults por lista vacía).
func (c *Client) HasGrantType(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// RefreshToken se persiste solo como hash; el valor opaco vive en el cliente.
type RefreshToken struct {
	ID          string
	ClientID    string
	UserID      string // vacío para grants sin usuario
	TokenHash   string // sha256 base64url del token opaco
	Scopes      []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RotatedFrom *string
	RevokedAt   *time.Time
}

// APIKey se persiste solo como hash; el plaintext se retorna una única vez.
type APIKey struct {
	ID                 string
	KeyHash            string // sha256 hex
	KeyPrefix          string // primeros chars para identificación en listados
	Name               string
	ClientID           string
	Scopes             []string
	RateLimitPerMinute int
	AllowedIPs         []string
	ParentID           *string // set para keys derivadas (CreateScoped)
	ExpiresAt          *time.Time
	Active             bool
	RevokedReason      *string
	UseCount           int64
	LastUsedAt         *time.Time
	CreatedAt          time.Time
}

// Expired evalúa la expiración contra now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// ClientCertificate es un cert X.509 registrado para mTLS.
// Un client puede tener varios; cada uno se revoca de forma independiente.
type ClientCertificate struct {
	ID            string
	ClientID      string
	Fingerprint   string // sha256 hex del DER, único
	Name          string
	SubjectDN     string
	IssuerDN      string
	NotBefore     time.Time
	NotAfter      time.Time
	RevokedAt     *time.Time
	RevokedReason *string
	RegisteredBy  string
	CreatedAt     time.Time
}

// User es el resource owner mínimo para el password grant.
type User struct {
	ID           string
	Email        string
	PasswordHash *string // PHC argon2id
	Active       bool
	CreatedAt    time.Time
}
