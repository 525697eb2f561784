// Package apikey emite y valida API keys opacas.
//
// La key en claro se entrega una sola vez en el alta; después solo existe
// su hash SHA-256. La validación pasa por un hot cache in-process para no
// pegarle al store en cada request.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/coverwise/authcore/internal/audit"
	"github.com/coverwise/authcore/internal/observability/logger"
	"github.com/coverwise/authcore/internal/rate"
	"github.com/coverwise/authcore/internal/scope"
	tokens "github.com/coverwise/authcore/internal/security/token"
	"github.com/coverwise/authcore/internal/store/core"
)

const (
	// keyPrefix identifica las keys de la plataforma en logs y headers.
	keyPrefix = "cwk_"
	// prefixLen chars de la key en claro que se guardan para listados.
	prefixLen = 12

	// maxCacheTTL acota el hot cache: una key revocada puede sobrevivir
	// en cache como máximo esto si el proceso no ve la revocación.
	maxCacheTTL = 24 * time.Hour
)

var (
	ErrInvalidKey   = errors.New("apikey: invalid or unknown key")
	ErrKeyRevoked   = errors.New("apikey: key revoked")
	ErrKeyExpired   = errors.New("apikey: key expired")
	ErrIPNotAllowed = errors.New("apikey: request ip not allowed")
	ErrScopeDenied  = errors.New("apikey: required scope not granted")
	ErrRateLimited  = errors.New("apikey: rate limit exceeded")
)

// Principal es la identidad resuelta de una key válida.
type Principal struct {
	KeyID    string
	ClientID string
	Scopes   []string
}

type Deps struct {
	Store  core.Store
	Scopes *scope.Registry
	// Limiter aplica el presupuesto por minuto de cada key.
	Limiter rate.Limiter
	// CacheTTL del hot cache. Se capea a 24h; <=0 usa 5 minutos.
	CacheTTL time.Duration
}

type Manager struct {
	store   core.Store
	scopes  *scope.Registry
	limiter rate.Limiter

	cacheTTL time.Duration
	hot      *gocache.Cache
}

func NewManager(d Deps) *Manager {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	return &Manager{
		store:    d.Store,
		scopes:   d.Scopes,
		limiter:  d.Limiter,
		cacheTTL: ttl,
		hot:      gocache.New(ttl, 2*ttl),
	}
}

// CreateInput parámetros de alta de una key.
type CreateInput struct {
	Name               string
	ClientID           string
	Scopes             []string
	ExpiresInDays      int // 0 = sin expiración
	RateLimitPerMinute int
	AllowedIPs         []string
}

// CreateResult trae la key en claro exactamente una vez.
type CreateResult struct {
	Key      *core.APIKey
	PlainKey string
}

// Create emite una key nueva. Los scopes se validan contra el registry y
// se expanden a su cierre antes de persistir.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("apikey"), logger.Op("Create"))

	if in.Name == "" || in.ClientID == "" {
		return nil, fmt.Errorf("apikey: name and client_id required")
	}
	expanded, err := m.scopes.Validate(in.Scopes, nil)
	if err != nil {
		return nil, err
	}
	if in.RateLimitPerMinute <= 0 {
		return nil, fmt.Errorf("apikey: rate_limit_per_minute must be positive")
	}

	plain, err := tokens.GenerateOpaque(32)
	if err != nil {
		return nil, err
	}
	plain = keyPrefix + plain

	now := time.Now().UTC()
	k := &core.APIKey{
		ID:                 uuid.NewString(),
		KeyHash:            tokens.SHA256Hex(plain),
		KeyPrefix:          plain[:prefixLen],
		Name:               in.Name,
		ClientID:           in.ClientID,
		Scopes:             expanded,
		RateLimitPerMinute: in.RateLimitPerMinute,
		AllowedIPs:         append([]string(nil), in.AllowedIPs...),
		Active:             true,
		CreatedAt:          now,
	}
	if in.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, in.ExpiresInDays)
		k.ExpiresAt = &exp
	}

	if err := m.store.APIKeys().Create(ctx, k); err != nil {
		log.Error("api key create failed", logger.Err(err))
		return nil, err
	}
	m.cachePut(k)

	log.Info("api key created", logger.KeyID(k.ID), logger.ClientID(k.ClientID))
	audit.Log(ctx, "apikey.created", map[string]any{"key_id": k.ID, "client_id": k.ClientID})
	return &CreateResult{Key: k, PlainKey: plain}, nil
}

// Validate resuelve una key presentada. requiredScope y requestIP son
// opcionales (vacío = no se chequea). El registro de uso es asíncrono y
// nunca falla el request.
func (m *Manager) Validate(ctx context.Context, plain, requiredScope, requestIP string) (*Principal, error) {
	if plain == "" {
		return nil, ErrInvalidKey
	}
	hash := tokens.SHA256Hex(plain)

	k, err := m.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case !k.Active:
		return nil, ErrKeyRevoked
	case k.Expired(now):
		return nil, ErrKeyExpired
	}
	if len(k.AllowedIPs) > 0 && !ipAllowed(k.AllowedIPs, requestIP) {
		return nil, ErrIPNotAllowed
	}
	if requiredScope != "" && !m.scopes.HasPermission(k.Scopes, requiredScope) {
		return nil, ErrScopeDenied
	}

	if m.limiter != nil {
		res, lerr := m.limiter.Allow(ctx, "apikey:"+k.ID, int64(k.RateLimitPerMinute))
		if lerr != nil {
			logger.From(ctx).Warn("api key rate limiter unavailable", logger.Err(lerr))
		} else if !res.Allowed {
			return nil, ErrRateLimited
		}
	}

	m.recordUsageAsync(ctx, k.ID)

	return &Principal{
		KeyID:    k.ID,
		ClientID: k.ClientID,
		Scopes:   append([]string(nil), k.Scopes...),
	}, nil
}

// Revoke desactiva una key e invalida el hot cache.
func (m *Manager) Revoke(ctx context.Context, id, reason string) error {
	k, err := m.store.APIKeys().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.APIKeys().Revoke(ctx, id, reason); err != nil {
		return err
	}
	m.hot.Delete(k.KeyHash)

	audit.Log(ctx, "apikey.revoked", map[string]any{"key_id": id, "reason": reason})
	return nil
}

// Rotate revoca la key vieja y emite una nueva con la misma configuración.
// La nueva hereda nombre, client, scopes, límites y la expiración restante.
func (m *Manager) Rotate(ctx context.Context, id string) (*CreateResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("apikey"), logger.Op("Rotate"))

	old, err := m.store.APIKeys().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !old.Active {
		return nil, ErrKeyRevoked
	}

	plain, err := tokens.GenerateOpaque(32)
	if err != nil {
		return nil, err
	}
	plain = keyPrefix + plain

	next := &core.APIKey{
		ID:                 uuid.NewString(),
		KeyHash:            tokens.SHA256Hex(plain),
		KeyPrefix:          plain[:prefixLen],
		Name:               old.Name,
		ClientID:           old.ClientID,
		Scopes:             append([]string(nil), old.Scopes...),
		RateLimitPerMinute: old.RateLimitPerMinute,
		AllowedIPs:         append([]string(nil), old.AllowedIPs...),
		ExpiresAt:          old.ExpiresAt,
		Active:             true,
		CreatedAt:          time.Now().UTC(),
	}
	// Un solo paso en el store: o la vieja queda revocada y la nueva
	// persistida, o nada. Dos rotaciones concurrentes: una recibe conflict.
	if err := m.store.APIKeys().Rotate(ctx, old.ID, "rotated", next); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, ErrKeyRevoked
		}
		log.Error("rotate failed", logger.Err(err), logger.KeyID(old.ID))
		return nil, err
	}
	m.hot.Delete(old.KeyHash)
	m.cachePut(next)

	log.Info("api key rotated", logger.KeyID(old.ID), logger.String("new_key_id", next.ID))
	audit.Log(ctx, "apikey.rotated", map[string]any{"old_key_id": old.ID, "new_key_id": next.ID})
	return &CreateResult{Key: next, PlainKey: plain}, nil
}

// CreateScoped deriva una key de corta vida a partir de una key padre.
// Los scopes pedidos tienen que ser subconjunto (transitivo) de los del
// padre; la expiración nunca supera la del padre.
func (m *Manager) CreateScoped(ctx context.Context, parentID, name string, scopes []string, ttl time.Duration) (*CreateResult, error) {
	parent, err := m.store.APIKeys().GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !parent.Active {
		return nil, ErrKeyRevoked
	}
	if parent.Expired(now) {
		return nil, ErrKeyExpired
	}
	if !m.scopes.Subset(scopes, parent.Scopes) {
		return nil, fmt.Errorf("%w: derived key cannot exceed parent scopes", ErrScopeDenied)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	exp := now.Add(ttl)
	if parent.ExpiresAt != nil && exp.After(*parent.ExpiresAt) {
		exp = *parent.ExpiresAt
	}

	plain, err := tokens.GenerateOpaque(32)
	if err != nil {
		return nil, err
	}
	plain = keyPrefix + plain

	k := &core.APIKey{
		ID:                 uuid.NewString(),
		KeyHash:            tokens.SHA256Hex(plain),
		KeyPrefix:          plain[:prefixLen],
		Name:               name,
		ClientID:           parent.ClientID,
		Scopes:             m.scopes.Expand(scopes),
		RateLimitPerMinute: parent.RateLimitPerMinute,
		AllowedIPs:         append([]string(nil), parent.AllowedIPs...),
		ParentID:           &parent.ID,
		ExpiresAt:          &exp,
		Active:             true,
		CreatedAt:          now,
	}
	if err := m.store.APIKeys().Create(ctx, k); err != nil {
		return nil, err
	}
	m.cachePut(k)

	audit.Log(ctx, "apikey.scoped_created", map[string]any{"key_id": k.ID, "parent_id": parent.ID})
	return &CreateResult{Key: k, PlainKey: plain}, nil
}

// BulkRevoke desactiva todas las keys activas de un client.
func (m *Manager) BulkRevoke(ctx context.Context, clientID, reason string) (int, error) {
	keys, err := m.store.APIKeys().ListByClient(ctx, clientID)
	if err != nil {
		return 0, err
	}
	n, err := m.store.APIKeys().RevokeAllForClient(ctx, clientID, reason)
	if err != nil {
		return 0, err
	}
	for i := range keys {
		m.hot.Delete(keys[i].KeyHash)
	}
	audit.Log(ctx, "apikey.bulk_revoked", map[string]any{"client_id": clientID, "count": n, "reason": reason})
	return n, nil
}

// ListByClient lista la metadata de las keys de un client (sin secretos).
func (m *Manager) ListByClient(ctx context.Context, clientID string) ([]core.APIKey, error) {
	return m.store.APIKeys().ListByClient(ctx, clientID)
}

// lookup resuelve hash → key, cache primero.
func (m *Manager) lookup(ctx context.Context, hash string) (*core.APIKey, error) {
	if v, ok := m.hot.Get(hash); ok {
		return v.(*core.APIKey), nil
	}
	k, err := m.store.APIKeys().GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}
	m.cachePut(k)
	return k, nil
}

// cachePut guarda la key con TTL acotado por su expiración.
func (m *Manager) cachePut(k *core.APIKey) {
	ttl := m.cacheTTL
	if k.ExpiresAt != nil {
		if rem := time.Until(*k.ExpiresAt); rem < ttl {
			ttl = rem
		}
	}
	if ttl <= 0 {
		return
	}
	m.hot.Set(k.KeyHash, k, ttl)
}

// recordUsageAsync registra uso en background; el request no espera.
func (m *Manager) recordUsageAsync(ctx context.Context, id string) {
	log := logger.From(ctx)
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.APIKeys().RecordUsage(bg, id, time.Now().UTC()); err != nil {
			log.Warn("api key usage record failed", logger.KeyID(id), logger.Err(err))
		}
	}()
}

func ipAllowed(allowed []string, ip string) bool {
	for _, a := range allowed {
		if a == ip {
			return true
		}
	}
	return false
}
