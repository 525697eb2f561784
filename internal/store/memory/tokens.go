package memory

import (
	"context"
	"time"

	"github.com/coverwise/authcore/internal/store/core"
)

type tokenRepo Store

func (r *tokenRepo) Create(ctx context.Context, rt *core.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[rt.ID]; exists {
		return core.ErrConflict
	}
	cp := *rt
	r.tokens[rt.ID] = &cp
	return nil
}

func (r *tokenRepo) GetByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.tokens {
		if rt.TokenHash == tokenHash {
			cp := *rt
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *tokenRepo) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tokens[id]
	if !ok {
		return core.ErrNotFound
	}
	if rt.RevokedAt == nil {
		now := time.Now().UTC()
		rt.RevokedAt = &now
	}
	return nil
}

// Rotate revoca el viejo y persiste el nuevo bajo el mismo lock. Si el viejo
// ya estaba revocado (doble uso concurrente) gana exactamente un caller.
func (r *tokenRepo) Rotate(ctx context.Context, oldID string, next *core.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.tokens[oldID]
	if !ok {
		return core.ErrNotFound
	}
	if old.RevokedAt != nil {
		return core.ErrConflict
	}
	now := time.Now().UTC()
	old.RevokedAt = &now
	cp := *next
	cp.RotatedFrom = &old.ID
	r.tokens[next.ID] = &cp
	return nil
}

func (r *tokenRepo) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, rt := range r.tokens {
		if rt.ClientID == clientID && rt.RevokedAt == nil {
			rt.RevokedAt = &now
			n++
		}
	}
	return n, nil
}
