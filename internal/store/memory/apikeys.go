package memory

import (
	"context"
	"sort"
	"time"

	"github.com/coverwise/authcore/internal/store/core"
)

type apiKeyRepo Store

func (r *apiKeyRepo) Create(ctx context.Context, k *core.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apikeys[k.ID]; exists {
		return core.ErrConflict
	}
	for _, cur := range r.apikeys {
		if cur.KeyHash == k.KeyHash {
			return core.ErrConflict
		}
	}
	cp := cloneAPIKey(k)
	r.apikeys[k.ID] = cp
	return nil
}

func (r *apiKeyRepo) GetByHash(ctx context.Context, keyHash string) (*core.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.apikeys {
		if k.KeyHash == keyHash {
			return cloneAPIKey(k), nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *apiKeyRepo) GetByID(ctx context.Context, id string) (*core.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.apikeys[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneAPIKey(k), nil
}

func (r *apiKeyRepo) ListByClient(ctx context.Context, clientID string) ([]core.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.APIKey
	for _, k := range r.apikeys {
		if k.ClientID == clientID {
			out = append(out, *cloneAPIKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *apiKeyRepo) Revoke(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.apikeys[id]
	if !ok {
		return core.ErrNotFound
	}
	if k.Active {
		k.Active = false
		k.RevokedReason = &reason
	}
	return nil
}

// Rotate revoca la vieja e inserta la nueva bajo el mismo lock: ninguna
// lectura ve el estado intermedio y una key ya revocada da ErrConflict.
func (r *apiKeyRepo) Rotate(ctx context.Context, oldID, reason string, next *core.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.apikeys[oldID]
	if !ok {
		return core.ErrNotFound
	}
	if !old.Active {
		return core.ErrConflict
	}
	if _, exists := r.apikeys[next.ID]; exists {
		return core.ErrConflict
	}
	for _, cur := range r.apikeys {
		if cur.KeyHash == next.KeyHash {
			return core.ErrConflict
		}
	}
	old.Active = false
	old.RevokedReason = &reason
	r.apikeys[next.ID] = cloneAPIKey(next)
	return nil
}

func (r *apiKeyRepo) RevokeAllForClient(ctx context.Context, clientID, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.apikeys {
		if k.ClientID == clientID && k.Active {
			k.Active = false
			k.RevokedReason = &reason
			n++
		}
	}
	return n, nil
}

func (r *apiKeyRepo) RecordUsage(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.apikeys[id]
	if !ok {
		return core.ErrNotFound
	}
	k.UseCount++
	t := at
	k.LastUsedAt = &t
	return nil
}

func cloneAPIKey(k *core.APIKey) *core.APIKey {
	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	cp.AllowedIPs = append([]string(nil), k.AllowedIPs...)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		cp.LastUsedAt = &t
	}
	if k.RevokedReason != nil {
		s := *k.RevokedReason
		cp.RevokedReason = &s
	}
	if k.ParentID != nil {
		s := *k.ParentID
		cp.ParentID = &s
	}
	return &cp
}
