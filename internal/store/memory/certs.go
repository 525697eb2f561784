package memory

import (
	"context"
	"sort"
	"time"

	"github.com/coverwise/authcore/internal/store/core"
)

type certRepo Store

func (r *certRepo) Create(ctx context.Context, c *core.ClientCertificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.certs {
		// fingerprint único por client
		if cur.ClientID == c.ClientID && cur.Fingerprint == c.Fingerprint {
			return core.ErrConflict
		}
	}
	cp := *c
	r.certs[c.ID] = &cp
	return nil
}

func (r *certRepo) GetByID(ctx context.Context, id string) (*core.ClientCertificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *certRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*core.ClientCertificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.certs {
		if c.Fingerprint == fingerprint {
			cp := *c
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *certRepo) ListByClient(ctx context.Context, clientID string) ([]core.ClientCertificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.ClientCertificate
	for _, c := range r.certs {
		if c.ClientID == clientID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *certRepo) Revoke(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[id]
	if !ok {
		return core.ErrNotFound
	}
	if c.RevokedAt == nil {
		now := time.Now().UTC()
		c.RevokedAt = &now
		c.RevokedReason = &reason
	}
	return nil
}

type userRepo Store

func (r *userRepo) Create(ctx context.Context, u *core.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[u.Email]; exists {
		return core.ErrConflict
	}
	cp := *u
	r.users[u.Email] = &cp
	return nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
