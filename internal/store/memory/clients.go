package memory

import (
	"context"
	"sort"
	"time"

	"github.com/coverwise/authcore/internal/store/core"
)

type clientRepo Store

func (r *clientRepo) Create(ctx context.Context, c *core.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.ClientID]; exists {
		return core.ErrConflict
	}
	cp := cloneClient(c)
	r.clients[c.ClientID] = cp
	return nil
}

func (r *clientRepo) GetByClientID(ctx context.Context, clientID string) (*core.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneClient(c), nil
}

func (r *clientRepo) Update(ctx context.Context, c *core.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.clients[c.ClientID]
	if !ok {
		return core.ErrNotFound
	}
	cp := cloneClient(c)
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	r.clients[c.ClientID] = cp
	return nil
}

func (r *clientRepo) List(ctx context.Context) ([]core.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// cloneClient copia defensiva: los callers no deben mutar el estado interno.
func cloneClient(c *core.Client) *core.Client {
	cp := *c
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.Scopes = append([]string(nil), c.Scopes...)
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	if c.SecretHash != nil {
		h := *c.SecretHash
		cp.SecretHash = &h
	}
	return &cp
}
