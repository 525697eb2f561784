package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverwise/authcore/internal/store/core"
)

type clientRepo struct{ pool *pgxpool.Pool }

func (r *clientRepo) Create(ctx context.Context, c *core.Client) error {
	const q = `
		INSERT INTO oauth_clients
			(id, client_id, name, client_type, secret_hash, grant_types, scopes,
			 redirect_uris, token_ttl_seconds, refresh_ttl_seconds, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())`
	_, err := r.pool.Exec(ctx, q,
		c.ID, c.ClientID, c.Name, string(c.Type), c.SecretHash,
		c.GrantTypes, c.Scopes, c.RedirectURIs,
		int64(c.TokenTTL/time.Second), int64(c.RefreshTTL/time.Second), c.Active)
	return mapErr(err)
}

const clientCols = `id, client_id, name, client_type, secret_hash, grant_types, scopes,
	redirect_uris, token_ttl_seconds, refresh_ttl_seconds, active, created_at, updated_at`

func (r *clientRepo) GetByClientID(ctx context.Context, clientID string) (*core.Client, error) {
	q := `SELECT ` + clientCols + ` FROM oauth_clients WHERE client_id = $1`
	row := r.pool.QueryRow(ctx, q, clientID)

	var c core.Client
	var typ string
	var tokenTTL, refreshTTL int64
	if err := row.Scan(&c.ID, &c.ClientID, &c.Name, &typ, &c.SecretHash,
		&c.GrantTypes, &c.Scopes, &c.RedirectURIs,
		&tokenTTL, &refreshTTL, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	c.Type = core.ClientType(typ)
	c.TokenTTL = time.Duration(tokenTTL) * time.Second
	c.RefreshTTL = time.Duration(refreshTTL) * time.Second
	return &c, nil
}

func (r *clientRepo) Update(ctx context.Context, c *core.Client) error {
	const q = `
		UPDATE oauth_clients
		SET name=$2, secret_hash=$3, grant_types=$4, scopes=$5, redirect_uris=$6,
		    token_ttl_seconds=$7, refresh_ttl_seconds=$8, active=$9, updated_at=NOW()
		WHERE client_id=$1`
	ct, err := r.pool.Exec(ctx, q,
		c.ClientID, c.Name, c.SecretHash, c.GrantTypes, c.Scopes, c.RedirectURIs,
		int64(c.TokenTTL/time.Second), int64(c.RefreshTTL/time.Second), c.Active)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *clientRepo) List(ctx context.Context) ([]core.Client, error) {
	q := `SELECT ` + clientCols + ` FROM oauth_clients ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.Client
	for rows.Next() {
		var c core.Client
		var typ string
		var tokenTTL, refreshTTL int64
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Name, &typ, &c.SecretHash,
			&c.GrantTypes, &c.Scopes, &c.RedirectURIs,
			&tokenTTL, &refreshTTL, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Type = core.ClientType(typ)
		c.TokenTTL = time.Duration(tokenTTL) * time.Second
		c.RefreshTTL = time.Duration(refreshTTL) * time.Second
		out = append(out, c)
	}
	return out, rows.Err()
}
