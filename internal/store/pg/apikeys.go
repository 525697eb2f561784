package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverwise/authcore/internal/store/core"
)

type apiKeyRepo struct{ pool *pgxpool.Pool }

const apiKeyCols = `id, key_hash, key_prefix, name, client_id, scopes, rate_limit_per_minute,
	allowed_ips, parent_id, expires_at, active, revoked_reason, use_count, last_used_at, created_at`

func (r *apiKeyRepo) Create(ctx context.Context, k *core.APIKey) error {
	const q = `
		INSERT INTO api_keys
			(id, key_hash, key_prefix, name, client_id, scopes, rate_limit_per_minute,
			 allowed_ips, parent_id, expires_at, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())`
	_, err := r.pool.Exec(ctx, q,
		k.ID, k.KeyHash, k.KeyPrefix, k.Name, k.ClientID, k.Scopes, k.RateLimitPerMinute,
		k.AllowedIPs, k.ParentID, k.ExpiresAt, k.Active)
	return mapErr(err)
}

func (r *apiKeyRepo) GetByHash(ctx context.Context, keyHash string) (*core.APIKey, error) {
	q := `SELECT ` + apiKeyCols + ` FROM api_keys WHERE key_hash = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, keyHash))
}

func (r *apiKeyRepo) GetByID(ctx context.Context, id string) (*core.APIKey, error) {
	q := `SELECT ` + apiKeyCols + ` FROM api_keys WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

type rowScanner interface{ Scan(dest ...any) error }

func (r *apiKeyRepo) scanOne(row rowScanner) (*core.APIKey, error) {
	var k core.APIKey
	if err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.ClientID, &k.Scopes,
		&k.RateLimitPerMinute, &k.AllowedIPs, &k.ParentID, &k.ExpiresAt, &k.Active,
		&k.RevokedReason, &k.UseCount, &k.LastUsedAt, &k.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &k, nil
}

func (r *apiKeyRepo) ListByClient(ctx context.Context, clientID string) ([]core.APIKey, error) {
	q := `SELECT ` + apiKeyCols + ` FROM api_keys WHERE client_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, clientID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.APIKey
	for rows.Next() {
		k, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func (r *apiKeyRepo) Revoke(ctx context.Context, id, reason string) error {
	const q = `UPDATE api_keys SET active = false, revoked_reason = $2 WHERE id = $1 AND active`
	ct, err := r.pool.Exec(ctx, q, id, reason)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		// puede no existir o ya estar revocada; distinguimos para el caller
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM api_keys WHERE id=$1)`, id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if !exists {
			return core.ErrNotFound
		}
	}
	return nil
}

// Rotate revoca la key vieja y persiste la nueva en una transacción. El
// WHERE active cierra la carrera: de dos rotaciones concurrentes sobre la
// misma key, una ve 0 filas y recibe ErrConflict.
func (r *apiKeyRepo) Rotate(ctx context.Context, oldID, reason string, next *core.APIKey) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`UPDATE api_keys SET active = false, revoked_reason = $2 WHERE id = $1 AND active`,
		oldID, reason)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO api_keys
			(id, key_hash, key_prefix, name, client_id, scopes, rate_limit_per_minute,
			 allowed_ips, parent_id, expires_at, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())`,
		next.ID, next.KeyHash, next.KeyPrefix, next.Name, next.ClientID, next.Scopes,
		next.RateLimitPerMinute, next.AllowedIPs, next.ParentID, next.ExpiresAt, next.Active)
	if err != nil {
		return mapErr(err)
	}
	return tx.Commit(ctx)
}

func (r *apiKeyRepo) RevokeAllForClient(ctx context.Context, clientID, reason string) (int, error) {
	const q = `UPDATE api_keys SET active = false, revoked_reason = $2 WHERE client_id = $1 AND active`
	ct, err := r.pool.Exec(ctx, q, clientID, reason)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *apiKeyRepo) RecordUsage(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE api_keys SET use_count = use_count + 1, last_used_at = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, at)
	return mapErr(err)
}
