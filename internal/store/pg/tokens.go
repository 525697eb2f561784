package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverwise/authcore/internal/store/core"
)

type tokenRepo struct{ pool *pgxpool.Pool }

func (r *tokenRepo) Create(ctx context.Context, rt *core.RefreshToken) error {
	const q = `
		INSERT INTO refresh_tokens
			(id, client_id, user_id, token_hash, scopes, issued_at, expires_at, rotated_from)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, q,
		rt.ID, rt.ClientID, rt.UserID, rt.TokenHash, rt.Scopes,
		rt.IssuedAt, rt.ExpiresAt, rt.RotatedFrom)
	return mapErr(err)
}

func (r *tokenRepo) GetByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	const q = `
		SELECT id, client_id, COALESCE(user_id,''), token_hash, scopes,
		       issued_at, expires_at, rotated_from, revoked_at
		FROM refresh_tokens WHERE token_hash = $1`
	row := r.pool.QueryRow(ctx, q, tokenHash)

	var rt core.RefreshToken
	if err := row.Scan(&rt.ID, &rt.ClientID, &rt.UserID, &rt.TokenHash, &rt.Scopes,
		&rt.IssuedAt, &rt.ExpiresAt, &rt.RotatedFrom, &rt.RevokedAt); err != nil {
		return nil, mapErr(err)
	}
	return &rt, nil
}

func (r *tokenRepo) Revoke(ctx context.Context, id string) error {
	// Idempotente: revocar lo ya revocado no es error.
	const q = `UPDATE refresh_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.pool.Exec(ctx, q, id)
	return mapErr(err)
}

// Rotate revoca el token viejo y persiste el nuevo en una transacción.
// El WHERE revoked_at IS NULL cierra la carrera: de dos rotaciones
// concurrentes sobre el mismo token, una ve 0 filas y recibe ErrConflict.
func (r *tokenRepo) Rotate(ctx context.Context, oldID string, next *core.RefreshToken) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, oldID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens
			(id, client_id, user_id, token_hash, scopes, issued_at, expires_at, rotated_from)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8)`,
		next.ID, next.ClientID, next.UserID, next.TokenHash, next.Scopes,
		next.IssuedAt, next.ExpiresAt, oldID)
	if err != nil {
		return mapErr(err)
	}
	return tx.Commit(ctx)
}

func (r *tokenRepo) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	const q = `UPDATE refresh_tokens SET revoked_at = NOW() WHERE client_id = $1 AND revoked_at IS NULL`
	ct, err := r.pool.Exec(ctx, q, clientID)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(ct.RowsAffected()), nil
}
