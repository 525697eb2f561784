package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverwise/authcore/internal/store/core"
)

type certRepo struct{ pool *pgxpool.Pool }

const certCols = `id, client_id, fingerprint, name, subject_dn, issuer_dn,
	not_before, not_after, revoked_at, revoked_reason, registered_by, created_at`

func (r *certRepo) Create(ctx context.Context, c *core.ClientCertificate) error {
	const q = `
		INSERT INTO client_certificates
			(id, client_id, fingerprint, name, subject_dn, issuer_dn,
			 not_before, not_after, registered_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())`
	_, err := r.pool.Exec(ctx, q,
		c.ID, c.ClientID, c.Fingerprint, c.Name, c.SubjectDN, c.IssuerDN,
		c.NotBefore, c.NotAfter, c.RegisteredBy)
	return mapErr(err)
}

func (r *certRepo) scanOne(row rowScanner) (*core.ClientCertificate, error) {
	var c core.ClientCertificate
	if err := row.Scan(&c.ID, &c.ClientID, &c.Fingerprint, &c.Name, &c.SubjectDN, &c.IssuerDN,
		&c.NotBefore, &c.NotAfter, &c.RevokedAt, &c.RevokedReason, &c.RegisteredBy, &c.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *certRepo) GetByID(ctx context.Context, id string) (*core.ClientCertificate, error) {
	q := `SELECT ` + certCols + ` FROM client_certificates WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

func (r *certRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*core.ClientCertificate, error) {
	q := `SELECT ` + certCols + ` FROM client_certificates WHERE fingerprint = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, fingerprint))
}

func (r *certRepo) ListByClient(ctx context.Context, clientID string) ([]core.ClientCertificate, error) {
	q := `SELECT ` + certCols + ` FROM client_certificates WHERE client_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, clientID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.ClientCertificate
	for rows.Next() {
		c, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *certRepo) Revoke(ctx context.Context, id, reason string) error {
	const q = `
		UPDATE client_certificates SET revoked_at = NOW(), revoked_reason = $2
		WHERE id = $1 AND revoked_at IS NULL`
	ct, err := r.pool.Exec(ctx, q, id, reason)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM client_certificates WHERE id=$1)`, id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if !exists {
			return core.ErrNotFound
		}
	}
	return nil
}

type userRepo struct{ pool *pgxpool.Pool }

func (r *userRepo) Create(ctx context.Context, u *core.User) error {
	const q = `
		INSERT INTO users (id, email, password_hash, active, created_at)
		VALUES ($1,$2,$3,$4,NOW())`
	_, err := r.pool.Exec(ctx, q, u.ID, u.Email, u.PasswordHash, u.Active)
	return mapErr(err)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	const q = `SELECT id, email, password_hash, active, created_at FROM users WHERE email = $1`
	var u core.User
	if err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}
