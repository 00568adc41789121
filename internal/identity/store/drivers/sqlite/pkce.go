package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
)

type pkceRepo struct {
	db dbtx
}

const pkceColumns = `nonce, code_challenge, redirect_uri, expires_at, used_at, created_at`

func (r *pkceRepo) CreatePKCERequest(ctx context.Context, req domain.PKCERequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pkce_requests (`+pkceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		req.Nonce,
		req.CodeChallenge,
		req.RedirectURI,
		toMillis(req.ExpiresAt),
		mapOptionalMillis(req.UsedAt),
		toMillis(req.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *pkceRepo) ConsumePKCERequest(ctx context.Context, nonce string, now time.Time) (domain.PKCERequest, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE pkce_requests
		SET used_at = ?
		WHERE nonce = ? AND used_at IS NULL AND expires_at > ?
		RETURNING `+pkceColumns,
		toMillis(now), nonce, toMillis(now),
	)
	req, err := scanPKCERequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.PKCERequest{}, err
	}

	// The guarded update matched nothing, find out why.
	existing, err := scanPKCERequest(r.db.QueryRowContext(ctx,
		`SELECT `+pkceColumns+` FROM pkce_requests WHERE nonce = ?`, nonce,
	))
	if err != nil {
		return domain.PKCERequest{}, err
	}
	if existing.UsedAt != nil {
		return domain.PKCERequest{}, store.ErrAlreadyUsed
	}
	return domain.PKCERequest{}, store.ErrExpired
}

func (r *pkceRepo) DeleteExpiredPKCERequests(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pkce_requests WHERE expires_at <= ?`,
		toMillis(before),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanPKCERequest(row rowScanner) (domain.PKCERequest, error) {
	var (
		req                  domain.PKCERequest
		expiresAt, createdAt int64
		usedAt               sql.NullInt64
	)
	err := row.Scan(
		&req.Nonce,
		&req.CodeChallenge,
		&req.RedirectURI,
		&expiresAt,
		&usedAt,
		&createdAt,
	)
	if err != nil {
		return domain.PKCERequest{}, mapNotFound(err)
	}
	req.ExpiresAt = fromMillis(expiresAt)
	req.UsedAt = mapNullMillis(usedAt)
	req.CreatedAt = fromMillis(createdAt)
	return req, nil
}
