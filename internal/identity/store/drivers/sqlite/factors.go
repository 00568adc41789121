package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
)

type factorsRepo struct {
	db dbtx
}

const factorColumns = `id, user_id, factor_type, friendly_name, secret, active, enrolled_at, last_used_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *factorsRepo) CreateFactor(ctx context.Context, f domain.MFAFactor) error {
	if f.FactorType == "" {
		f.FactorType = domain.FactorTypeTOTP
	}
	if f.EnrolledAt.IsZero() {
		f.EnrolledAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_factors (`+factorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID,
		f.UserID,
		f.FactorType,
		f.FriendlyName,
		f.Secret,
		boolToInt(f.Active),
		toMillis(f.EnrolledAt),
		mapOptionalMillis(f.LastUsedAt),
	)
	return mapConstraint(err)
}

func (r *factorsRepo) GetFactorByID(ctx context.Context, id string) (domain.MFAFactor, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+factorColumns+` FROM mfa_factors WHERE id = ?`, id)
	return scanFactor(row)
}

func (r *factorsRepo) GetActiveFactor(ctx context.Context, userID string) (domain.MFAFactor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+factorColumns+`
		FROM mfa_factors
		WHERE user_id = ? AND active = 1
		ORDER BY enrolled_at DESC
		LIMIT 1`,
		userID,
	)
	return scanFactor(row)
}

func (r *factorsRepo) ListFactors(ctx context.Context, userID string) ([]domain.MFAFactor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+factorColumns+`
		FROM mfa_factors
		WHERE user_id = ?
		ORDER BY enrolled_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	factors := make([]domain.MFAFactor, 0)
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

func (r *factorsRepo) DeactivateFactor(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mfa_factors SET active = 0 WHERE id = ?`, id)
	return requireAffected(res, err, store.ErrNotFound)
}

func (r *factorsRepo) DeleteFactor(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mfa_factors WHERE id = ?`, id)
	return requireAffected(res, err, store.ErrNotFound)
}

func (r *factorsRepo) TouchFactorLastUsed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mfa_factors SET last_used_at = ? WHERE id = ?`,
		toMillis(at), id,
	)
	return requireAffected(res, err, store.ErrNotFound)
}

func scanFactor(row rowScanner) (domain.MFAFactor, error) {
	var (
		f          domain.MFAFactor
		active     int
		enrolledAt int64
		lastUsedAt sql.NullInt64
	)
	err := row.Scan(
		&f.ID,
		&f.UserID,
		&f.FactorType,
		&f.FriendlyName,
		&f.Secret,
		&active,
		&enrolledAt,
		&lastUsedAt,
	)
	if err != nil {
		return domain.MFAFactor{}, mapNotFound(err)
	}
	f.Active = active != 0
	f.EnrolledAt = fromMillis(enrolledAt)
	f.LastUsedAt = mapNullMillis(lastUsedAt)
	return f, nil
}
