package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, password_hash, role, active, display_name, picture_url,
	email_verified, external_id, mfa_factor_id, wallet_address, kyc_status, kyc_id, kyc_url,
	terms_accepted_at, last_login_at, created_at, updated_at`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`,
		domain.NormalizeEmail(email),
	)
	return scanUser(row)
}

func (r *usersRepo) GetUserByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	if externalID == "" {
		return domain.User{}, store.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID)
	return scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		domain.NormalizeEmail(u.Email),
		mapStringNull(u.PasswordHash),
		string(u.Role),
		boolToInt(u.Active),
		u.DisplayName,
		mapStringNull(u.PictureURL),
		boolToInt(u.EmailVerified),
		mapStringNull(u.ExternalID),
		mapStringNull(u.MFAFactorID),
		mapStringNull(u.WalletAddress),
		mapStringNull(u.KYCStatus),
		mapStringNull(u.KYCID),
		mapStringNull(u.KYCURL),
		mapOptionalMillis(u.TermsAcceptedAt),
		mapOptionalMillis(u.LastLoginAt),
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *usersRepo) UpdateFederatedProfile(
	ctx context.Context,
	userID string,
	p domain.FederatedProfileUpdate,
) error {
	// An empty picture keeps the one on file.
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET external_id = ?,
		    picture_url = COALESCE(?, picture_url),
		    email_verified = ?,
		    last_login_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		mapStringNull(p.ExternalID),
		mapStringNull(p.PictureURL),
		boolToInt(p.EmailVerified),
		toMillis(p.LastLoginAt),
		toMillis(time.Now()),
		userID,
	)
	return requireAffected(res, mapConstraint(err), store.ErrNotFound)
}

func (r *usersRepo) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(time.Now()), userID,
	)
	return requireAffected(res, err, store.ErrNotFound)
}

func (r *usersRepo) SwapMFAFactor(ctx context.Context, userID, expected, next string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET mfa_factor_id = ?, updated_at = ?
		WHERE id = ? AND COALESCE(mfa_factor_id, '') = ?`,
		mapStringNull(next), toMillis(time.Now()), userID, expected,
	)
	if err := requireAffected(res, err, store.ErrConflict); err != nil {
		return r.conflictOrMissing(ctx, userID, err)
	}
	return nil
}

func (r *usersRepo) SetWalletAddress(ctx context.Context, userID, address string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET wallet_address = ?, updated_at = ?
		WHERE id = ? AND wallet_address IS NULL`,
		address, toMillis(time.Now()), userID,
	)
	if err := requireAffected(res, err, store.ErrConflict); err != nil {
		return r.conflictOrMissing(ctx, userID, err)
	}
	return nil
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), toMillis(time.Now()), userID,
	)
	return requireAffected(res, err, store.ErrNotFound)
}

// conflictOrMissing distinguishes a guarded update that lost from one that
// targeted a user that does not exist.
func (r *usersRepo) conflictOrMissing(ctx context.Context, userID string, err error) error {
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	var one int
	if lookupErr := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one); lookupErr != nil {
		return mapNotFound(lookupErr)
	}
	return store.ErrConflict
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u                                    domain.User
		role                                 string
		active, emailVerified                int
		passwordHash, pictureURL, externalID sql.NullString
		mfaFactorID, walletAddress           sql.NullString
		kycStatus, kycID, kycURL             sql.NullString
		termsAcceptedAt, lastLoginAt         sql.NullInt64
		createdAt, updatedAt                 int64
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&passwordHash,
		&role,
		&active,
		&u.DisplayName,
		&pictureURL,
		&emailVerified,
		&externalID,
		&mfaFactorID,
		&walletAddress,
		&kycStatus,
		&kycID,
		&kycURL,
		&termsAcceptedAt,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.PasswordHash = mapNullString(passwordHash)
	u.Role = domain.Role(role)
	u.Active = active != 0
	u.PictureURL = mapNullString(pictureURL)
	u.EmailVerified = emailVerified != 0
	u.ExternalID = mapNullString(externalID)
	u.MFAFactorID = mapNullString(mfaFactorID)
	u.WalletAddress = mapNullString(walletAddress)
	u.KYCStatus = mapNullString(kycStatus)
	u.KYCID = mapNullString(kycID)
	u.KYCURL = mapNullString(kycURL)
	u.TermsAcceptedAt = mapNullMillis(termsAcceptedAt)
	u.LastLoginAt = mapNullMillis(lastLoginAt)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
