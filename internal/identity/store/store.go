package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a lost compare-and-swap or a write-once field
	// that is already set.
	ErrConflict = errors.New("store: conflicting update")

	ErrAlreadyUsed = errors.New("store: already used")
	ErrExpired     = errors.New("store: expired")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories so a transaction-scoped Store can be handed to
// code that must not open its own transaction.
type Store interface {
	Users() Users
	Factors() Factors
	PKCERequests() PKCERequests

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail matches case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	GetUserByExternalID(ctx context.Context, externalID string) (domain.User, error)

	// CreateUser inserts a new user. Returns ErrAlreadyExists when the email
	// or external id is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateFederatedProfile records the provider identity after a federated
	// login.
	UpdateFederatedProfile(ctx context.Context, userID string, p domain.FederatedProfileUpdate) error

	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	// SwapMFAFactor sets mfa_factor_id to next only if it currently equals
	// expected ("" meaning unset). Returns ErrConflict otherwise.
	SwapMFAFactor(ctx context.Context, userID, expected, next string) error

	// SetWalletAddress stores the address only if none is set yet. Returns
	// ErrConflict when a wallet is already linked.
	SetWalletAddress(ctx context.Context, userID, address string) error

	SetActive(ctx context.Context, userID string, active bool) error
}

type Factors interface {
	CreateFactor(ctx context.Context, f domain.MFAFactor) error

	GetFactorByID(ctx context.Context, id string) (domain.MFAFactor, error)

	// GetActiveFactor returns the most recently enrolled active factor.
	GetActiveFactor(ctx context.Context, userID string) (domain.MFAFactor, error)

	ListFactors(ctx context.Context, userID string) ([]domain.MFAFactor, error)

	DeactivateFactor(ctx context.Context, id string) error

	DeleteFactor(ctx context.Context, id string) error

	TouchFactorLastUsed(ctx context.Context, id string, at time.Time) error
}

type PKCERequests interface {
	CreatePKCERequest(ctx context.Context, req domain.PKCERequest) error

	// ConsumePKCERequest atomically marks the request used and returns it.
	// Returns ErrNotFound, ErrAlreadyUsed or ErrExpired when it cannot.
	ConsumePKCERequest(ctx context.Context, nonce string, now time.Time) (domain.PKCERequest, error)

	// DeleteExpiredPKCERequests is housekeeping.
	DeleteExpiredPKCERequests(ctx context.Context, before time.Time) (int64, error)
}
