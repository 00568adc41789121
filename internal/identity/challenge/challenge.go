// Package challenge keeps short-lived MFA state: step-up challenges that are
// consumed by exactly one verify call, and per-user failure counters that
// lock out code guessing.
package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
)

var (
	ErrNotFound    = errors.New("challenge: not found or expired")
	ErrLocked      = errors.New("challenge: too many failed attempts")
	ErrUnavailable = errors.New("challenge: store unavailable")

	errAlreadyExpired = errors.New("challenge: already expired")
)

// Defaults for the failed-attempt lockout.
const (
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 15 * time.Minute
)

// Store is implemented by the Redis and in-memory backends.
type Store interface {
	// Save persists c until its ExpiresAt.
	Save(ctx context.Context, c domain.MFAChallenge) error

	// Consume returns and removes the challenge in one step. A second call
	// with the same id returns ErrNotFound.
	Consume(ctx context.Context, id string) (domain.MFAChallenge, error)

	// Check returns ErrLocked while key has reached the failure limit.
	Check(ctx context.Context, key string) error

	// RecordFailure counts a failed code. It returns ErrLocked once the
	// limit is reached within the window.
	RecordFailure(ctx context.Context, key string) error

	// Reset clears the failure counter after a successful verification.
	Reset(ctx context.Context, key string) error

	Ping(ctx context.Context) error
}

// LockoutConfig bounds failed verifications per user.
type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
}

func (c LockoutConfig) withDefaults() LockoutConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Window <= 0 {
		c.Window = DefaultLockoutWindow
	}
	return c
}
