package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
)

type attemptWindow struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the single-process backend used when no Redis address is
// configured.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]domain.MFAChallenge
	attempts   map[string]attemptWindow
	lockout    LockoutConfig
	now        func() time.Time
}

func NewMemoryStore(lockout LockoutConfig) *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]domain.MFAChallenge),
		attempts:   make(map[string]attemptWindow),
		lockout:    lockout.withDefaults(),
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Save(_ context.Context, c domain.MFAChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.ExpiresAt.After(s.now()) {
		return errAlreadyExpired
	}
	s.challenges[c.ID] = c
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, id string) (domain.MFAChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return domain.MFAChallenge{}, ErrNotFound
	}
	delete(s.challenges, id)

	if !c.ExpiresAt.After(s.now()) {
		return domain.MFAChallenge{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Check(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.attempts[key]
	if !ok || !s.now().Before(w.resetAt) {
		return nil
	}
	if w.count >= s.lockout.MaxAttempts {
		return ErrLocked
	}
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.attempts[key]
	if !ok || !now.Before(w.resetAt) {
		w = attemptWindow{resetAt: now.Add(s.lockout.Window)}
	}
	w.count++
	s.attempts[key] = w

	if w.count >= s.lockout.MaxAttempts {
		return ErrLocked
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, key)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Sweep drops expired challenges and counters and returns how many entries
// were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, c := range s.challenges {
		if !c.ExpiresAt.After(now) {
			delete(s.challenges, id)
			removed++
		}
	}
	for key, w := range s.attempts {
		if !now.Before(w.resetAt) {
			delete(s.attempts, key)
			removed++
		}
	}
	return removed
}
