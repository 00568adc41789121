package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
	"github.com/aussiebroadwan/vaultgate/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.ApplyMigrations()
	require.NoError(t, err)
	return s
}

func seedUser(t *testing.T, s *Store, email string) domain.User {
	t.Helper()

	u := domain.User{
		ID:          idx.New().String(),
		Email:       email,
		Role:        domain.RoleInvestor,
		Active:      true,
		DisplayName: "Test User",
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func TestUsers_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := seedUser(t, s, "Alice@Example.com ")

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.Email)
	require.Equal(t, domain.RoleInvestor, got.Role)
	require.True(t, got.Active)
	require.Empty(t, got.PasswordHash)
	require.Nil(t, got.LastLoginAt)

	got, err = s.Users().GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = s.Users().GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Users().GetUserByExternalID(ctx, "")
	require.ErrorIs(t, err, store.ErrNotFound)

	dup := domain.User{ID: idx.New().String(), Email: "alice@example.com", Role: domain.RoleInvestor}
	require.ErrorIs(t, s.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)
}

func TestUsers_UpdateFederatedProfile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "bob@example.com")

	loginAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Users().UpdateFederatedProfile(ctx, u.ID, domain.FederatedProfileUpdate{
		ExternalID:    "idp|bob",
		PictureURL:    "https://cdn.example/bob.png",
		EmailVerified: true,
		LastLoginAt:   loginAt,
	}))

	got, err := s.Users().GetUserByExternalID(ctx, "idp|bob")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, "https://cdn.example/bob.png", got.PictureURL)
	require.True(t, got.EmailVerified)
	require.NotNil(t, got.LastLoginAt)
	require.True(t, loginAt.Equal(*got.LastLoginAt))

	// An empty picture keeps the stored one.
	require.NoError(t, s.Users().UpdateFederatedProfile(ctx, u.ID, domain.FederatedProfileUpdate{
		ExternalID:  "idp|bob",
		LastLoginAt: loginAt,
	}))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/bob.png", got.PictureURL)

	err = s.Users().UpdateFederatedProfile(ctx, "missing", domain.FederatedProfileUpdate{LastLoginAt: loginAt})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsers_SwapMFAFactor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "carol@example.com")

	require.NoError(t, s.Users().SwapMFAFactor(ctx, u.ID, "", "factor-1"))
	require.ErrorIs(t, s.Users().SwapMFAFactor(ctx, u.ID, "", "factor-2"), store.ErrConflict)
	require.ErrorIs(t, s.Users().SwapMFAFactor(ctx, "missing", "", "factor-2"), store.ErrNotFound)

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "factor-1", got.MFAFactorID)

	require.NoError(t, s.Users().SwapMFAFactor(ctx, u.ID, "factor-1", ""))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, got.MFAFactorID)
}

func TestUsers_SwapMFAFactorConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "dave@example.com")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Users().SwapMFAFactor(ctx, u.ID, "", idx.New().String()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins, "exactly one enrollment may win")
}

func TestUsers_SetWalletAddressIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "erin@example.com")

	require.NoError(t, s.Users().SetWalletAddress(ctx, u.ID, "0xabc"))
	require.ErrorIs(t, s.Users().SetWalletAddress(ctx, u.ID, "0xdef"), store.ErrConflict)

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "0xabc", got.WalletAddress)
	require.True(t, got.HasWallet())
}

func TestUsers_SetActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "frank@example.com")

	require.NoError(t, s.Users().SetActive(ctx, u.ID, false))
	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	require.ErrorIs(t, s.Users().SetActive(ctx, "missing", false), store.ErrNotFound)
}

func TestFactors_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "grace@example.com")

	older := domain.MFAFactor{
		ID:         idx.New().String(),
		UserID:     u.ID,
		Secret:     "OLDSECRET",
		Active:     true,
		EnrolledAt: time.Now().Add(-time.Hour),
	}
	newer := domain.MFAFactor{
		ID:           idx.New().String(),
		UserID:       u.ID,
		FriendlyName: "phone",
		Secret:       "NEWSECRET",
		Active:       true,
		EnrolledAt:   time.Now(),
	}
	require.NoError(t, s.Factors().CreateFactor(ctx, older))
	require.NoError(t, s.Factors().CreateFactor(ctx, newer))

	active, err := s.Factors().GetActiveFactor(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, newer.ID, active.ID)
	require.Equal(t, domain.FactorTypeTOTP, active.FactorType)

	list, err := s.Factors().ListFactors(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, older.ID, list[0].ID)

	usedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Factors().TouchFactorLastUsed(ctx, newer.ID, usedAt))
	got, err := s.Factors().GetFactorByID(ctx, newer.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	require.True(t, usedAt.Equal(*got.LastUsedAt))

	require.NoError(t, s.Factors().DeactivateFactor(ctx, newer.ID))
	active, err = s.Factors().GetActiveFactor(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, older.ID, active.ID)

	require.NoError(t, s.Factors().DeleteFactor(ctx, older.ID))
	require.ErrorIs(t, s.Factors().DeleteFactor(ctx, older.ID), store.ErrNotFound)

	_, err = s.Factors().GetActiveFactor(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPKCERequests_ConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	req := domain.PKCERequest{
		Nonce:         "nonce-1",
		CodeChallenge: "challenge",
		RedirectURI:   "https://app.example/cb",
		ExpiresAt:     now.Add(10 * time.Minute),
	}
	require.NoError(t, s.PKCERequests().CreatePKCERequest(ctx, req))
	require.ErrorIs(t, s.PKCERequests().CreatePKCERequest(ctx, req), store.ErrAlreadyExists)

	got, err := s.PKCERequests().ConsumePKCERequest(ctx, "nonce-1", now)
	require.NoError(t, err)
	require.Equal(t, "challenge", got.CodeChallenge)
	require.Equal(t, "https://app.example/cb", got.RedirectURI)
	require.NotNil(t, got.UsedAt)

	_, err = s.PKCERequests().ConsumePKCERequest(ctx, "nonce-1", now)
	require.ErrorIs(t, err, store.ErrAlreadyUsed)

	_, err = s.PKCERequests().ConsumePKCERequest(ctx, "unknown", now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPKCERequests_ExpiryAndPurge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.PKCERequests().CreatePKCERequest(ctx, domain.PKCERequest{
		Nonce:         "stale",
		CodeChallenge: "c",
		ExpiresAt:     now.Add(-time.Minute),
	}))
	require.NoError(t, s.PKCERequests().CreatePKCERequest(ctx, domain.PKCERequest{
		Nonce:         "fresh",
		CodeChallenge: "c",
		ExpiresAt:     now.Add(time.Minute),
	}))

	_, err := s.PKCERequests().ConsumePKCERequest(ctx, "stale", now)
	require.ErrorIs(t, err, store.ErrExpired)

	n, err := s.PKCERequests().DeleteExpiredPKCERequests(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.PKCERequests().ConsumePKCERequest(ctx, "fresh", now)
	require.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "heidi@example.com")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().SetWalletAddress(ctx, u.ID, "0xabc"); err != nil {
			return err
		}
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.HasWallet())

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Users().SetWalletAddress(ctx, u.ID, "0xabc")
	}))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.HasWallet())
}
