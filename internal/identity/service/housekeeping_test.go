package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct{ calls int }

func (s *countingSweeper) Sweep() int {
	s.calls++
	return 1
}

func TestHousekeepingCleanup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.PKCERequests().CreatePKCERequest(ctx, domain.PKCERequest{
		Nonce:         "stale",
		CodeChallenge: "c",
		ExpiresAt:     time.Now().Add(-time.Minute),
	}))
	fresh, err := env.federated.AuthURL(ctx, callbackURI)
	require.NoError(t, err)

	sweeper := &countingSweeper{}
	hk := NewHousekeepingService(env.store, slogx.Discard(), time.Hour, sweeper)
	hk.Cleanup(ctx)
	require.Equal(t, 1, sweeper.calls)

	_, err = env.store.PKCERequests().ConsumePKCERequest(ctx, "stale", time.Now())
	require.Error(t, err)
	_, err = env.store.PKCERequests().ConsumePKCERequest(ctx, fresh.Nonce, time.Now())
	require.NoError(t, err, "live requests survive cleanup")
}

func TestHousekeepingStartStop(t *testing.T) {
	env := newTestEnv(t)
	sweeper := &countingSweeper{}

	hk := NewHousekeepingService(env.store, slogx.Discard(), time.Hour, sweeper)
	hk.Start()
	hk.Stop()

	require.GreaterOrEqual(t, sweeper.calls, 1, "cleanup runs once on start")
}
