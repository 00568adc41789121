package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
)

// Sweeper drops elapsed in-memory state. The rate limiters and the memory
// challenge store implement it.
type Sweeper interface {
	Sweep() int
}

// HousekeepingService periodically purges expired authorization requests
// and elapsed in-memory windows so neither grows without bound.
type HousekeepingService struct {
	Store    store.Store
	Sweepers []Sweeper
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 minute.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration, sweepers ...Sweeper) *HousekeepingService {
	if interval <= 0 {
		interval = time.Minute
	}

	return &HousekeepingService{
		Store:    store,
		Sweepers: sweepers,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop() to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass. Each step is independent, a failure in one does
// not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	deleted, err := s.Store.PKCERequests().DeleteExpiredPKCERequests(ctx, timeNow().UTC())
	if err != nil {
		s.Logger.Error("failed to delete expired authorization requests", "error", err)
	}

	swept := 0
	for _, sw := range s.Sweepers {
		swept += sw.Sweep()
	}

	s.Logger.Debug("housekeeping cleanup completed",
		"pkce_deleted", deleted,
		"windows_swept", swept,
	)
}
