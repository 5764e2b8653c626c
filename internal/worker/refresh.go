// Package worker holds background jobs that run alongside the HTTP server.
package worker

import (
	"context"
	"time"

	"github.com/sortify-app/sortify-api/internal/logging"
	"github.com/sortify-app/sortify-api/internal/oauth"
)

// sweepBatchSize bounds how many connections a single sweep touches.
const sweepBatchSize = 50

// RefreshSweeper proactively refreshes OAuth connections that are close to
// expiry, so interactive requests rarely pay the refresh latency. The
// sweep is an optimization only: lazy refresh on read remains the
// correctness path, and the sweeper is disabled by default.
type RefreshSweeper struct {
	manager *oauth.Manager
	logger  *logging.Logger
	window  time.Duration
}

func NewRefreshSweeper(manager *oauth.Manager, logger *logging.Logger, window time.Duration) *RefreshSweeper {
	return &RefreshSweeper{
		manager: manager,
		logger:  logger,
		window:  window,
	}
}

// Start runs the sweep on the given interval until the context is
// cancelled. Blocking; callers run it in a goroutine.
func (s *RefreshSweeper) Start(ctx context.Context, interval time.Duration) {
	s.logger.WithFields(map[string]any{
		"interval": interval.String(),
		"window":   s.window.String(),
	}).Info("refresh sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Individual refresh failures are handled
// inside the manager; only listing failures surface here.
func (s *RefreshSweeper) RunOnce(ctx context.Context) {
	refreshed, err := s.manager.RefreshExpiring(ctx, s.window, sweepBatchSize)
	if err != nil {
		s.logger.WithFields(map[string]any{"error": err.Error()}).Error("refresh sweep failed")
		return
	}

	if refreshed > 0 {
		s.logger.WithFields(map[string]any{"refreshed": refreshed}).Info("refresh sweep completed")
	}
}
