package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AttemptReaper is the part of the attempt lifecycle the reaper drives.
type AttemptReaper interface {
	ReapExpired(ctx context.Context) (int, error)
	ReconcileLeases(ctx context.Context) (int, error)
}

// ExpiryReaper periodically times out overdue attempts and releases leases
// left behind by terminal ones.
type ExpiryReaper struct {
	attempts AttemptReaper
	interval time.Duration
	log      zerolog.Logger
}

// NewExpiryReaper creates a new ExpiryReaper.
func NewExpiryReaper(attempts AttemptReaper, interval time.Duration, log zerolog.Logger) *ExpiryReaper {
	return &ExpiryReaper{
		attempts: attempts,
		interval: interval,
		log:      log.With().Str("component", "expiry_reaper").Logger(),
	}
}

// Start sweeps once immediately, then on every tick until ctx is done.
// Call in a goroutine.
func (w *ExpiryReaper) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one reaping pass.
func (w *ExpiryReaper) Sweep(ctx context.Context) {
	reaped, err := w.attempts.ReapExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Reap expired attempts failed")
	}

	released, err := w.attempts.ReconcileLeases(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Lease reconciliation failed")
	}

	if reaped > 0 || released > 0 {
		w.log.Info().
			Int("timed_out", reaped).
			Int("leases_released", released).
			Msg("Sweep complete")
	}
}
