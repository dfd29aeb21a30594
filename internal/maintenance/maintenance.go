// Package maintenance provides history retention tasks for the database.
package maintenance

import (
	"context"
	"time"

	"github.com/woozymasta/gtpulse/internal/config"
	"github.com/woozymasta/gtpulse/internal/logger"
)

// Pruner deletes history recorded before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (samples, events int64, err error)
}

// Run checks if any maintenance flags are set and executes the corresponding tasks.
// Returns true if a maintenance task was executed (indicating the program should exit).
func Run(ctx context.Context, cfg *config.Config, store Pruner) bool {
	if !cfg.Storage.Prune {
		return false
	}

	_ = Prune(ctx, store, time.Now(), cfg.Storage.Retention)
	return true
}

// Prune removes history older than retention relative to now.
func Prune(ctx context.Context, store Pruner, now time.Time, retention time.Duration) error {
	log := logger.For("maintenance")
	cutoff := now.Add(-retention)

	log.Info().Time("before", cutoff).Msg("Pruning history...")
	samples, events, err := store.Prune(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune history")
		return err
	}

	log.Info().
		Int64("samples", samples).
		Int64("events", events).
		Msg("Prune finished")

	return nil
}

// Schedule prunes every interval until ctx is done. A non-positive interval
// or retention disables it.
func Schedule(ctx context.Context, store Pruner, every, retention time.Duration) {
	if every <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_ = Prune(ctx, store, now, retention)
		}
	}
}
