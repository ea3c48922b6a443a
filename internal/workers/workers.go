package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pulse/internal/engine/events"
	"pulse/internal/engine/publish"
)

// Sweeper is the rate-limit window table.
type Sweeper interface {
	Sweep() int
}

// PurgeEvents enforces the event retention horizon. Best effort: failures
// are logged, never fatal.
func PurgeEvents(eventLog *events.Log, retentionDays int) {
	n, err := eventLog.PurgeOlderThan(time.Duration(retentionDays) * 24 * time.Hour)
	if err != nil {
		log.Error().Err(err).Msg("event retention purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("purged", n).Msg("purged expired events")
	}
}

// SweepRateLimits drops expired rate-limit windows to bound memory.
func SweepRateLimits(limiter Sweeper) {
	if n := limiter.Sweep(); n > 0 {
		log.Debug().Int("removed", n).Msg("swept expired rate limit windows")
	}
}

// ReconcilePublishing reverts destinations stuck in publishing past the TTL
// so they become retry-eligible.
func ReconcilePublishing(orch *publish.Orchestrator, ttl time.Duration) {
	if _, err := orch.ReconcileStuckPublishing(ttl); err != nil {
		log.Error().Err(err).Msg("publishing reconciliation failed")
	}
}

// RetryFailedDestinations republishes failed destinations whose retry
// window has opened.
func RetryFailedDestinations(ctx context.Context, orch *publish.Orchestrator) {
	if n := orch.RetryDue(ctx); n > 0 {
		log.Info().Int("retried", n).Msg("retried failed destinations")
	}
}
