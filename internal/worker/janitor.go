package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Purger deletes records last saved before cutoff.
type Purger interface {
	Collection() string
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically deletes session records nobody can resume any more.
type Janitor struct {
	purger     Purger
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewJanitor creates a janitor that purges records older than staleAfter every interval.
func NewJanitor(purger Purger, staleAfter, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		purger:     purger,
		staleAfter: staleAfter,
		interval:   interval,
		now:        time.Now,
		log: log.With().
			Str("component", "session_janitor").
			Str("collection", purger.Collection()).
			Logger(),
	}
}

// Start runs one sweep immediately and then one per interval until ctx ends. Call in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	j.log.Info().Dur("stale_after", j.staleAfter).Dur("interval", j.interval).Msg("Worker started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep purges once and returns the number of records removed.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.staleAfter)
	purged, err := j.purger.PurgeStale(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			j.log.Error().Err(err).Msg("Purge failed")
		}
		return 0
	}
	if purged > 0 {
		j.log.Info().Int64("count", purged).Time("cutoff", cutoff).Msg("Purged stale sessions")
	}
	return purged
}
