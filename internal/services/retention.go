// Package services – retention sweep
//
// Conversations with no activity for MaxAge are hard-deleted, cascading to
// their messages. In the original deployment this ran as an external
// scheduled job; here it is an owned background loop started from main.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/driftline/livechat-backend/internal/repo"
)

// RetentionSweeper deletes conversations whose last activity is older than
// MaxAge. Audit records are retained: the log is append-only by design.
type RetentionSweeper struct {
	DB *gorm.DB

	// MaxAge is the inactivity horizon; 0 means the default of 30 days.
	MaxAge time.Duration
	// Interval is the sweep cadence for Run; 0 means the default of 12h.
	Interval time.Duration
}

// SweepOnce deletes everything past the horizon and returns the number of
// conversations removed.
func (r *RetentionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	maxAge := r.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	return repo.DeleteConversationsInactiveSince(ctx, r.DB, cutoff)
}

// Run sweeps on Interval until ctx is cancelled. Failures are logged and the
// loop keeps going; a missed sweep only delays deletion.
func (r *RetentionSweeper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed, err := r.SweepOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			if removed > 0 {
				log.Info().Int64("removed", removed).Msg("retention sweep")
			}
		}
	}
}
