package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/voyagen/ccepg/internal/store"
)

// SweepResult counts the entries removed by one sweep.
type SweepResult struct {
	Orphans int64 `json:"orphans"`
	Ended   int64 `json:"ended"`
}

// RetentionSweeper deletes entries that can no longer be exported.
type RetentionSweeper struct {
	store store.Store
	now   func() time.Time
}

// NewRetentionSweeper creates a sweeper. now defaults to time.Now.
func NewRetentionSweeper(s store.Store, now func() time.Time) *RetentionSweeper {
	if now == nil {
		now = time.Now
	}
	return &RetentionSweeper{store: s, now: now}
}

// Sweep removes unassigned entries left over from runs before runStartedAt
// and every entry that has already ended.
func (w *RetentionSweeper) Sweep(ctx context.Context, runStartedAt time.Time) (SweepResult, error) {
	var res SweepResult
	var err error

	res.Orphans, err = w.store.DeleteUnassignedEntries(ctx, runStartedAt)
	if err != nil {
		return res, fmt.Errorf("Sweep orphans: %w", err)
	}
	res.Ended, err = w.store.DeleteEndedEntries(ctx, w.now())
	if err != nil {
		return res, fmt.Errorf("Sweep ended: %w", err)
	}

	log.Debug().Int64("orphans", res.Orphans).Int64("ended", res.Ended).Msg("sweep done")
	return res, nil
}
