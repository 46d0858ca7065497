package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/voyagen/ccepg/internal/store"
)

// AssignResult counts the outcome of one assignment pass.
type AssignResult struct {
	Assigned   int `json:"assigned"`
	Unresolved int `json:"unresolved"`
}

// ChannelAssigner attaches registered channel numbers to unassigned entries.
type ChannelAssigner struct {
	store store.Store
}

// NewChannelAssigner creates an assigner over s.
func NewChannelAssigner(s store.Store) *ChannelAssigner {
	return &ChannelAssigner{store: s}
}

// AssignAll walks unassigned entries in start order and gives each the
// number of the channel it references. Entries whose channel is unknown
// stay unassigned; per-entry failures are logged and skipped.
func (a *ChannelAssigner) AssignAll(ctx context.Context) (AssignResult, error) {
	var res AssignResult

	entries, err := a.store.ListUnassignedEntries(ctx)
	if err != nil {
		return res, fmt.Errorf("AssignAll: %w", err)
	}

	// Entries mostly share a handful of channels.
	numbers := make(map[string]int)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("AssignAll cancelled: %w", err)
		}

		ref := e.Provider + "/" + e.ChannelRef
		number, ok := numbers[ref]
		if !ok {
			ch, err := a.store.GetChannel(ctx, e.Provider, e.ChannelRef)
			if errors.Is(err, store.ErrNotFound) {
				log.Debug().Str("entry", e.Key).Str("channel", ref).Msg("no channel for entry")
				res.Unresolved++
				continue
			}
			if err != nil {
				log.Warn().Err(err).Str("entry", e.Key).Msg("channel lookup failed")
				continue
			}
			number = ch.Number
			numbers[ref] = number
		}

		if err := a.store.AssignEntry(ctx, e.Key, number); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Warn().Err(err).Str("entry", e.Key).Msg("assign entry failed")
			}
			continue
		}
		res.Assigned++
	}
	return res, nil
}
