package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/voyagen/ccepg/internal/models"
	"github.com/voyagen/ccepg/internal/store"
)

// ChannelRegistry maps provider channels onto stable sequential numbers.
type ChannelRegistry struct {
	store store.Store
	mu    sync.Mutex
}

// NewChannelRegistry creates a registry over s.
func NewChannelRegistry(s store.Store) *ChannelRegistry {
	return &ChannelRegistry{store: s}
}

// Upsert registers draft. A new channel gets the next free number and is
// enabled; a known channel has its descriptive fields refreshed while its
// number and enabled flag are kept.
func (r *ChannelRegistry) Upsert(ctx context.Context, draft models.Channel) (models.Channel, bool, error) {
	if draft.Provider == "" || draft.ID == "" {
		return models.Channel{}, false, fmt.Errorf("Upsert: channel needs provider and id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.GetChannel(ctx, draft.Provider, draft.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		ch := draft
		ch.Enabled = true
		if err := r.store.InsertChannel(ctx, &ch); err != nil {
			return models.Channel{}, false, fmt.Errorf("Upsert %s/%s: %w", draft.Provider, draft.ID, err)
		}
		return ch, true, nil
	case err != nil:
		return models.Channel{}, false, fmt.Errorf("Upsert %s/%s: %w", draft.Provider, draft.ID, err)
	}

	ch := draft
	ch.Number = existing.Number
	ch.Enabled = existing.Enabled
	if err := r.store.UpdateChannel(ctx, &ch); err != nil {
		return models.Channel{}, false, fmt.Errorf("Upsert %s/%s: %w", draft.Provider, draft.ID, err)
	}
	return ch, false, nil
}

// Lookup returns the channel registered for (provider, id).
func (r *ChannelRegistry) Lookup(ctx context.Context, provider, id string) (*models.Channel, error) {
	return r.store.GetChannel(ctx, provider, id)
}
