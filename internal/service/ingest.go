package service

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagen/ccepg/internal/models"
	"github.com/voyagen/ccepg/internal/store"
)

// IngestResult classifies what happened to one entry draft.
type IngestResult string

const (
	IngestCreated     IngestResult = "created"
	IngestDuplicate   IngestResult = "skipped-duplicate"
	IngestOutOfWindow IngestResult = "skipped-out-of-window"
	IngestInvalid     IngestResult = "skipped-invalid"
)

// IngestHorizon bounds how far ahead of now an entry may start.
const IngestHorizon = 48 * time.Hour

// EntryIngestor stores entry drafts that fall inside the ingest window,
// once per key.
type EntryIngestor struct {
	store store.Store
	now   func() time.Time
}

// NewEntryIngestor creates an ingestor. now defaults to time.Now.
func NewEntryIngestor(s store.Store, now func() time.Time) *EntryIngestor {
	if now == nil {
		now = time.Now
	}
	return &EntryIngestor{store: s, now: now}
}

// InWindow reports whether an airing is eligible at now: it must not have
// ended and must start within the horizon. An airing in progress qualifies.
func InWindow(start, end, now time.Time) bool {
	if !end.After(now) {
		return false
	}
	return !start.After(now.Add(IngestHorizon))
}

// minDuration is the shortest airing that can be stored; durations are
// kept in whole seconds and must be positive.
const minDuration = time.Second

// Ingest stores draft if it is new and inside the window. Drafts shorter
// than minDuration are rejected before the store is consulted. Stored
// entries are never updated.
func (g *EntryIngestor) Ingest(ctx context.Context, draft models.EntryDraft) (IngestResult, error) {
	if draft.End.Sub(draft.Start) < minDuration {
		return IngestInvalid, nil
	}
	key := draft.Key()
	exists, err := g.store.EntryExists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("Ingest %s: %w", key, err)
	}
	if exists {
		return IngestDuplicate, nil
	}

	now := g.now()
	if !InWindow(draft.Start, draft.End, now) {
		return IngestOutOfWindow, nil
	}

	e := &models.Entry{
		Key:             key,
		Title:           draft.Title,
		Description:     draft.Description,
		ArtworkURL:      draft.ArtworkURL,
		StartMs:         draft.Start.UnixMilli(),
		EndMs:           draft.End.UnixMilli(),
		DurationSeconds: int64(draft.End.Sub(draft.Start) / time.Second),
		Categories:      draft.Categories,
		Provider:        draft.Provider,
		ChannelRef:      draft.ChannelRef,
		NewEpisode:      draft.NewEpisode,
		IngestedAt:      now,
	}
	if e.Categories == nil {
		e.Categories = []string{}
	}
	inserted, err := g.store.InsertEntry(ctx, e)
	if err != nil {
		return "", fmt.Errorf("Ingest %s: %w", key, err)
	}
	if !inserted {
		return IngestDuplicate, nil
	}
	return IngestCreated, nil
}
