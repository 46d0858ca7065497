package store

import (
	"context"
	"errors"
	"time"

	"github.com/voyagen/ccepg/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when inserting a record whose identity already exists.
	ErrConflict = errors.New("already exists")
)

// Store defines persistence for channels, entries, and misc settings.
type Store interface {
	// GetChannel returns the channel with the given provider-scoped id.
	GetChannel(ctx context.Context, provider, id string) (*models.Channel, error)
	// InsertChannel inserts a new channel, assigning max(number)+1 as its number.
	// The assigned number is written back to ch.
	InsertChannel(ctx context.Context, ch *models.Channel) error
	// UpdateChannel updates the mutable fields of an existing channel.
	// Number and Enabled are left untouched.
	UpdateChannel(ctx context.Context, ch *models.Channel) error
	// SetChannelEnabled sets the user-controlled enabled flag.
	SetChannelEnabled(ctx context.Context, provider, id string, enabled bool) error
	// ListChannels returns channels matching the filter ordered by number.
	ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error)

	// EntryExists reports whether an entry with key is stored.
	EntryExists(ctx context.Context, key string) (bool, error)
	// InsertEntry stores e unless its key exists; reports whether it was inserted.
	InsertEntry(ctx context.Context, e *models.Entry) (bool, error)
	// ListUnassignedEntries returns entries without a channel number, ascending by start.
	ListUnassignedEntries(ctx context.Context) ([]models.Entry, error)
	// ListAssignedEntries returns entries with a channel number, ascending by start.
	ListAssignedEntries(ctx context.Context) ([]models.Entry, error)
	// AssignEntry sets the channel number of an unassigned entry.
	// Returns ErrNotFound if no unassigned entry has that key.
	AssignEntry(ctx context.Context, key string, number int) error
	// DeleteUnassignedEntries removes unassigned entries ingested before cutoff.
	DeleteUnassignedEntries(ctx context.Context, ingestedBefore time.Time) (int64, error)
	// DeleteEndedEntries removes entries ending at or before t.
	DeleteEndedEntries(ctx context.Context, t time.Time) (int64, error)

	// GetSetting returns a misc setting value; ErrNotFound when unset.
	GetSetting(ctx context.Context, key string) (string, error)
	// PutSetting creates or replaces a misc setting.
	PutSetting(ctx context.Context, key, value string) error
	// InitSetting stores value only if key is unset and returns the stored value.
	InitSetting(ctx context.Context, key, value string) (string, error)
}

// ChannelFilter holds optional filters for listing channels.
type ChannelFilter struct {
	Provider *string
	Enabled  *bool
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
	_ Store = (*CachedStore)(nil)
)
