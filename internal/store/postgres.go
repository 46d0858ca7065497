package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagen/ccepg/internal/models"
)

const pgUniqueViolation = "23505"

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const channelColumns = `provider, id, number, name, stream_url, artwork_url, guide_id, kind, epg_number, enabled`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.Provider, &ch.ID, &ch.Number, &ch.Name, &ch.StreamURL,
		&ch.ArtworkURL, &ch.GuideID, &ch.Kind, &ch.EPGNumber, &ch.Enabled)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChannel returns a channel by provider and provider-scoped id.
func (p *Postgres) GetChannel(ctx context.Context, provider, id string) (*models.Channel, error) {
	ch, err := scanChannel(p.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE provider = $1 AND id = $2`,
		provider, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetChannel: %w", err)
	}
	return ch, nil
}

// InsertChannel inserts a channel numbered one past the current maximum.
// The UNIQUE constraint on number rejects a racing insert instead of
// handing out the same number twice.
func (p *Postgres) InsertChannel(ctx context.Context, ch *models.Channel) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO channels (provider, id, number, name, stream_url, artwork_url, guide_id, kind, epg_number, enabled)
		 SELECT $1::text, $2::text, COALESCE(MAX(number), 0) + 1, $3::text, $4::text, $5::text, $6::text, $7::text, $8::integer, $9::boolean
		 FROM channels
		 RETURNING number`,
		ch.Provider, ch.ID, ch.Name, ch.StreamURL, ch.ArtworkURL, ch.GuideID, ch.Kind, ch.EPGNumber, ch.Enabled,
	).Scan(&ch.Number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("InsertChannel %s/%s: %w", ch.Provider, ch.ID, ErrConflict)
		}
		return fmt.Errorf("InsertChannel: %w", err)
	}
	return nil
}

// UpdateChannel updates the mutable fields of a channel.
func (p *Postgres) UpdateChannel(ctx context.Context, ch *models.Channel) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE channels SET name = $3, stream_url = $4, artwork_url = $5, guide_id = $6, kind = $7, epg_number = $8
		 WHERE provider = $1 AND id = $2`,
		ch.Provider, ch.ID, ch.Name, ch.StreamURL, ch.ArtworkURL, ch.GuideID, ch.Kind, ch.EPGNumber,
	)
	if err != nil {
		return fmt.Errorf("UpdateChannel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChannelEnabled sets the enabled flag on a channel.
func (p *Postgres) SetChannelEnabled(ctx context.Context, provider, id string, enabled bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE channels SET enabled = $3 WHERE provider = $1 AND id = $2`,
		provider, id, enabled,
	)
	if err != nil {
		return fmt.Errorf("SetChannelEnabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChannels returns channels matching filter ordered by number.
func (p *Postgres) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE ($1::text IS NULL OR provider = $1)
		   AND ($2::boolean IS NULL OR enabled = $2)
		 ORDER BY number`,
		filter.Provider, filter.Enabled,
	)
	if err != nil {
		return nil, fmt.Errorf("ListChannels: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("ListChannels scan: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// EntryExists reports whether an entry with key is stored.
func (p *Postgres) EntryExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM entries WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("EntryExists: %w", err)
	}
	return exists, nil
}

// InsertEntry inserts e; an existing key leaves the stored row untouched.
func (p *Postgres) InsertEntry(ctx context.Context, e *models.Entry) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO entries (key, title, description, artwork_url, start_ms, end_ms, duration_seconds,
		                      categories, provider, channel_ref, channel_number, new_episode, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (key) DO NOTHING`,
		e.Key, e.Title, e.Description, e.ArtworkURL, e.StartMs, e.EndMs, e.DurationSeconds,
		e.Categories, e.Provider, e.ChannelRef, e.ChannelNumber, e.NewEpisode, e.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("InsertEntry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const entryColumns = `key, title, description, artwork_url, start_ms, end_ms, duration_seconds,
	categories, provider, channel_ref, channel_number, new_episode, ingested_at`

func (p *Postgres) listEntries(ctx context.Context, where string) ([]models.Entry, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+entryColumns+` FROM entries WHERE `+where+` ORDER BY start_ms, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.Key, &e.Title, &e.Description, &e.ArtworkURL, &e.StartMs, &e.EndMs,
			&e.DurationSeconds, &e.Categories, &e.Provider, &e.ChannelRef, &e.ChannelNumber,
			&e.NewEpisode, &e.IngestedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListUnassignedEntries returns entries awaiting a channel number.
func (p *Postgres) ListUnassignedEntries(ctx context.Context) ([]models.Entry, error) {
	out, err := p.listEntries(ctx, `channel_number IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("ListUnassignedEntries: %w", err)
	}
	return out, nil
}

// ListAssignedEntries returns entries that have a channel number.
func (p *Postgres) ListAssignedEntries(ctx context.Context) ([]models.Entry, error) {
	out, err := p.listEntries(ctx, `channel_number IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("ListAssignedEntries: %w", err)
	}
	return out, nil
}

// AssignEntry sets channel_number once; assigned entries are never renumbered.
func (p *Postgres) AssignEntry(ctx context.Context, key string, number int) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE entries SET channel_number = $2 WHERE key = $1 AND channel_number IS NULL`,
		key, number,
	)
	if err != nil {
		return fmt.Errorf("AssignEntry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUnassignedEntries removes unassigned entries ingested before the cutoff.
func (p *Postgres) DeleteUnassignedEntries(ctx context.Context, ingestedBefore time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM entries WHERE channel_number IS NULL AND ingested_at < $1`,
		ingestedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteUnassignedEntries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteEndedEntries removes entries that ended at or before t.
func (p *Postgres) DeleteEndedEntries(ctx context.Context, t time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM entries WHERE end_ms <= $1`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("DeleteEndedEntries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetSetting returns the value stored under key.
func (p *Postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := p.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("GetSetting: %w", err)
	}
	return v, nil
}

// PutSetting upserts a setting.
func (p *Postgres) PutSetting(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("PutSetting: %w", err)
	}
	return nil
}

// InitSetting stores value if key is unset and returns whatever is stored.
func (p *Postgres) InitSetting(ctx context.Context, key, value string) (string, error) {
	var v string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET key = settings.key
		 RETURNING value`,
		key, value,
	).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("InitSetting: %w", err)
	}
	return v, nil
}
