package models

import "time"

// Entry is a single scheduled airing in canonical form.
type Entry struct {
	Key             string    `json:"key"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ArtworkURL      string    `json:"artwork_url,omitempty"`
	StartMs         int64     `json:"start_ms"`
	EndMs           int64     `json:"end_ms"`
	DurationSeconds int64     `json:"duration_seconds"`
	Categories      []string  `json:"categories"`
	Provider        string    `json:"provider"`
	ChannelRef      string    `json:"channel_ref"`
	ChannelNumber   *int      `json:"channel_number,omitempty"`
	NewEpisode      bool      `json:"new_episode"`
	IngestedAt      time.Time `json:"ingested_at"`
}

// EntryKey builds the deduplication key for a provider airing.
func EntryKey(eventID, rawStart string) string {
	return eventID + "-" + rawStart
}

// Start returns the airing start time.
func (e Entry) Start() time.Time { return time.UnixMilli(e.StartMs) }

// End returns the airing end time.
func (e Entry) End() time.Time { return time.UnixMilli(e.EndMs) }

// EntryDraft is a normalized airing before ingestion. RawStart is the
// provider's start value exactly as received and feeds the entry key.
type EntryDraft struct {
	EventID     string
	RawStart    string
	Start       time.Time
	End         time.Time
	Title       string
	Description string
	ArtworkURL  string
	Categories  []string
	Provider    string
	ChannelRef  string
	NewEpisode  bool
}

// Key returns the entry key the draft will be stored under.
func (d EntryDraft) Key() string { return EntryKey(d.EventID, d.RawStart) }
