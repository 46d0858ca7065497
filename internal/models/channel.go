package models

// Channel is a tunable line-up entry discovered from a provider.
// Number is assigned once by the channel registry and never changes.
type Channel struct {
	ID         string `json:"id"`
	Number     int    `json:"number"`
	Name       string `json:"name"`
	StreamURL  string `json:"stream_url"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	GuideID    string `json:"guide_id,omitempty"` // gracenote station id, empty when unknown
	Provider   string `json:"provider"`
	Kind       string `json:"kind"`
	EPGNumber  int    `json:"epg_number,omitempty"`
	Enabled    bool   `json:"enabled"`
}
