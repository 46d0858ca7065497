// Package provider fetches raw guide payloads from upstream services and
// normalizes them into canonical channels and entry drafts.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/voyagen/ccepg/internal/models"
)

// ErrPayloadMismatch is returned when a normalizer receives another provider's payload.
var ErrPayloadMismatch = errors.New("payload does not belong to this provider")

// Payload is the raw result of one provider fetch. Exactly one of the
// provider-specific fields is set, matching Provider.
type Payload struct {
	Provider string
	Peacock  *PeacockGuide
	ABC      *ABCGuide
}

// Client fetches raw payloads from one upstream provider.
type Client interface {
	// Key is the stable provider key, also used as its enablement setting.
	Key() string
	// Fetch retrieves the current channel line-up and schedule.
	Fetch(ctx context.Context) (*Payload, error)
	// RefreshTokens renews provider credentials. Providers without
	// credentials implement it as a no-op.
	RefreshTokens(ctx context.Context) error
}

// Normalizer maps a provider payload onto canonical records.
type Normalizer interface {
	NormalizeChannels(p *Payload) ([]models.Channel, error)
	NormalizeEvents(p *Payload) ([]models.EntryDraft, error)
}

// Provider is a Client paired with its Normalizer.
type Provider interface {
	Client
	Normalizer
	// Name is the human-readable provider name used as an entry category.
	Name() string
}

// Options configures provider clients.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client     // overrides Timeout when set
	Now        func() time.Time // defaults to time.Now
	Location   *time.Location   // zone used for request windows; defaults to time.Local
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (o Options) now() time.Time {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	loc := o.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Defaults returns the built-in providers in fetch order.
func Defaults(opts Options) []Provider {
	return []Provider{NewPeacock(opts), NewABC(opts)}
}

// DisplayName returns the human-readable name for a provider key.
func DisplayName(key string) string {
	switch key {
	case models.ProviderPeacock:
		return "Peacock"
	case models.ProviderABC:
		return "ABC"
	default:
		return key
	}
}

func mismatch(want string, p *Payload) error {
	got := "<nil>"
	if p != nil {
		got = p.Provider
	}
	return fmt.Errorf("%w: want %s, got %s", ErrPayloadMismatch, want, got)
}
