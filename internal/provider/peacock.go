package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/voyagen/ccepg/internal/models"
)

const peacockGuideURL = "https://bff-ext.clients.peacocktv.com/bff/channel_guide"

// PeacockGuide is the channel_guide response.
type PeacockGuide struct {
	Channels []PeacockChannel `json:"channels"`
}

// PeacockChannel is one channel with its embedded schedule.
type PeacockChannel struct {
	ID            string          `json:"id"`
	GracenoteID   string          `json:"gracenoteId"`
	ScheduleItems []PeacockAiring `json:"scheduleItems"`
	ServiceKey    string          `json:"serviceKey"`
	Logo          struct {
		Default string `json:"Default"`
	} `json:"logo"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	EPGNumber int    `json:"epgNumber"`
}

// PeacockAiring is one schedule item.
type PeacockAiring struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channelId"`
	StartTimeUTC    int64  `json:"startTimeUTC"`
	DurationSeconds int64  `json:"durationSeconds"`
	AiringType      string `json:"airingType"`
	Data            struct {
		Type          string            `json:"type"`
		Title         string            `json:"title"`
		Description   string            `json:"description"`
		EpisodeNumber int               `json:"episodeNumber"`
		SeasonNumber  int               `json:"seasonNumber"`
		Images        map[string]string `json:"images"`
	} `json:"data"`
}

// Peacock fetches the Peacock linear channel guide.
type Peacock struct {
	opts    Options
	client  *http.Client
	BaseURL string
}

// NewPeacock creates a Peacock provider.
func NewPeacock(opts Options) *Peacock {
	return &Peacock{opts: opts, client: opts.httpClient(), BaseURL: peacockGuideURL}
}

func (p *Peacock) Key() string  { return models.ProviderPeacock }
func (p *Peacock) Name() string { return DisplayName(models.ProviderPeacock) }

// RefreshTokens is a no-op; the guide endpoint is unauthenticated.
func (p *Peacock) RefreshTokens(context.Context) error { return nil }

// Fetch requests the guide starting just before the current time slot.
func (p *Peacock) Fetch(ctx context.Context) (*Payload, error) {
	q := url.Values{}
	q.Set("startTime", peacockStartTime(p.opts.now()))
	q.Set("contentSegments", "D2C,Free")

	headers := map[string]string{
		"X-SkyOTT-Device":      "COMPUTER",
		"X-SkyOTT-Language":    "en",
		"X-SkyOTT-Platform":    "PC",
		"X-SkyOTT-Proposition": "NBCUOTT",
		"X-SkyOTT-Territory":   "US",
		"User-Agent":           p.opts.UserAgent,
	}

	var guide PeacockGuide
	if err := fetchJSON(ctx, p.client, p.BaseURL+"?"+q.Encode(), headers, &guide); err != nil {
		return nil, fmt.Errorf("peacock guide: %w", err)
	}
	return &Payload{Provider: models.ProviderPeacock, Peacock: &guide}, nil
}

// peacockStartTime rounds now to the nearest five minutes and steps back
// one hour; the guide endpoint rejects unaligned start times.
func peacockStartTime(now time.Time) string {
	m := int(math.Round(float64(now.Minute())/5)) * 5
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return hour.Add(time.Duration(m)*time.Minute - time.Hour).Format("2006-01-02T15:04-07:00")
}

// NormalizeChannels maps Peacock channels onto canonical channels.
func (p *Peacock) NormalizeChannels(payload *Payload) ([]models.Channel, error) {
	if payload == nil || payload.Peacock == nil {
		return nil, mismatch(models.ProviderPeacock, payload)
	}
	out := make([]models.Channel, 0, len(payload.Peacock.Channels))
	for _, c := range payload.Peacock.Channels {
		if c.ID == "" {
			continue
		}
		kind := models.KindOnDemand
		if strings.Contains(c.Type, "linear") {
			kind = models.KindLinear
		}
		logo := strings.NewReplacer("{width}", "360", "{height}", "270").Replace(c.Logo.Default)
		out = append(out, models.Channel{
			ID:         c.ID,
			Name:       strings.TrimSpace(c.Name),
			StreamURL:  "https://www.peacocktv.com/watch/playback/live/" + c.ServiceKey,
			ArtworkURL: logo,
			GuideID:    c.GracenoteID,
			Provider:   models.ProviderPeacock,
			Kind:       kind,
			EPGNumber:  c.EPGNumber,
			Enabled:    true,
		})
	}
	return out, nil
}

// NormalizeEvents flattens every channel's schedule into entry drafts.
func (p *Peacock) NormalizeEvents(payload *Payload) ([]models.EntryDraft, error) {
	if payload == nil || payload.Peacock == nil {
		return nil, mismatch(models.ProviderPeacock, payload)
	}
	var out []models.EntryDraft
	for _, c := range payload.Peacock.Channels {
		for _, a := range c.ScheduleItems {
			if a.ID == "" {
				continue
			}
			start := time.Unix(a.StartTimeUTC, 0)
			end := start.Add(time.Duration(a.DurationSeconds) * time.Second)
			if !end.After(start) {
				log.Debug().Str("provider", models.ProviderPeacock).Str("event", a.ID).Msg("dropping airing with empty window")
				continue
			}
			out = append(out, models.EntryDraft{
				EventID:     a.ID,
				RawStart:    strconv.FormatInt(a.StartTimeUTC, 10),
				Start:       start,
				End:         end,
				Title:       strings.TrimSpace(a.Data.Title),
				Description: a.Data.Description,
				ArtworkURL:  a.Data.Images["16-9"],
				Categories:  []string{p.Name()},
				Provider:    models.ProviderPeacock,
				ChannelRef:  c.ID,
				NewEpisode:  a.AiringType == "New",
			})
		}
	}
	return out, nil
}
