package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/voyagen/ccepg/internal/models"
)

const (
	abcGeoURL   = "https://prod.gatekeeper.us-abc.symphony.edgedatg.go.com/vp2/ws/utils/2021/geo/video/geolocation/001/001/gt/-1.jsonp"
	abcGuideURL = "https://prod.gatekeeper.us-abc.symphony.edgedatg.com/api/ws/pluto/v1/module/categoryguide/4204541"
)

// ErrNoAffiliate is returned when the geolocation lookup lists no
// affiliate carrying the live channels.
var ErrNoAffiliate = errors.New("no available abc affiliate")

// ABCImage is one artwork rendition.
type ABCImage struct {
	Value  string `json:"value"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ABCAiring is the schedule slot embedded under a channel.
type ABCAiring struct {
	TMSID          string  `json:"tmsid"`
	Duration       float64 `json:"duration"`
	DisplayAirtime string  `json:"displayAirtime"`
}

// ABCChannel is one channel of a guide category.
type ABCChannel struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	URLValue string      `json:"urlValue"`
	Airings  []ABCAiring `json:"airings"`
	Images   []ABCImage  `json:"images"`
}

// ABCProgram carries program metadata, joined to airings by TMSID.
type ABCProgram struct {
	TMSID       string     `json:"tmsid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Images      []ABCImage `json:"images"`
	Genre       string     `json:"genre"`
	ShowTitle   string     `json:"showTitle"`
	Season      int        `json:"season"`
	Episode     int        `json:"episode"`
}

// ABCGuide is the category guide response.
type ABCGuide struct {
	Categories []struct {
		Channels []ABCChannel `json:"channels"`
	} `json:"categories"`
	Programs []ABCProgram `json:"programs"`
}

type abcGeo struct {
	User struct {
		Allowed bool   `json:"allowed"`
		Zipcode string `json:"zipcode"`
	} `json:"user"`
	Affiliates struct {
		Affiliate []struct {
			Name               string `json:"name"`
			Logo               string `json:"logo"`
			DMA                string `json:"dma"`
			IsChannelAvailable bool   `json:"isChannelAvailable"`
		} `json:"affiliate"`
	} `json:"affiliates"`
}

// ABC fetches the ABC category guide for the caller's local affiliate.
type ABC struct {
	opts     Options
	client   *http.Client
	GeoURL   string
	GuideURL string
}

// NewABC creates an ABC provider.
func NewABC(opts Options) *ABC {
	return &ABC{opts: opts, client: opts.httpClient(), GeoURL: abcGeoURL, GuideURL: abcGuideURL}
}

func (a *ABC) Key() string  { return models.ProviderABC }
func (a *ABC) Name() string { return DisplayName(models.ProviderABC) }

// RefreshTokens is a no-op; the guide is served without credentials.
func (a *ABC) RefreshTokens(context.Context) error { return nil }

// Fetch resolves the local affiliate, then requests its guide.
func (a *ABC) Fetch(ctx context.Context) (*Payload, error) {
	headers := map[string]string{"User-Agent": a.opts.UserAgent}

	var geo abcGeo
	if err := fetchJSON(ctx, a.client, a.GeoURL, headers, &geo); err != nil {
		return nil, fmt.Errorf("abc geolocation: %w", err)
	}
	affiliate := ""
	for _, af := range geo.Affiliates.Affiliate {
		if af.IsChannelAvailable {
			affiliate = af.Name
			break
		}
	}
	if affiliate == "" {
		return nil, ErrNoAffiliate
	}

	var guide ABCGuide
	if err := fetchJSON(ctx, a.client, abcGuideQuery(a.GuideURL, a.opts.now(), affiliate), headers, &guide); err != nil {
		return nil, fmt.Errorf("abc guide: %w", err)
	}
	return &Payload{Provider: models.ProviderABC, ABC: &guide}, nil
}

// abcGuideQuery builds the guide URL. The start time layout is hour
// followed by month, which is what the endpoint has always been sent.
func abcGuideQuery(base string, now time.Time, affiliate string) string {
	end := time.Date(now.Year(), now.Month(), now.Day()+2, 23, 59, 59, 0, now.Location())
	return strings.Join([]string{
		base,
		"?brand=001",
		"&device=001",
		"&authlevel=0",
		"&layout=3897245",
		"&starttime=", now.Format("20060102-1501"),
		"&endtime=", end.Format("20060102"),
		"&offset=", url.QueryEscape(now.Format("-0700")),
		"&affiliate=", url.QueryEscape(affiliate),
		"&urlObfuscation=true",
	}, "")
}

func (a *ABC) channels(payload *Payload) ([]ABCChannel, error) {
	if payload == nil || payload.ABC == nil {
		return nil, mismatch(models.ProviderABC, payload)
	}
	var out []ABCChannel
	for _, cat := range payload.ABC.Categories {
		out = append(out, cat.Channels...)
	}
	return out, nil
}

// NormalizeChannels maps guide channels onto canonical channels, once per id.
func (a *ABC) NormalizeChannels(payload *Payload) ([]models.Channel, error) {
	channels, err := a.channels(payload)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(channels))
	out := make([]models.Channel, 0, len(channels))
	for _, c := range channels {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, models.Channel{
			ID:         c.ID,
			Name:       strings.TrimSpace(strings.Replace(c.Title, "Unlocked Channel: ", "", 1)),
			StreamURL:  "https://abc.com" + c.URLValue,
			ArtworkURL: widestPNG(c.Images),
			Provider:   models.ProviderABC,
			Kind:       models.KindLinear,
			Enabled:    true,
		})
	}
	return out, nil
}

// NormalizeEvents joins each channel airing with its program metadata.
// Airings without matching metadata are skipped.
func (a *ABC) NormalizeEvents(payload *Payload) ([]models.EntryDraft, error) {
	channels, err := a.channels(payload)
	if err != nil {
		return nil, err
	}
	programs := make(map[string]ABCProgram, len(payload.ABC.Programs))
	for _, p := range payload.ABC.Programs {
		programs[p.TMSID] = p
	}

	var out []models.EntryDraft
	for _, c := range channels {
		for _, airing := range c.Airings {
			if airing.TMSID == "" {
				continue
			}
			prog, ok := programs[airing.TMSID]
			if !ok {
				continue
			}
			start, err := parseAirtime(airing.DisplayAirtime)
			if err != nil {
				log.Debug().Err(err).Str("provider", models.ProviderABC).Str("event", airing.TMSID).Msg("unparseable airtime")
				continue
			}
			end := abcAiringEnd(start, airing)
			if !end.After(start) {
				log.Debug().Str("provider", models.ProviderABC).Str("event", airing.TMSID).Msg("dropping airing with empty window")
				continue
			}

			title := prog.Title
			if title == "" {
				title = prog.ShowTitle
			}
			categories := []string{a.Name()}
			if g := strings.TrimSpace(prog.Genre); g != "" {
				categories = append(categories, g)
			}

			out = append(out, models.EntryDraft{
				EventID:     airing.TMSID,
				RawStart:    airing.DisplayAirtime,
				Start:       start,
				End:         end,
				Title:       strings.TrimSpace(title),
				Description: prog.Description,
				ArtworkURL:  widestPNG(prog.Images),
				Categories:  categories,
				Provider:    models.ProviderABC,
				ChannelRef:  c.ID,
			})
		}
	}
	return out, nil
}

// abcAiringEnd applies the airing's duration as milliseconds.
func abcAiringEnd(start time.Time, airing ABCAiring) time.Time {
	return start.Add(time.Duration(airing.Duration * float64(time.Millisecond)))
}

var airtimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseAirtime accepts ISO-8601 timestamps or epoch milliseconds.
func parseAirtime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	for _, layout := range airtimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised airtime %q", s)
}

// widestPNG returns the widest PNG rendition, or "" when there is none.
func widestPNG(images []ABCImage) string {
	sorted := append([]ABCImage(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Width > sorted[j].Width })
	for _, img := range sorted {
		if img.Format == "png" {
			return img.Value
		}
	}
	return ""
}
