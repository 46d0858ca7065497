// Package guide renders the channel line-up and schedule as an M3U
// playlist and an XMLTV document.
package guide

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/ccepg/internal/models"
	"github.com/voyagen/ccepg/internal/store"
)

// TimeLayout is the XMLTV programme timestamp layout.
const TimeLayout = "20060102150405 -0700"

var baseCategories = []string{"HD", "HDTV"}

// Settings is the read-only view of the settings store the exporter needs.
// None of these methods may write.
type Settings interface {
	LookupProviderEnabled(ctx context.Context, provider string) (bool, error)
	LookupPrefix(ctx context.Context) (string, error)
	LastRun(ctx context.Context) (time.Time, bool, error)
}

// Exporter renders committed channels and entries. It never writes.
type Exporter struct {
	store    store.Store
	settings Settings
	loc      *time.Location
}

// NewExporter creates an Exporter. Times are rendered in loc, or the local
// zone when loc is nil.
func NewExporter(s store.Store, settings Settings, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{store: s, settings: settings, loc: loc}
}

// Ready reports whether at least one pipeline run has completed.
func (e *Exporter) Ready(ctx context.Context) (bool, error) {
	_, ok, err := e.settings.LastRun(ctx)
	return ok, err
}

// VisibleChannels returns enabled channels of enabled providers, by number.
func (e *Exporter) VisibleChannels(ctx context.Context) ([]models.Channel, error) {
	enabled := true
	channels, err := e.store.ListChannels(ctx, store.ChannelFilter{Enabled: &enabled})
	if err != nil {
		return nil, fmt.Errorf("VisibleChannels: %w", err)
	}
	providers := make(map[string]bool)
	out := channels[:0]
	for _, ch := range channels {
		on, seen := providers[ch.Provider]
		if !seen {
			on, err = e.settings.LookupProviderEnabled(ctx, ch.Provider)
			if err != nil {
				return nil, fmt.Errorf("VisibleChannels: %w", err)
			}
			providers[ch.Provider] = on
		}
		if on {
			out = append(out, ch)
		}
	}
	return out, nil
}

// RenderPlaylist renders the M3U playlist of visible channels.
func (e *Exporter) RenderPlaylist(ctx context.Context) (string, error) {
	channels, err := e.VisibleChannels(ctx)
	if err != nil {
		return "", err
	}
	prefix, err := e.settings.LookupPrefix(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range channels {
		n := strconv.Itoa(ch.Number)
		fmt.Fprintf(&b, `#EXTINF:0 channel-id="%s" `, ch.Name)
		if ch.GuideID != "" {
			fmt.Fprintf(&b, `tvc-guide-stationid="%s" `, ch.GuideID)
		}
		fmt.Fprintf(&b, `tvg-id="%s" channel-number="%s" tvg-chno="%s" tvg-name="%s" group-title="%s", %s %s`+"\n",
			channelID(ch.Number), n, n, ch.Name, models.GuideSuffix, models.GuideSuffix, n)
		fmt.Fprintf(&b, "%s/stream?url=%s\n", prefix, ch.StreamURL)
	}
	return b.String(), nil
}

type langText struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type icon struct {
	Src string `xml:"src,attr"`
}

type tvChannel struct {
	ID          string   `xml:"id,attr"`
	DisplayName langText `xml:"display-name"`
	Icon        *icon    `xml:"icon,omitempty"`
}

type programme struct {
	Channel string   `xml:"channel,attr"`
	Start   string   `xml:"start,attr"`
	Stop    string   `xml:"stop,attr"`
	Title   langText `xml:"title"`
	Video   struct {
		Quality string `xml:"quality"`
	} `xml:"video"`
	Desc       langText   `xml:"desc"`
	Icon       *icon      `xml:"icon,omitempty"`
	Live       struct{}   `xml:"live"`
	New        *struct{}  `xml:"new,omitempty"`
	Categories []langText `xml:"category"`
}

type tv struct {
	XMLName    xml.Name    `xml:"tv"`
	Generator  string      `xml:"generator-info-name,attr"`
	Channels   []tvChannel `xml:"channel"`
	Programmes []programme `xml:"programme"`
}

// RenderGuide renders the XMLTV document for visible channels and their
// assigned entries.
func (e *Exporter) RenderGuide(ctx context.Context) ([]byte, error) {
	channels, err := e.VisibleChannels(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListAssignedEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("RenderGuide: %w", err)
	}

	doc := tv{Generator: models.GuideSuffix}
	visible := make(map[int]bool, len(channels))
	for _, ch := range channels {
		visible[ch.Number] = true
		c := tvChannel{
			ID:          channelID(ch.Number),
			DisplayName: langText{Lang: "en", Value: ch.Name},
		}
		if src := channelIcon(ch); src != "" {
			c.Icon = &icon{Src: src}
		}
		doc.Channels = append(doc.Channels, c)
	}

	for _, en := range entries {
		if en.ChannelNumber == nil || !visible[*en.ChannelNumber] {
			continue
		}
		desc := en.Description
		if desc == "" {
			desc = en.Title
		}
		p := programme{
			Channel: channelID(*en.ChannelNumber),
			Start:   en.Start().In(e.loc).Format(TimeLayout),
			Stop:    en.End().In(e.loc).Format(TimeLayout),
			Title:   langText{Lang: "en", Value: en.Title},
			Desc:    langText{Lang: "en", Value: desc},
		}
		p.Video.Quality = "HDTV"
		if en.ArtworkURL != "" {
			p.Icon = &icon{Src: en.ArtworkURL}
		}
		if en.NewEpisode {
			p.New = &struct{}{}
		}
		for _, c := range Categories(en.Categories) {
			p.Categories = append(p.Categories, langText{Lang: "en", Value: c})
		}
		doc.Programmes = append(doc.Programmes, p)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("RenderGuide encode: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Categories returns the base categories followed by extra, without
// duplicates and in first-seen order.
func Categories(extra []string) []string {
	seen := make(map[string]bool, len(baseCategories)+len(extra))
	out := make([]string, 0, len(baseCategories)+len(extra))
	for _, c := range append(append([]string(nil), baseCategories...), extra...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func channelID(number int) string {
	return strconv.Itoa(number) + "." + models.GuideSuffix
}

func channelIcon(ch models.Channel) string {
	if ch.GuideID != "" {
		return "https://tmsimg.fancybits.co/assets/s" + ch.GuideID + "_ll_h15_ab.png?w=360&h=270"
	}
	return ch.ArtworkURL
}
