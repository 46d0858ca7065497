package guide

import (
	"context"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/ccepg/internal/models"
	"github.com/voyagen/ccepg/internal/service"
	"github.com/voyagen/ccepg/internal/store"
)

var start = time.Date(2024, time.March, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Memory
	settings *service.Settings
	exporter *Exporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	settings := service.NewSettings(s)
	return &fixture{store: s, settings: settings, exporter: NewExporter(s, settings, time.UTC)}
}

func (f *fixture) channel(t *testing.T, provider, id, name, guideID string) models.Channel {
	t.Helper()
	ch := models.Channel{
		ID: id, Name: name, Provider: provider, GuideID: guideID, Enabled: true,
		StreamURL: "https://watch.example/" + id, ArtworkURL: "https://img.example/" + id + ".png",
	}
	require.NoError(t, f.store.InsertChannel(context.Background(), &ch))
	return ch
}

func (f *fixture) entry(t *testing.T, key string, number int, e models.Entry) {
	t.Helper()
	ctx := context.Background()
	e.Key = key
	if e.StartMs == 0 {
		e.StartMs = start.UnixMilli()
		e.EndMs = start.Add(time.Hour).UnixMilli()
	}
	_, err := f.store.InsertEntry(ctx, &e)
	require.NoError(t, err)
	require.NoError(t, f.store.AssignEntry(ctx, key, number))
}

func TestRenderPlaylist(t *testing.T) {
	f := newFixture(t)
	f.channel(t, models.ProviderPeacock, "p1", "NBC News", "12345")
	f.channel(t, models.ProviderABC, "a1", "ABC News Live", "")

	out, err := f.exporter.RenderPlaylist(context.Background())
	require.NoError(t, err)

	want := "#EXTM3U\n" +
		`#EXTINF:0 channel-id="NBC News" tvc-guide-stationid="12345" tvg-id="1.ccEPG" channel-number="1" tvg-chno="1" tvg-name="NBC News" group-title="ccEPG", ccEPG 1` + "\n" +
		"http://localhost:5589/stream?url=https://watch.example/p1\n" +
		`#EXTINF:0 channel-id="ABC News Live" tvg-id="2.ccEPG" channel-number="2" tvg-chno="2" tvg-name="ABC News Live" group-title="ccEPG", ccEPG 2` + "\n" +
		"http://localhost:5589/stream?url=https://watch.example/a1\n"
	assert.Equal(t, want, out)
}

func TestRenderPlaylist_UsesPrefix(t *testing.T) {
	f := newFixture(t)
	f.channel(t, models.ProviderPeacock, "p1", "NBC", "")
	require.NoError(t, f.settings.SetPrefix(context.Background(), "http://192.168.1.5:5589"))

	out, err := f.exporter.RenderPlaylist(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "\nhttp://192.168.1.5:5589/stream?url=https://watch.example/p1\n")
}

func TestExport_Visibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, models.ProviderPeacock, "p1", "Visible", "")
	f.channel(t, models.ProviderPeacock, "p2", "Disabled Channel", "")
	f.channel(t, models.ProviderABC, "a1", "Disabled Provider", "")
	f.entry(t, "e1", 1, models.Entry{Title: "Shown"})
	f.entry(t, "e2", 2, models.Entry{Title: "Hidden by channel"})
	f.entry(t, "e3", 3, models.Entry{Title: "Hidden by provider"})

	require.NoError(t, f.store.SetChannelEnabled(ctx, models.ProviderPeacock, "p2", false))
	require.NoError(t, f.settings.SetProviderEnabled(ctx, models.ProviderABC, false))

	playlist, err := f.exporter.RenderPlaylist(ctx)
	require.NoError(t, err)
	assert.Contains(t, playlist, "Visible")
	assert.NotContains(t, playlist, "Disabled")

	doc, err := f.exporter.RenderGuide(ctx)
	require.NoError(t, err)
	s := string(doc)
	assert.Contains(t, s, "Shown")
	assert.NotContains(t, s, "Hidden")
	assert.NotContains(t, s, `id="2.ccEPG"`)
	assert.NotContains(t, s, `id="3.ccEPG"`)
}

func TestRenderGuide(t *testing.T) {
	f := newFixture(t)
	f.channel(t, models.ProviderPeacock, "p1", "NBC News", "12345")
	f.channel(t, models.ProviderABC, "a1", "ABC & Friends", "")
	f.entry(t, "late", 2, models.Entry{
		Title: "Late", StartMs: start.Add(2 * time.Hour).UnixMilli(), EndMs: start.Add(3 * time.Hour).UnixMilli(),
		Categories: []string{"ABC", "HD", "News"},
	})
	f.entry(t, "early", 1, models.Entry{
		Title: "Early", Description: "First up", ArtworkURL: "https://img.example/early.jpg",
		NewEpisode: true, Categories: []string{"Peacock"},
	})

	doc, err := f.exporter.RenderGuide(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(doc), xml.Header))

	var parsed struct {
		Generator string `xml:"generator-info-name,attr"`
		Channels  []struct {
			ID   string `xml:"id,attr"`
			Name string `xml:"display-name"`
			Icon struct {
				Src string `xml:"src,attr"`
			} `xml:"icon"`
		} `xml:"channel"`
		Programmes []struct {
			Channel    string    `xml:"channel,attr"`
			Start      string    `xml:"start,attr"`
			Stop       string    `xml:"stop,attr"`
			Title      string    `xml:"title"`
			Desc       string    `xml:"desc"`
			Quality    string    `xml:"video>quality"`
			New        *struct{} `xml:"new"`
			Live       *struct{} `xml:"live"`
			Categories []string  `xml:"category"`
		} `xml:"programme"`
	}
	require.NoError(t, xml.Unmarshal(doc, &parsed))

	assert.Equal(t, "ccEPG", parsed.Generator)
	require.Len(t, parsed.Channels, 2)
	assert.Equal(t, "1.ccEPG", parsed.Channels[0].ID)
	assert.Equal(t, "https://tmsimg.fancybits.co/assets/s12345_ll_h15_ab.png?w=360&h=270", parsed.Channels[0].Icon.Src)
	assert.Equal(t, "ABC & Friends", parsed.Channels[1].Name)
	assert.Equal(t, "https://img.example/a1.png", parsed.Channels[1].Icon.Src)

	require.Len(t, parsed.Programmes, 2)
	early, late := parsed.Programmes[0], parsed.Programmes[1]
	assert.Equal(t, "1.ccEPG", early.Channel)
	assert.Equal(t, "20240310150000 +0000", early.Start)
	assert.Equal(t, "20240310160000 +0000", early.Stop)
	assert.Equal(t, "First up", early.Desc)
	assert.Equal(t, "HDTV", early.Quality)
	assert.NotNil(t, early.New)
	assert.NotNil(t, early.Live)
	assert.Equal(t, []string{"HD", "HDTV", "Peacock"}, early.Categories)

	assert.Equal(t, "Late", late.Desc, "description falls back to title")
	assert.Nil(t, late.New)
	assert.Equal(t, []string{"HD", "HDTV", "ABC", "News"}, late.Categories)
}

func TestRenderGuide_Timezone(t *testing.T) {
	f := newFixture(t)
	f.channel(t, models.ProviderPeacock, "p1", "NBC", "")
	f.entry(t, "e", 1, models.Entry{Title: "T"})
	f.exporter = NewExporter(f.store, f.settings, time.FixedZone("EST", -5*3600))

	doc, err := f.exporter.RenderGuide(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(doc), `start="20240310100000 -0500"`)
}

func TestExport_ZeroChannels(t *testing.T) {
	f := newFixture(t)

	playlist, err := f.exporter.RenderPlaylist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", playlist)

	doc, err := f.exporter.RenderGuide(context.Background())
	require.NoError(t, err)
	assert.Equal(t, xml.Header+`<tv generator-info-name="ccEPG"></tv>`+"\n", string(doc))
}

func TestExport_NeverWritesSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, models.ProviderPeacock, "p1", "NBC News", "")

	playlist, err := f.exporter.RenderPlaylist(ctx)
	require.NoError(t, err)
	assert.Contains(t, playlist, service.DefaultPrefix+"/stream?url=")
	_, err = f.exporter.RenderGuide(ctx)
	require.NoError(t, err)

	for _, key := range []string{models.ProviderPeacock, service.SettingPrefix} {
		_, err := f.store.GetSetting(ctx, key)
		assert.ErrorIs(t, err, store.ErrNotFound, "export stored %q", key)
	}
}

func TestReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ready, err := f.exporter.Ready(ctx)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, f.settings.MarkRun(ctx, start))
	ready, err = f.exporter.Ready(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestCategories(t *testing.T) {
	assert.Equal(t, []string{"HD", "HDTV"}, Categories(nil))
	assert.Equal(t, []string{"HD", "HDTV", "News"}, Categories([]string{"HDTV", "News", "News", ""}))
}
