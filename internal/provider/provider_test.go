package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/ccepg/internal/models"
)

var fixedNow = time.Date(2024, time.March, 10, 14, 12, 30, 0, time.UTC)

func testOptions() Options {
	return Options{
		UserAgent: "ccepg-test",
		Timeout:   5 * time.Second,
		Now:       func() time.Time { return fixedNow },
		Location:  time.UTC,
	}
}

const peacockFixture = `{
  "channels": [
    {
      "id": "pc-news",
      "gracenoteId": "12345",
      "serviceKey": "NBC_NEWS",
      "logo": {"Default": "https://img.example/logo?w={width}&h={height}"},
      "name": " NBC News Now ",
      "type": "linear-channel",
      "epgNumber": 7,
      "scheduleItems": [
        {"id": "ev1", "startTimeUTC": 1710079200, "durationSeconds": 1800, "airingType": "New",
         "data": {"title": "Top Story", "description": "Headlines", "images": {"16-9": "https://img.example/ev1.jpg"}}},
        {"id": "ev2", "startTimeUTC": 1710081000, "durationSeconds": 0, "airingType": "Repeat",
         "data": {"title": "Broken"}},
        {"id": "", "startTimeUTC": 1710081000, "durationSeconds": 60, "data": {"title": "No id"}}
      ]
    },
    {
      "id": "pc-vod",
      "serviceKey": "VOD_1",
      "logo": {"Default": "https://img.example/vod.png"},
      "name": "Movies",
      "type": "vod",
      "scheduleItems": []
    }
  ]
}`

func TestPeacockStartTime(t *testing.T) {
	tests := []struct {
		now  time.Time
		want string
	}{
		{fixedNow, "2024-03-10T13:10+00:00"},
		{time.Date(2024, 3, 10, 14, 58, 0, 0, time.UTC), "2024-03-10T14:00+00:00"},
		{time.Date(2024, 3, 10, 0, 1, 0, 0, time.UTC), "2024-03-09T23:00+00:00"},
		{time.Date(2024, 3, 10, 9, 33, 0, 0, time.FixedZone("EST", -5*3600)), "2024-03-10T08:35-05:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, peacockStartTime(tt.now), "now=%s", tt.now)
	}
}

func TestPeacockFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-03-10T13:10+00:00", r.URL.Query().Get("startTime"))
		assert.Equal(t, "D2C,Free", r.URL.Query().Get("contentSegments"))
		assert.Equal(t, "NBCUOTT", r.Header.Get("X-SkyOTT-Proposition"))
		assert.Equal(t, "ccepg-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(peacockFixture))
	}))
	defer srv.Close()

	p := NewPeacock(testOptions())
	p.BaseURL = srv.URL

	payload, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ProviderPeacock, payload.Provider)
	require.NotNil(t, payload.Peacock)
	assert.Len(t, payload.Peacock.Channels, 2)
}

func TestPeacockFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPeacock(testOptions())
	p.BaseURL = srv.URL

	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestPeacockNormalize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(peacockFixture))
	}))
	defer srv.Close()

	p := NewPeacock(testOptions())
	p.BaseURL = srv.URL
	payload, err := p.Fetch(context.Background())
	require.NoError(t, err)

	channels, err := p.NormalizeChannels(payload)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	news := channels[0]
	assert.Equal(t, "pc-news", news.ID)
	assert.Equal(t, "NBC News Now", news.Name)
	assert.Equal(t, "https://www.peacocktv.com/watch/playback/live/NBC_NEWS", news.StreamURL)
	assert.Equal(t, "https://img.example/logo?w=360&h=270", news.ArtworkURL)
	assert.Equal(t, "12345", news.GuideID)
	assert.Equal(t, models.KindLinear, news.Kind)
	assert.Equal(t, 7, news.EPGNumber)
	assert.Equal(t, models.KindOnDemand, channels[1].Kind)

	events, err := p.NormalizeEvents(payload)
	require.NoError(t, err)
	require.Len(t, events, 1, "zero-duration and id-less airings are dropped")
	ev := events[0]
	assert.Equal(t, "ev1-1710079200", ev.Key())
	assert.Equal(t, int64(1710079200000), ev.Start.UnixMilli())
	assert.Equal(t, 30*time.Minute, ev.End.Sub(ev.Start))
	assert.Equal(t, "pc-news", ev.ChannelRef)
	assert.Equal(t, []string{"Peacock"}, ev.Categories)
	assert.True(t, ev.NewEpisode)
	assert.Equal(t, "https://img.example/ev1.jpg", ev.ArtworkURL)
}

const abcGeoFixture = `callback({"user":{"allowed":true,"zipcode":"10001"},
 "affiliates":{"affiliate":[
   {"name":"KXYZ","isChannelAvailable":false},
   {"name":"WABC TV","isChannelAvailable":true}]}});`

const abcGuideFixture = `{
  "categories": [
    {"channels": [
      {"id": "abc-1", "title": "Unlocked Channel: ABC News Live ", "urlValue": "/watch-live/news",
       "images": [
         {"value": "small.png", "format": "png", "width": 100},
         {"value": "huge.jpg", "format": "jpg", "width": 2000},
         {"value": "large.png", "format": "png", "width": 800}],
       "airings": [
         {"tmsid": "SH1", "duration": 1800000, "displayAirtime": "2024-03-10T15:00:00Z"},
         {"tmsid": "SH2", "duration": 3600000, "displayAirtime": "2024-03-10T15:30:00Z"},
         {"tmsid": "MISSING", "duration": 60000, "displayAirtime": "2024-03-10T16:30:00Z"},
         {"tmsid": "SH1", "duration": 1800000, "displayAirtime": "not a time"}]}
    ]},
    {"channels": [
      {"id": "abc-1", "title": "ABC News Live", "urlValue": "/watch-live/news", "airings": []}
    ]}
  ],
  "programs": [
    {"tmsid": "SH1", "title": "World News", "description": "Evening news", "genre": "News",
     "images": [{"value": "p1.png", "format": "png", "width": 640}]},
    {"tmsid": "SH2", "title": "", "showTitle": " GMA3 ", "description": ""}
  ]
}`

func TestABCFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(abcGeoFixture))
	})
	mux.HandleFunc("/guide", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "WABC TV", q.Get("affiliate"))
		assert.Equal(t, "20240310-1403", q.Get("starttime"))
		assert.Equal(t, "20240312", q.Get("endtime"))
		assert.Equal(t, "+0000", q.Get("offset"))
		_, _ = w.Write([]byte(abcGuideFixture))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewABC(testOptions())
	a.GeoURL = srv.URL + "/geo"
	a.GuideURL = srv.URL + "/guide"

	payload, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, payload.ABC)
	assert.Equal(t, models.ProviderABC, payload.Provider)
	assert.Len(t, payload.ABC.Programs, 2)
}

func TestABCFetch_NoAffiliate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"affiliates":{"affiliate":[{"name":"X","isChannelAvailable":false}]}}`))
	}))
	defer srv.Close()

	a := NewABC(testOptions())
	a.GeoURL = srv.URL

	_, err := a.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoAffiliate)
}

func TestABCNormalize(t *testing.T) {
	a := NewABC(testOptions())
	payload := mustDecodeABC(t, abcGuideFixture)

	channels, err := a.NormalizeChannels(payload)
	require.NoError(t, err)
	require.Len(t, channels, 1, "channels repeated across categories are listed once")
	ch := channels[0]
	assert.Equal(t, "ABC News Live", ch.Name)
	assert.Equal(t, "https://abc.com/watch-live/news", ch.StreamURL)
	assert.Equal(t, "large.png", ch.ArtworkURL)
	assert.Equal(t, models.ProviderABC, ch.Provider)

	events, err := a.NormalizeEvents(payload)
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "SH1-2024-03-10T15:00:00Z", first.Key())
	assert.Equal(t, time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC), first.Start.UTC())
	assert.Equal(t, 30*time.Minute, first.End.Sub(first.Start))
	assert.Equal(t, "World News", first.Title)
	assert.Equal(t, []string{"ABC", "News"}, first.Categories)
	assert.Equal(t, "p1.png", first.ArtworkURL)
	assert.Equal(t, "abc-1", first.ChannelRef)

	assert.Equal(t, "GMA3", events[1].Title, "falls back to the show title")
	assert.Equal(t, []string{"ABC"}, events[1].Categories)
}

func TestNormalize_PayloadMismatch(t *testing.T) {
	peacock := &Payload{Provider: models.ProviderPeacock, Peacock: &PeacockGuide{}}

	_, err := NewABC(testOptions()).NormalizeEvents(peacock)
	assert.ErrorIs(t, err, ErrPayloadMismatch)

	_, err = NewPeacock(testOptions()).NormalizeChannels(nil)
	assert.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestUnwrapJSONP(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(unwrapJSONP([]byte(` {"a":1} `))))
	assert.Equal(t, `{"a":1}`, string(unwrapJSONP([]byte(`cb({"a":1});`))))
	assert.Equal(t, `[1]`, string(unwrapJSONP([]byte(`[1]`))))
}

func TestParseAirtime(t *testing.T) {
	got, err := parseAirtime("1710079200000")
	require.NoError(t, err)
	assert.Equal(t, int64(1710079200000), got.UnixMilli())

	got, err = parseAirtime("2024-03-10T10:00:00-05:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC), got.UTC())

	_, err = parseAirtime("tomorrow")
	assert.Error(t, err)
}

func TestWidestPNG(t *testing.T) {
	assert.Equal(t, "", widestPNG(nil))
	assert.Equal(t, "b", widestPNG([]ABCImage{
		{Value: "a", Format: "png", Width: 10},
		{Value: "b", Format: "png", Width: 20},
		{Value: "c", Format: "jpg", Width: 30},
	}))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Peacock", DisplayName(models.ProviderPeacock))
	assert.Equal(t, "ABC", DisplayName(models.ProviderABC))
	assert.Equal(t, "other", DisplayName("other"))
}

func mustDecodeABC(t *testing.T, body string) *Payload {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/geo") {
			_, _ = w.Write([]byte(abcGeoFixture))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	a := NewABC(testOptions())
	a.GeoURL = srv.URL + "/geo"
	a.GuideURL = srv.URL + "/guide"
	payload, err := a.Fetch(context.Background())
	require.NoError(t, err)
	return payload
}
