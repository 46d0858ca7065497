package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voyagen/ccepg/internal/models"
)

// Memory implements Store in process memory. It backs tests and the
// --memory development mode; nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	channels []models.Channel
	entries  map[string]models.Entry
	settings map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]models.Entry),
		settings: make(map[string]string),
	}
}

func (m *Memory) GetChannel(_ context.Context, provider, id string) (*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.channelIndex(provider, id); i >= 0 {
		ch := m.channels[i]
		return &ch, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) InsertChannel(_ context.Context, ch *models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channelIndex(ch.Provider, ch.ID) >= 0 {
		return ErrConflict
	}
	max := 0
	for _, c := range m.channels {
		if c.Number > max {
			max = c.Number
		}
	}
	ch.Number = max + 1
	m.channels = append(m.channels, *ch)
	return nil
}

func (m *Memory) UpdateChannel(_ context.Context, ch *models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.channelIndex(ch.Provider, ch.ID)
	if i < 0 {
		return ErrNotFound
	}
	cur := &m.channels[i]
	cur.Name = ch.Name
	cur.StreamURL = ch.StreamURL
	cur.ArtworkURL = ch.ArtworkURL
	cur.GuideID = ch.GuideID
	cur.Kind = ch.Kind
	cur.EPGNumber = ch.EPGNumber
	return nil
}

func (m *Memory) SetChannelEnabled(_ context.Context, provider, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.channelIndex(provider, id)
	if i < 0 {
		return ErrNotFound
	}
	m.channels[i].Enabled = enabled
	return nil
}

func (m *Memory) ListChannels(_ context.Context, filter ChannelFilter) ([]models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Channel
	for _, c := range m.channels {
		if filter.Provider != nil && c.Provider != *filter.Provider {
			continue
		}
		if filter.Enabled != nil && c.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) EntryExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory) InsertEntry(_ context.Context, e *models.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.Key]; ok {
		return false, nil
	}
	cp := *e
	cp.Categories = append([]string(nil), e.Categories...)
	m.entries[e.Key] = cp
	return true, nil
}

func (m *Memory) ListUnassignedEntries(_ context.Context) ([]models.Entry, error) {
	return m.listEntries(func(e models.Entry) bool { return e.ChannelNumber == nil }), nil
}

func (m *Memory) ListAssignedEntries(_ context.Context) ([]models.Entry, error) {
	return m.listEntries(func(e models.Entry) bool { return e.ChannelNumber != nil }), nil
}

func (m *Memory) AssignEntry(_ context.Context, key string, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.ChannelNumber != nil {
		return ErrNotFound
	}
	n := number
	e.ChannelNumber = &n
	m.entries[key] = e
	return nil
}

func (m *Memory) DeleteUnassignedEntries(_ context.Context, ingestedBefore time.Time) (int64, error) {
	return m.deleteEntries(func(e models.Entry) bool {
		return e.ChannelNumber == nil && e.IngestedAt.Before(ingestedBefore)
	}), nil
}

func (m *Memory) DeleteEndedEntries(_ context.Context, t time.Time) (int64, error) {
	ms := t.UnixMilli()
	return m.deleteEntries(func(e models.Entry) bool { return e.EndMs <= ms }), nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *Memory) InitSetting(_ context.Context, key, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.settings[key]; ok {
		return v, nil
	}
	m.settings[key] = value
	return value, nil
}

// --- helpers ---

func (m *Memory) channelIndex(provider, id string) int {
	for i, c := range m.channels {
		if c.Provider == provider && c.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) listEntries(keep func(models.Entry) bool) []models.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Entry
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMs != out[j].StartMs {
			return out[i].StartMs < out[j].StartMs
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (m *Memory) deleteEntries(match func(models.Entry) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if match(e) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}
