package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/voyagen/ccepg/internal/store"
)

// Setting keys.
const (
	SettingPrefix  = "prefix"
	SettingLastRun = "lastRun"

	DefaultPrefix   = "http://localhost:5589"
	minPrefixLength = 8
)

// ErrInvalidPrefix is returned when a prefix URI is shorter than eight characters.
var ErrInvalidPrefix = errors.New("prefix must be at least 8 characters")

// EnablementSource reports whether a provider is enabled.
type EnablementSource interface {
	ProviderEnabled(ctx context.Context, provider string) (bool, error)
}

// Settings reads and writes the misc settings shared by the pipeline and
// the exporters.
type Settings struct {
	store store.Store
}

// NewSettings creates a Settings backed by s.
func NewSettings(s store.Store) *Settings {
	return &Settings{store: s}
}

// ProviderEnabled reports the provider flag, initializing it to enabled
// the first time it is read.
func (s *Settings) ProviderEnabled(ctx context.Context, provider string) (bool, error) {
	v, err := s.store.InitSetting(ctx, provider, "true")
	if err != nil {
		return false, fmt.Errorf("ProviderEnabled %s: %w", provider, err)
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("ProviderEnabled %s: bad value %q", provider, v)
	}
	return enabled, nil
}

// LookupProviderEnabled reports the provider flag without storing it; an
// unset flag reads as enabled.
func (s *Settings) LookupProviderEnabled(ctx context.Context, provider string) (bool, error) {
	v, err := s.store.GetSetting(ctx, provider)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("LookupProviderEnabled %s: %w", provider, err)
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("LookupProviderEnabled %s: bad value %q", provider, v)
	}
	return enabled, nil
}

// SetProviderEnabled stores the provider flag.
func (s *Settings) SetProviderEnabled(ctx context.Context, provider string, enabled bool) error {
	return s.store.PutSetting(ctx, provider, strconv.FormatBool(enabled))
}

// Prefix returns the stream URL prefix, storing the default if unset.
func (s *Settings) Prefix(ctx context.Context) (string, error) {
	v, err := s.store.InitSetting(ctx, SettingPrefix, DefaultPrefix)
	if err != nil {
		return "", fmt.Errorf("Prefix: %w", err)
	}
	return v, nil
}

// LookupPrefix returns the stream URL prefix, or DefaultPrefix when unset,
// without storing anything.
func (s *Settings) LookupPrefix(ctx context.Context) (string, error) {
	v, err := s.store.GetSetting(ctx, SettingPrefix)
	if errors.Is(err, store.ErrNotFound) {
		return DefaultPrefix, nil
	}
	if err != nil {
		return "", fmt.Errorf("LookupPrefix: %w", err)
	}
	return v, nil
}

// SetPrefix validates and stores the stream URL prefix. Invalid values
// leave the stored prefix unchanged.
func (s *Settings) SetPrefix(ctx context.Context, prefix string) error {
	if len(prefix) < minPrefixLength {
		return ErrInvalidPrefix
	}
	return s.store.PutSetting(ctx, SettingPrefix, prefix)
}

// MarkRun records the completion time of a pipeline run.
func (s *Settings) MarkRun(ctx context.Context, t time.Time) error {
	return s.store.PutSetting(ctx, SettingLastRun, t.UTC().Format(time.RFC3339))
}

// LastRun returns the completion time of the last run; ok is false when
// no run has completed yet.
func (s *Settings) LastRun(ctx context.Context) (t time.Time, ok bool, err error) {
	v, err := s.store.GetSetting(ctx, SettingLastRun)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("LastRun: %w", err)
	}
	t, err = time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("LastRun: %w", err)
	}
	return t, true, nil
}
