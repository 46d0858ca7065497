package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/voyagen/ccepg/internal/metrics"
	"github.com/voyagen/ccepg/internal/models"
	"github.com/voyagen/ccepg/internal/provider"
	"github.com/voyagen/ccepg/internal/store"
)

// ProviderReport summarizes one provider's contribution to a run.
type ProviderReport struct {
	Enabled         bool   `json:"enabled"`
	Error           string `json:"error,omitempty"`
	Channels        int    `json:"channels"`
	ChannelsCreated int    `json:"channels_created"`
	Created         int    `json:"created"`
	Duplicates      int    `json:"duplicates"`
	OutOfWindow     int    `json:"out_of_window"`
	Invalid         int    `json:"invalid"`
}

// RunReport summarizes a complete pipeline run.
type RunReport struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Providers  map[string]ProviderReport `json:"providers"`
	Sweep      SweepResult               `json:"sweep"`
	Assign     AssignResult              `json:"assign"`
}

// OrchestratorDeps wires an Orchestrator. Enablement defaults to Settings.
type OrchestratorDeps struct {
	Store      store.Store
	Settings   *Settings
	Enablement EnablementSource
	Providers  []provider.Provider
	Metrics    *metrics.Collectors
	Now        func() time.Time
}

// Orchestrator runs the guide pipeline: discovery, registration,
// ingestion, sweep, assignment, in that order.
type Orchestrator struct {
	providers  []provider.Provider
	enablement EnablementSource
	settings   *Settings
	registry   *ChannelRegistry
	ingestor   *EntryIngestor
	sweeper    *RetentionSweeper
	assigner   *ChannelAssigner
	metrics    *metrics.Collectors
	now        func() time.Time
}

// NewOrchestrator creates an Orchestrator from deps.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	settings := deps.Settings
	if settings == nil {
		settings = NewSettings(deps.Store)
	}
	var enablement EnablementSource = settings
	if deps.Enablement != nil {
		enablement = deps.Enablement
	}
	return &Orchestrator{
		providers:  deps.Providers,
		enablement: enablement,
		settings:   settings,
		registry:   NewChannelRegistry(deps.Store),
		ingestor:   NewEntryIngestor(deps.Store, now),
		sweeper:    NewRetentionSweeper(deps.Store, now),
		assigner:   NewChannelAssigner(deps.Store),
		metrics:    deps.Metrics,
		now:        now,
	}
}

// Registry exposes the channel registry used by the pipeline.
func (o *Orchestrator) Registry() *ChannelRegistry { return o.registry }

// discovery is one provider's normalized output.
type discovery struct {
	provider provider.Provider
	enabled  bool
	err      error
	channels []models.Channel
	drafts   []models.EntryDraft
}

// Run executes one pipeline cycle. Provider failures are logged and
// contribute nothing; only store failures in the shared stages abort the run.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
		Providers: make(map[string]ProviderReport, len(o.providers)),
	}
	logger := log.With().Str("run_id", report.RunID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Int("providers", len(o.providers)).Msg("run started")

	found := o.discover(ctx)

	// Registration is serialized in provider order so numbering is stable
	// between runs that discover the same line-up.
	for i := range found {
		d := &found[i]
		rep := ProviderReport{Enabled: d.enabled}
		if d.err != nil {
			rep.Error = d.err.Error()
		}
		if d.enabled && d.err == nil {
			rep.Channels, rep.ChannelsCreated = o.register(ctx, d)
		}
		report.Providers[d.provider.Key()] = rep
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := range found {
		d := &found[i]
		if !d.enabled || d.err != nil {
			continue
		}
		g.Go(func() error {
			created, dup, out, invalid := o.ingest(gctx, d)
			mu.Lock()
			rep := report.Providers[d.provider.Key()]
			rep.Created, rep.Duplicates, rep.OutOfWindow, rep.Invalid = created, dup, out, invalid
			report.Providers[d.provider.Key()] = rep
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		o.metrics.ObserveRun("cancelled", o.now().Sub(report.StartedAt))
		return report, fmt.Errorf("Run cancelled: %w", err)
	}

	sweep, err := o.sweeper.Sweep(ctx, report.StartedAt)
	if err != nil {
		o.metrics.ObserveRun("error", o.now().Sub(report.StartedAt))
		return report, err
	}
	report.Sweep = sweep
	o.metrics.Swept("orphan", sweep.Orphans)
	o.metrics.Swept("ended", sweep.Ended)

	assign, err := o.assigner.AssignAll(ctx)
	if err != nil {
		o.metrics.ObserveRun("error", o.now().Sub(report.StartedAt))
		return report, err
	}
	report.Assign = assign
	o.metrics.Assigned(assign.Assigned, assign.Unresolved)

	report.FinishedAt = o.now()
	if err := o.settings.MarkRun(ctx, report.FinishedAt); err != nil {
		o.metrics.ObserveRun("error", report.FinishedAt.Sub(report.StartedAt))
		return report, fmt.Errorf("Run: %w", err)
	}
	o.metrics.ObserveRun("ok", report.FinishedAt.Sub(report.StartedAt))

	logger.Info().
		Int64("swept_orphans", sweep.Orphans).
		Int64("swept_ended", sweep.Ended).
		Int("assigned", assign.Assigned).
		Int("unresolved", assign.Unresolved).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("run finished")
	return report, nil
}

// discover fetches and normalizes every enabled provider concurrently.
func (o *Orchestrator) discover(ctx context.Context) []discovery {
	found := make([]discovery, len(o.providers))
	var g errgroup.Group
	for i, p := range o.providers {
		found[i].provider = p
		g.Go(func() error {
			found[i] = o.discoverOne(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return found
}

func (o *Orchestrator) discoverOne(ctx context.Context, p provider.Provider) discovery {
	d := discovery{provider: p}
	logger := zerolog.Ctx(ctx).With().Str("provider", p.Key()).Logger()

	enabled, err := o.enablement.ProviderEnabled(ctx, p.Key())
	if err != nil {
		logger.Error().Err(err).Msg("read provider flag")
		d.err = err
		return d
	}
	d.enabled = enabled
	if !enabled {
		logger.Info().Msg("provider disabled, skipping")
		return d
	}

	payload, err := p.Fetch(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("fetch failed")
		o.metrics.ProviderError(p.Key(), "fetch")
		d.err = err
		return d
	}
	channels, err := p.NormalizeChannels(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("normalize channels failed")
		o.metrics.ProviderError(p.Key(), "normalize")
		d.err = err
		return d
	}
	drafts, err := p.NormalizeEvents(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("normalize events failed")
		o.metrics.ProviderError(p.Key(), "normalize")
		d.err = err
		return d
	}
	d.channels, d.drafts = channels, drafts
	logger.Debug().Int("channels", len(channels)).Int("drafts", len(drafts)).Msg("provider discovered")
	return d
}

func (o *Orchestrator) register(ctx context.Context, d *discovery) (total, created int) {
	logger := zerolog.Ctx(ctx).With().Str("provider", d.provider.Key()).Logger()
	for _, draft := range d.channels {
		draft.Provider = d.provider.Key()
		_, isNew, err := o.registry.Upsert(ctx, draft)
		if err != nil {
			logger.Error().Err(err).Str("channel", draft.ID).Msg("register channel")
			continue
		}
		total++
		if isNew {
			created++
		}
		o.metrics.ChannelRegistered(d.provider.Key(), isNew)
	}
	return total, created
}

func (o *Orchestrator) ingest(ctx context.Context, d *discovery) (created, dup, out, invalid int) {
	logger := zerolog.Ctx(ctx).With().Str("provider", d.provider.Key()).Logger()
	for _, draft := range d.drafts {
		if ctx.Err() != nil {
			return
		}
		draft.Provider = d.provider.Key()
		res, err := o.ingestor.Ingest(ctx, draft)
		if err != nil {
			logger.Error().Err(err).Str("entry", draft.Key()).Msg("ingest entry")
			continue
		}
		o.metrics.Ingested(d.provider.Key(), string(res))
		switch res {
		case IngestCreated:
			created++
		case IngestDuplicate:
			dup++
		case IngestOutOfWindow:
			out++
		case IngestInvalid:
			invalid++
		}
	}
	logger.Info().Int("created", created).Int("duplicates", dup).Int("out_of_window", out).Int("invalid", invalid).Msg("provider ingested")
	return
}

// RefreshTokens asks every enabled provider to renew its credentials.
func (o *Orchestrator) RefreshTokens(ctx context.Context) {
	for _, p := range o.providers {
		enabled, err := o.enablement.ProviderEnabled(ctx, p.Key())
		if err != nil || !enabled {
			continue
		}
		if err := p.RefreshTokens(ctx); err != nil {
			log.Warn().Err(err).Str("provider", p.Key()).Msg("token refresh failed")
		}
	}
}
