package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/voyagen/ccepg/internal/cache"
)

// Locker guards pipeline runs across processes. cache.Locker and
// FileLocker both satisfy it.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), err error)
}

// FileLocker is a Locker backed by an advisory file lock, for hosts
// running several ccepg processes without Redis.
type FileLocker struct {
	lock *flock.Flock
}

// NewFileLocker returns a FileLocker on path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{lock: flock.New(path)}
}

// TryLock acquires the file lock or returns cache.ErrLocked.
func (f *FileLocker) TryLock(context.Context) (func(), error) {
	ok, err := f.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("file lock %s: %w", f.lock.Path(), err)
	}
	if !ok {
		return nil, cache.ErrLocked
	}
	return func() { _ = f.lock.Unlock() }, nil
}

// Pipeline is the work a Runner schedules.
type Pipeline interface {
	Run(ctx context.Context) (RunReport, error)
	RefreshTokens(ctx context.Context)
}

// Runner schedules pipeline runs. At most one run is in flight per
// process; triggers arriving during a run collapse into one follow-up run.
type Runner struct {
	pipeline      Pipeline
	locker        Locker
	interval      time.Duration
	tokenInterval time.Duration

	mu      sync.Mutex
	base    context.Context
	running bool
	pending bool
	stopped bool
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. locker may be nil.
func NewRunner(p Pipeline, locker Locker, interval, tokenInterval time.Duration) *Runner {
	return &Runner{pipeline: p, locker: locker, interval: interval, tokenInterval: tokenInterval}
}

// RunOnce runs the pipeline synchronously under the cross-process lock.
// It returns cache.ErrLocked when another process holds the lock.
func (r *Runner) RunOnce(ctx context.Context) (RunReport, error) {
	if r.locker != nil {
		unlock, err := r.locker.TryLock(ctx)
		if err != nil {
			return RunReport{}, err
		}
		defer unlock()
	}
	return r.pipeline.Run(ctx)
}

// Trigger requests a run. It starts one in the background when idle and
// otherwise marks a follow-up; it reports whether a new run was started.
// Triggers after the scheduler has stopped are ignored.
func (r *Runner) Trigger(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	if r.running {
		r.pending = true
		return false
	}
	r.running = true
	r.wg.Add(1)
	go r.loop(ctx)
	return true
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		if ctx.Err() == nil {
			_, err := r.RunOnce(ctx)
			switch {
			case errors.Is(err, cache.ErrLocked):
				log.Info().Msg("run skipped, another process holds the lock")
			case err != nil:
				log.Error().Err(err).Msg("run failed")
			}
		}

		r.mu.Lock()
		if !r.pending || ctx.Err() != nil {
			r.running = false
			r.pending = false
			r.mu.Unlock()
			return
		}
		r.pending = false
		r.mu.Unlock()
	}
}

// RequestRefresh triggers a run bound to the scheduler's context, not the
// caller's.
func (r *Runner) RequestRefresh(_ context.Context, reason string) error {
	r.mu.Lock()
	base := r.base
	r.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	started := r.Trigger(base)
	log.Info().Str("reason", reason).Bool("coalesced", !started).Msg("refresh requested")
	return nil
}

// Busy reports whether a run is in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wait blocks until any in-flight run and its follow-up finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Start triggers an initial run, then runs on the schedule and refreshes
// provider tokens until ctx is cancelled. It returns after in-flight work
// has drained.
func (r *Runner) Start(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Dur("token_interval", r.tokenInterval).Msg("scheduler started")
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()
	r.Trigger(ctx)

	schedule := time.NewTicker(r.interval)
	defer schedule.Stop()
	tokens := time.NewTicker(r.tokenInterval)
	defer tokens.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopping")
			r.mu.Lock()
			r.stopped = true
			r.pending = false
			r.mu.Unlock()
			r.Wait()
			return
		case <-schedule.C:
			r.Trigger(ctx)
		case <-tokens.C:
			r.pipeline.RefreshTokens(ctx)
		}
	}
}
