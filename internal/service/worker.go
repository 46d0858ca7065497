package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voyagen/ccepg/internal/cache"
)

// Refresher requests an asynchronous pipeline run.
type Refresher interface {
	RequestRefresh(ctx context.Context, reason string) error
}

// QueueRefresher hands refresh requests to whichever process runs the
// queue worker.
type QueueRefresher struct {
	rds *cache.Redis
}

// NewQueueRefresher creates a QueueRefresher on rds.
func NewQueueRefresher(rds *cache.Redis) *QueueRefresher {
	return &QueueRefresher{rds: rds}
}

// RequestRefresh enqueues a refresh job.
func (q *QueueRefresher) RequestRefresh(ctx context.Context, reason string) error {
	job := cache.RefreshJob{ID: uuid.NewString(), Reason: reason, RequestedAt: time.Now().UTC()}
	if err := cache.Enqueue(ctx, q.rds, cache.RefreshQueue, job); err != nil {
		return fmt.Errorf("RequestRefresh: %w", err)
	}
	log.Info().Str("job_id", job.ID).Str("reason", reason).Msg("refresh queued")
	return nil
}

// RunQueueWorker dequeues refresh jobs from Redis and hands them to r.
// It stops when ctx is cancelled.
func RunQueueWorker(ctx context.Context, rds *cache.Redis, r Refresher) {
	log.Info().Msg("refresh worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("refresh worker stopping")
			return
		default:
		}

		job, err := cache.Dequeue(ctx, rds, cache.RefreshQueue, 5*time.Second)
		if err != nil {
			log.Warn().Err(err).Msg("refresh worker: dequeue")
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}

		log.Info().Str("job_id", job.ID).Str("reason", job.Reason).Time("requested_at", job.RequestedAt).Msg("refresh worker: processing job")
		if err := r.RequestRefresh(ctx, job.Reason); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("refresh worker: request refresh")
		}
	}
}
