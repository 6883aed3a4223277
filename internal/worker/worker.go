package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/attendlens/backend/internal/sync"
	"github.com/attendlens/backend/pkg/queue"
)

// SyncProcessor consumes sync jobs from the queue and runs them through the
// engine. A queue retry is only worthwhile when the engine never reached a
// terminal job status; the engine marks jobs failed itself, so processor
// errors here are purely for logging and DLQ bookkeeping.
type SyncProcessor struct {
	engine *sync.Engine
	queue  *queue.Queue
	logger *zap.Logger
}

// NewSyncProcessor creates a sync job processor.
func NewSyncProcessor(engine *sync.Engine, q *queue.Queue, logger *zap.Logger) *SyncProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncProcessor{engine: engine, queue: q, logger: logger}
}

// Process executes one sync job.
func (p *SyncProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSync {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	p.logger.Info("sync job starting",
		zap.String("sync_job_id", payload.JobID.String()),
		zap.String("connection_id", payload.ConnectionID.String()),
		zap.String("kind", payload.Kind),
	)
	if err := p.engine.Run(ctx, payload.JobID, payload.ConnectionID, payload.Kind); err != nil {
		return fmt.Errorf("run sync job %s: %w", payload.JobID, err)
	}
	return nil
}

// Run starts the worker loop: dequeue, process, log failures. Jobs that fail
// have already been transitioned to a terminal status by the engine, so they
// are not re-enqueued; only undecodable envelopes go through queue retry.
func (p *SyncProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sync worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("sync worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
