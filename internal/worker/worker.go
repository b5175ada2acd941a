// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker consumes enrichment jobs: each newly ingested message is
// classified and, optionally, given a draft reply.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
)

// Source yields jobs. Next returns nil, nil when no job arrived in time.
type Source interface {
	Next(ctx context.Context) (*models.EnrichmentJob, error)
}

// Requeuer puts a failed job back on the queue.
type Requeuer interface {
	Requeue(ctx context.Context, job models.EnrichmentJob) error
}

// Claimer suppresses duplicate jobs for the same message.
type Claimer interface {
	Claim(ctx context.Context, ownerID, messageID string) (bool, error)
	Release(ctx context.Context, ownerID, messageID string) error
}

type Classifier interface {
	ClassifyOne(ctx context.Context, ownerID, messageID string) (*models.ClassificationResult, error)
}

type Drafter interface {
	Draft(ctx context.Context, ownerID, messageID string) (*models.DraftResult, error)
}

// Config holds the worker's dependencies.
type Config struct {
	Source     Source
	Requeuer   Requeuer
	Claimer    Claimer
	Classifier Classifier
	// Drafter is optional; nil skips drafting.
	Drafter Drafter
	// Concurrency is the number of consumer goroutines. Defaults to 1.
	Concurrency int
	// MaxAttempts bounds deliveries of a failing job. Defaults to 3.
	MaxAttempts int
	// ErrorBackoff is the pause after a queue error. Defaults to 1s.
	ErrorBackoff time.Duration
}

// Worker runs consumer goroutines until stopped.
type Worker struct {
	source      Source
	requeuer    Requeuer
	claimer     Claimer
	classifier  Classifier
	drafter     Drafter
	concurrency int
	maxAttempts int
	backoff     time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker.
func New(cfg Config) *Worker {
	w := &Worker{
		source:      cfg.Source,
		requeuer:    cfg.Requeuer,
		claimer:     cfg.Claimer,
		classifier:  cfg.Classifier,
		drafter:     cfg.Drafter,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.ErrorBackoff,
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.backoff <= 0 {
		w.backoff = time.Second
	}
	return w
}

// Start launches the consumers.
func (w *Worker) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consume(loopCtx)
		}()
	}

	slog.Info("enrichment worker started", "concurrency", w.concurrency)
}

// Stop cancels the consumers and waits for in-flight jobs.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read enrichment queue", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.Handle(ctx, *job)
	}
}

// Handle processes one job. Failures are requeued until MaxAttempts
// deliveries; a message that no longer exists is dropped.
func (w *Worker) Handle(ctx context.Context, job models.EnrichmentJob) {
	log := slog.With("job_id", job.JobID, "owner", job.OwnerID, "message_id", job.MessageID)

	if w.claimer != nil {
		fresh, err := w.claimer.Claim(ctx, job.OwnerID, job.MessageID)
		if err != nil {
			// Enrichment is idempotent.
			log.Warn("dedup check failed, processing anyway", "error", err)
		} else if !fresh {
			log.Debug("skipping already claimed message")
			return
		}
	}

	_, err := w.classifier.ClassifyOne(ctx, job.OwnerID, job.MessageID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		log.Warn("dropping job for missing message")
		return
	default:
		w.retry(ctx, job, err)
		return
	}

	if w.drafter != nil {
		if _, err := w.drafter.Draft(ctx, job.OwnerID, job.MessageID); err != nil {
			log.Error("failed to draft reply", "error", err)
		}
	}
	log.Info("message enriched")
}

func (w *Worker) retry(ctx context.Context, job models.EnrichmentJob, cause error) {
	log := slog.With("job_id", job.JobID, "owner", job.OwnerID, "message_id", job.MessageID, "attempt", job.Attempt)

	// Bookkeeping must land even while shutting down.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if w.claimer != nil {
		if err := w.claimer.Release(bg, job.OwnerID, job.MessageID); err != nil {
			log.Error("failed to release dedup claim", "error", err)
		}
	}
	if job.Attempt+1 >= w.maxAttempts || w.requeuer == nil {
		log.Error("enrichment failed, giving up", "error", cause)
		return
	}
	if err := w.requeuer.Requeue(bg, job); err != nil {
		log.Error("failed to requeue enrichment job", "error", err, "cause", cause)
		return
	}
	log.Warn("enrichment failed, requeued", "error", cause)
}
