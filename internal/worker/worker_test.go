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

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
)

type chanSource chan models.EnrichmentJob

func (c chanSource) Next(ctx context.Context) (*models.EnrichmentJob, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job := <-c:
		return &job, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

type recorder struct {
	mu         sync.Mutex
	classified []string
	drafted    []string
	requeued   []models.EnrichmentJob
	claims     map[string]bool
	failWith   map[string]error
}

func newRecorder() *recorder {
	return &recorder{claims: make(map[string]bool), failWith: make(map[string]error)}
}

func (r *recorder) ClassifyOne(_ context.Context, _, id string) (*models.ClassificationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failWith[id]; err != nil {
		return nil, err
	}
	r.classified = append(r.classified, id)
	return &models.ClassificationResult{MessageID: id}, nil
}

func (r *recorder) Draft(_ context.Context, _, id string) (*models.DraftResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafted = append(r.drafted, id)
	return &models.DraftResult{MessageID: id}, nil
}

func (r *recorder) Requeue(_ context.Context, job models.EnrichmentJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.Attempt++
	r.requeued = append(r.requeued, job)
	return nil
}

func (r *recorder) Claim(_ context.Context, owner, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := owner + "/" + id
	if r.claims[k] {
		return false, nil
	}
	r.claims[k] = true
	return true, nil
}

func (r *recorder) Release(_ context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, owner+"/"+id)
	return nil
}

func newWorker(r *recorder, src Source) *Worker {
	return New(Config{
		Source:     src,
		Requeuer:   r,
		Claimer:    r,
		Classifier: r,
		Drafter:    r,
	})
}

func job(id string, attempt int) models.EnrichmentJob {
	return models.EnrichmentJob{JobID: "job-" + id, OwnerID: "prof-1", MessageID: id, Attempt: attempt}
}

func TestHandle_ClassifiesThenDrafts(t *testing.T) {
	r := newRecorder()
	w := newWorker(r, nil)

	w.Handle(context.Background(), job("m1", 0))
	if len(r.classified) != 1 || len(r.drafted) != 1 {
		t.Errorf("classified = %v drafted = %v", r.classified, r.drafted)
	}

	w.Handle(context.Background(), job("m1", 0))
	if len(r.classified) != 1 {
		t.Error("duplicate job should be skipped")
	}
}

func TestHandle_MissingMessageDropped(t *testing.T) {
	r := newRecorder()
	r.failWith["gone"] = fmt.Errorf("load message gone: %w", store.ErrNotFound)
	w := newWorker(r, nil)

	w.Handle(context.Background(), job("gone", 0))
	if len(r.requeued) != 0 || len(r.drafted) != 0 {
		t.Errorf("requeued = %v drafted = %v", r.requeued, r.drafted)
	}
}

func TestHandle_FailureRequeuesUntilMaxAttempts(t *testing.T) {
	r := newRecorder()
	r.failWith["m1"] = errors.New("database is locked")
	w := newWorker(r, nil)
	ctx := context.Background()

	w.Handle(ctx, job("m1", 0))
	if len(r.requeued) != 1 || r.requeued[0].Attempt != 1 {
		t.Fatalf("requeued = %+v", r.requeued)
	}
	if r.claims["prof-1/m1"] {
		t.Error("failed job should release its claim")
	}

	w.Handle(ctx, r.requeued[0])
	w.Handle(ctx, r.requeued[1])
	if len(r.requeued) != 2 {
		t.Errorf("requeued %d times, want 2 (third attempt is final)", len(r.requeued))
	}
	if len(r.drafted) != 0 {
		t.Error("no draft for an unclassified message")
	}
}

func TestWorker_StartStop(t *testing.T) {
	r := newRecorder()
	src := make(chanSource, 5)
	for i := 0; i < 5; i++ {
		src <- job(fmt.Sprintf("m%d", i), 0)
	}
	w := New(Config{Source: src, Claimer: r, Classifier: r, Concurrency: 2})
	w.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.classified)
		r.mu.Unlock()
		if n == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("classified %d of 5 jobs", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	if len(r.drafted) != 0 {
		t.Error("nil drafter should skip drafting")
	}
}
