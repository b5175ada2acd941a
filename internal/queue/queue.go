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

// Package queue carries enrichment jobs through a Redis list. The sync
// engine publishes one job per newly ingested message; the enrichment
// worker consumes them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/inboxcopilot/pipeline/internal/models"
)

// taskName tags every envelope so other consumers can route on it.
const taskName = "inbox.enrich_message"

// Client is the subset of *redis.Client the queue uses.
type Client interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// envelope wraps a job for Redis transport.
type envelope struct {
	ID          string `json:"id"`
	Task        string `json:"task"`
	ContentType string `json:"content-type"`
	Body        string `json:"body"`
}

// Publisher pushes enrichment jobs onto the queue.
type Publisher struct {
	rdb       Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// NotifyNew queues enrichment for a newly ingested message.
func (p *Publisher) NotifyNew(ctx context.Context, ownerID, messageID string) error {
	return p.Publish(ctx, models.EnrichmentJob{
		JobID:      uuid.NewString(),
		OwnerID:    ownerID,
		MessageID:  messageID,
		EnqueuedAt: time.Now().UTC(),
	})
}

// Publish serialises job and pushes it with LPUSH; consumers BRPOP from
// the other end, so the list is FIFO.
func (p *Publisher) Publish(ctx context.Context, job models.EnrichmentJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal enrichment job: %w", err)
	}
	msg, err := json.Marshal(envelope{
		ID:          job.JobID,
		Task:        taskName,
		ContentType: "application/json",
		Body:        string(body),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("queued enrichment job",
		"job_id", job.JobID,
		"owner", job.OwnerID,
		"message_id", job.MessageID,
		"attempt", job.Attempt,
		"queue", p.queueName,
	)
	return nil
}

// Requeue publishes job again with its attempt counter incremented.
func (p *Publisher) Requeue(ctx context.Context, job models.EnrichmentJob) error {
	job.Attempt++
	return p.Publish(ctx, job)
}

// Depth returns the number of queued jobs.
func (p *Publisher) Depth(ctx context.Context) (int64, error) {
	return p.rdb.LLen(ctx, p.queueName).Result()
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

// Consumer pops enrichment jobs.
type Consumer struct {
	rdb       Client
	queueName string
	wait      time.Duration
}

// NewConsumer creates a consumer. wait bounds each blocking pop so a
// stopping worker is never stuck in Redis for long; it defaults to 2s.
func NewConsumer(rdb Client, queueName string, wait time.Duration) *Consumer {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Consumer{rdb: rdb, queueName: queueName, wait: wait}
}

// Next blocks for up to the configured wait and returns the next job, or
// nil when the queue stayed empty. Malformed entries are logged and
// dropped.
func (c *Consumer) Next(ctx context.Context) (*models.EnrichmentJob, error) {
	res, err := c.rdb.BRPop(ctx, c.wait, c.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP: %w", err)
	}
	// BRPOP replies [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redis BRPOP: unexpected reply of %d elements", len(res))
	}

	job, err := decode(res[1])
	if err != nil {
		slog.Error("dropping malformed enrichment job", "queue", c.queueName, "error", err)
		return nil, nil
	}
	return job, nil
}

func decode(raw string) (*models.EnrichmentJob, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Task != taskName {
		return nil, fmt.Errorf("unexpected task %q", env.Task)
	}
	var job models.EnrichmentJob
	if err := json.Unmarshal([]byte(env.Body), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.OwnerID == "" || job.MessageID == "" {
		return nil, errors.New("job without owner or message id")
	}
	return &job, nil
}
