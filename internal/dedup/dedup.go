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

// Package dedup suppresses repeated enrichment of a message using Redis
// keys with a TTL. A message can be announced more than once when a
// backfill overlaps a sync or a job is requeued after a worker crash.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a claimed message.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "inbox:enrich:"
)

// Client is the subset of *redis.Client the filter uses.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Filter tracks which messages are already being enriched.
type Filter struct {
	rdb Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A non-positive ttl
// uses DefaultTTL.
func NewFilter(rdb Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim returns true if the message has NOT been claimed before. If true,
// the message is marked as claimed atomically (SETNX).
func (f *Filter) Claim(ctx context.Context, ownerID, messageID string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, key(ownerID, messageID), 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release forgets a claim so a retried job can run.
func (f *Filter) Release(ctx context.Context, ownerID, messageID string) error {
	if err := f.rdb.Del(ctx, key(ownerID, messageID)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

func key(ownerID, messageID string) string {
	return keyPrefix + ownerID + ":" + messageID
}
