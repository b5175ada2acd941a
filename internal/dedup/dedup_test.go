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

package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestFilter_ClaimOnce(t *testing.T) {
	rdb := &fakeRedis{keys: make(map[string]time.Duration)}
	f := NewFilter(rdb, 0)
	ctx := context.Background()

	first, err := f.Claim(ctx, "prof-1", "m1")
	if err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	again, err := f.Claim(ctx, "prof-1", "m1")
	if err != nil || again {
		t.Errorf("second claim = %v, %v; want false", again, err)
	}
	other, _ := f.Claim(ctx, "prof-2", "m1")
	if !other {
		t.Error("claims are per owner")
	}
	if ttl := rdb.keys["inbox:enrich:prof-1:m1"]; ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultTTL)
	}

	if err := f.Release(ctx, "prof-1", "m1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := f.Claim(ctx, "prof-1", "m1"); !ok {
		t.Error("released message should be claimable")
	}
}
