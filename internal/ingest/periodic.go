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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SyncAllResult counts the outcomes of one SyncAll pass.
type SyncAllResult struct {
	Synced      int
	Conflicts   int
	AuthExpired int
	Failed      int
	Inserted    int
}

// SyncAll syncs every configured owner in turn. Per-owner failures are
// logged and counted; only failing to list owners is returned as an error.
func (e *Engine) SyncAll(ctx context.Context) (SyncAllResult, error) {
	var res SyncAllResult

	owners := e.owners
	if len(owners) == 0 {
		var err error
		owners, err = e.store.ListCredentialOwners(ctx)
		if err != nil {
			return res, fmt.Errorf("list owners: %w", err)
		}
	}

	for _, owner := range owners {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		report, err := e.SyncOwner(ctx, owner)
		switch {
		case err == nil:
			res.Synced++
			res.Inserted += report.Inserted
		case errors.Is(err, ErrConflict):
			res.Conflicts++
			slog.Info("sync skipped, already in progress", "owner", owner)
		case errors.Is(err, ErrAuthExpired), errors.Is(err, ErrNoCredential):
			res.AuthExpired++
			slog.Warn("sync skipped, owner must reauthorize", "owner", owner, "error", err)
		default:
			res.Failed++
			slog.Error("periodic sync failed", "owner", owner, "error", err)
		}
	}
	return res, nil
}

// StartPeriodic runs SyncAll every SyncInterval until Stop is called or
// ctx is cancelled.
func (e *Engine) StartPeriodic(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				res, err := e.SyncAll(loopCtx)
				if err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("periodic sync pass failed", "error", err)
					continue
				}
				slog.Info("periodic sync pass complete",
					"synced", res.Synced,
					"inserted", res.Inserted,
					"conflicts", res.Conflicts,
					"auth_expired", res.AuthExpired,
					"failed", res.Failed,
				)
			}
		}
	}()

	slog.Info("periodic mailbox sync started", "interval", e.interval)
}

// Stop shuts down the periodic loop and waits for an in-progress pass.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}
