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

// Package backfill provides historical mail ingestion by listing messages
// within a lookback window and inserting them through the same idempotent
// path as sync. It never touches the sync cursor.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
)

// Lister pages through messages received since a point in time. An empty
// pageURL starts the listing; the returned page's NextCursor continues it.
type Lister interface {
	ListSince(ctx context.Context, cred *models.Credential, since time.Time, pageURL string) (*mailbox.Page, error)
}

// Store is the persistence the runner needs.
type Store interface {
	GetCredential(ctx context.Context, ownerID string) (*models.Credential, error)
	InsertMessage(ctx context.Context, m *models.Message) (bool, error)
}

// Notifier is told about every newly inserted message.
type Notifier interface {
	NotifyNew(ctx context.Context, ownerID, messageID string) error
}

// Request defines the scope of a historical ingestion run.
type Request struct {
	Owners []string
	Since  time.Duration // lookback window (e.g. 168h = 1 week)
}

// Result summarises a completed backfill run.
type Result struct {
	Owners     []OwnerResult `json:"owners"`
	TotalNew   int           `json:"total_new"`
	TotalDupes int           `json:"total_duplicates"`
	Elapsed    time.Duration `json:"elapsed"`
}

// OwnerResult tracks per-owner backfill progress.
type OwnerResult struct {
	OwnerID    string `json:"owner_id"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Pages      int    `json:"pages"`
	Errors     int    `json:"errors"`
	Error      string `json:"error,omitempty"`
}

// Runner performs historical backfill.
type Runner struct {
	store     Store
	listers   map[string]Lister
	notifier  Notifier
	pageDelay time.Duration // delay between pages to avoid throttling
	now       func() time.Time
}

// RunnerConfig holds dependencies for the backfill runner. Listers is
// keyed by credential provider kind.
type RunnerConfig struct {
	Store     Store
	Listers   map[string]Lister
	Notifier  Notifier
	PageDelay time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.PageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Runner{
		store:     cfg.Store,
		listers:   cfg.Listers,
		notifier:  cfg.Notifier,
		pageDelay: delay,
		now:       time.Now,
	}
}

// Run performs the backfill for every requested owner. A failing owner is
// recorded in its OwnerResult and does not stop the others.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	since := r.now().UTC().Add(-req.Since)

	slog.Info("starting historical backfill",
		"owners", len(req.Owners),
		"since", since.Format(time.RFC3339),
	)

	result := &Result{}
	for _, ownerID := range req.Owners {
		or, err := r.backfillOwner(ctx, ownerID, since)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return result, err
			}
			slog.Error("backfill failed for owner",
				"owner", ownerID,
				"error", err,
			)
			// Continue with other owners
			or.Errors++
			or.Error = err.Error()
		}

		result.Owners = append(result.Owners, or)
		result.TotalNew += or.Inserted
		result.TotalDupes += or.Duplicates
	}

	result.Elapsed = time.Since(start)

	slog.Info("historical backfill complete",
		"total_new", result.TotalNew,
		"total_duplicates", result.TotalDupes,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// backfillOwner lists and stores historical messages for a single owner.
func (r *Runner) backfillOwner(ctx context.Context, ownerID string, since time.Time) (OwnerResult, error) {
	or := OwnerResult{OwnerID: ownerID}

	cred, err := r.store.GetCredential(ctx, ownerID)
	if err != nil {
		return or, fmt.Errorf("load credential: %w", err)
	}
	lister, ok := r.listers[cred.Provider]
	if !ok {
		return or, fmt.Errorf("backfill not supported for provider %q", cred.Provider)
	}

	for next, first := "", true; first || next != ""; first = false {
		// Rate limit between pages
		if !first {
			select {
			case <-ctx.Done():
				return or, ctx.Err()
			case <-time.After(r.pageDelay):
			}
		}

		page, err := lister.ListSince(ctx, cred, since, next)
		if err != nil {
			return or, fmt.Errorf("fetch page %d: %w", or.Pages, err)
		}
		or.Pages++

		slog.Debug("backfill page fetched",
			"owner", ownerID,
			"page", or.Pages,
			"messages", len(page.Messages),
		)

		for i := range page.Messages {
			m := &page.Messages[i]
			if m.ExternalID == "" {
				continue
			}
			m.ID = uuid.NewString()
			m.OwnerID = ownerID
			if m.ReceivedAt.IsZero() {
				m.ReceivedAt = r.now().UTC()
			}

			inserted, err := r.store.InsertMessage(ctx, m)
			if err != nil {
				slog.Warn("backfill: insert failed",
					"owner", ownerID,
					"external_id", m.ExternalID,
					"error", err,
				)
				or.Errors++
				continue
			}
			if !inserted {
				or.Duplicates++
				continue
			}
			or.Inserted++

			if r.notifier != nil {
				if err := r.notifier.NotifyNew(ctx, ownerID, m.ID); err != nil {
					slog.Warn("backfill: enrichment notify failed", "message_id", m.ID, "error", err)
				}
			}
		}

		next = ""
		if page.HasMore {
			next = page.NextCursor
		}
	}

	slog.Info("owner backfill complete",
		"owner", ownerID,
		"inserted", or.Inserted,
		"duplicates", or.Duplicates,
		"errors", or.Errors,
		"pages", or.Pages,
	)

	return or, nil
}

// Owners resolves the owner list: the given ids, or every owner with a
// stored credential when none are given.
func Owners(ctx context.Context, st interface {
	ListCredentialOwners(ctx context.Context) ([]string, error)
}, ids []string) ([]string, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	owners, err := st.ListCredentialOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	if len(owners) == 0 {
		return nil, fmt.Errorf("no owners with credentials: %w", store.ErrNotFound)
	}
	return owners, nil
}
