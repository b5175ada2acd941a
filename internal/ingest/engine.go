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

// Package ingest synchronises owners' mailboxes into the store. Each sync
// holds a per-owner lease, inserts messages idempotently on
// (owner, external id) and advances the cursor only after a page is fully
// persisted, so an interrupted sync resumes where it stopped.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/metrics"
	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
)

var (
	// ErrConflict is returned when another sync holds the owner's lease.
	ErrConflict = errors.New("sync already in progress")
	// ErrAuthExpired means the owner must reauthorize the mailbox.
	ErrAuthExpired = errors.New("reauthorization required")
	// ErrNoCredential is returned when the owner has no stored credential.
	ErrNoCredential = errors.New("no mailbox credential")
)

// Store is the persistence the engine needs.
type Store interface {
	InsertMessage(ctx context.Context, m *models.Message) (bool, error)
	GetCursor(ctx context.Context, ownerID string) (*models.SyncCursor, error)
	AcquireSyncLease(ctx context.Context, ownerID string, staleAfter time.Duration) (bool, error)
	ReleaseSyncLease(ctx context.Context, ownerID string) error
	AdvanceCursor(ctx context.Context, ownerID, token string) error
	RecordSyncSuccess(ctx context.Context, ownerID string, inserted int) error
	RecordSyncError(ctx context.Context, ownerID, message string) error
	GetCredential(ctx context.Context, ownerID string) (*models.Credential, error)
	ListCredentialOwners(ctx context.Context) ([]string, error)
}

// Notifier is told about every newly inserted message.
type Notifier interface {
	NotifyNew(ctx context.Context, ownerID, messageID string) error
}

// Report summarises one sync call.
type Report struct {
	OwnerID     string `json:"owner_id"`
	Provider    string `json:"provider"`
	Inserted    int    `json:"inserted"`
	Duplicates  int    `json:"duplicates"`
	Skipped     int    `json:"skipped"`
	Pages       int    `json:"pages"`
	Complete    bool   `json:"complete"`
	CursorReset bool   `json:"cursor_reset"`
}

// EngineConfig holds the engine's dependencies.
type EngineConfig struct {
	Store     Store
	Providers map[string]mailbox.Provider
	Notifier  Notifier
	// MaxPages bounds the pages fetched per call; the rest is left for the
	// next call.
	MaxPages int
	// LeaseTTL is how long a lease may be held before it is treated as
	// abandoned.
	LeaseTTL     time.Duration
	SyncInterval time.Duration
	// Owners limits SyncAll; empty means every owner with a credential.
	Owners []string
}

// Engine runs mailbox syncs.
type Engine struct {
	store     Store
	providers map[string]mailbox.Provider
	notifier  Notifier
	maxPages  int
	leaseTTL  time.Duration
	interval  time.Duration
	owners    []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a sync engine.
func NewEngine(cfg EngineConfig) *Engine {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 20
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 15 * time.Minute
	}
	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Engine{
		store:     cfg.Store,
		providers: cfg.Providers,
		notifier:  cfg.Notifier,
		maxPages:  maxPages,
		leaseTTL:  leaseTTL,
		interval:  interval,
		owners:    cfg.Owners,
	}
}

// SyncOwner loads the owner's credential and runs StartSync.
func (e *Engine) SyncOwner(ctx context.Context, ownerID string) (*Report, error) {
	cred, err := e.store.GetCredential(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrNoCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return e.StartSync(ctx, ownerID, cred)
}

// StartSync pulls new messages for ownerID until the provider reports no
// further pages or MaxPages is reached. The returned report is non-nil
// whenever the lease was acquired, including on error.
func (e *Engine) StartSync(ctx context.Context, ownerID string, cred *models.Credential) (*Report, error) {
	provider, ok := e.providers[cred.Provider]
	if !ok {
		return nil, fmt.Errorf("no mailbox provider registered for %q", cred.Provider)
	}

	acquired, err := e.store.AcquireSyncLease(ctx, ownerID, e.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !acquired {
		metrics.SyncRuns.WithLabelValues(provider.Name(), "conflict").Inc()
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrConflict)
	}
	defer e.release(ctx, ownerID)

	report := &Report{OwnerID: ownerID, Provider: provider.Name()}
	start := time.Now()

	err = e.run(ctx, provider, ownerID, cred, report)

	// Bookkeeping must land even when the caller's context is done.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if rerr := e.store.RecordSyncSuccess(bookCtx, ownerID, report.Inserted); rerr != nil {
			slog.Error("failed to record sync success", "owner", ownerID, "error", rerr)
		}
		metrics.SyncRuns.WithLabelValues(provider.Name(), "ok").Inc()
		slog.Info("mailbox sync complete",
			"owner", ownerID,
			"provider", provider.Name(),
			"inserted", report.Inserted,
			"duplicates", report.Duplicates,
			"pages", report.Pages,
			"complete", report.Complete,
			"elapsed", time.Since(start),
		)
		return report, nil

	case errors.Is(err, mailbox.ErrAuthExpired):
		metrics.SyncRuns.WithLabelValues(provider.Name(), "auth_expired").Inc()
		slog.Warn("mailbox authorization expired", "owner", ownerID, "provider", provider.Name(), "error", err)
		return report, fmt.Errorf("owner %s: %w: %w", ownerID, ErrAuthExpired, err)

	default:
		if rerr := e.store.RecordSyncError(bookCtx, ownerID, err.Error()); rerr != nil {
			slog.Error("failed to record sync error", "owner", ownerID, "error", rerr)
		}
		metrics.SyncRuns.WithLabelValues(provider.Name(), "error").Inc()
		slog.Error("mailbox sync failed",
			"owner", ownerID,
			"provider", provider.Name(),
			"inserted", report.Inserted,
			"error", err,
		)
		return report, fmt.Errorf("sync owner %s: %w", ownerID, err)
	}
}

func (e *Engine) release(ctx context.Context, ownerID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.ReleaseSyncLease(releaseCtx, ownerID); err != nil {
		slog.Error("failed to release sync lease", "owner", ownerID, "error", err)
	}
}

// run is the page loop. The cursor is advanced only after every message of
// a page has been persisted.
func (e *Engine) run(ctx context.Context, provider mailbox.Provider, ownerID string, cred *models.Credential, report *Report) error {
	cursor, err := e.store.GetCursor(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	token := cursor.Token

	for report.Pages < e.maxPages {
		page, err := provider.FetchPage(ctx, cred, token)
		if err != nil {
			if errors.Is(err, mailbox.ErrCursorExpired) && token != "" && !report.CursorReset {
				slog.Warn("sync cursor expired, restarting full listing",
					"owner", ownerID,
					"provider", provider.Name(),
					"error", err,
				)
				if err := e.store.AdvanceCursor(ctx, ownerID, ""); err != nil {
					return fmt.Errorf("reset cursor: %w", err)
				}
				token = ""
				report.CursorReset = true
				continue
			}
			return fmt.Errorf("fetch page %d: %w", report.Pages+1, err)
		}
		if page.HasMore && page.NextCursor == "" {
			return fmt.Errorf("provider %s returned more pages without a cursor", provider.Name())
		}
		report.Pages++

		for i := range page.Messages {
			if err := e.persist(ctx, provider.Name(), ownerID, &page.Messages[i], report); err != nil {
				return err
			}
		}

		if err := e.store.AdvanceCursor(ctx, ownerID, page.NextCursor); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		token = page.NextCursor

		if !page.HasMore {
			report.Complete = true
			return nil
		}
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, providerName, ownerID string, m *models.Message, report *Report) error {
	if m.ExternalID == "" {
		slog.Warn("skipping message without provider id", "owner", ownerID, "provider", providerName)
		report.Skipped++
		return nil
	}

	m.ID = uuid.NewString()
	m.OwnerID = ownerID
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}

	inserted, err := e.store.InsertMessage(ctx, m)
	if err != nil {
		return fmt.Errorf("persist message %s: %w", m.ExternalID, err)
	}
	if !inserted {
		report.Duplicates++
		metrics.MessagesIngested.WithLabelValues(providerName, "duplicate").Inc()
		return nil
	}

	report.Inserted++
	metrics.MessagesIngested.WithLabelValues(providerName, "new").Inc()

	if e.notifier != nil {
		if err := e.notifier.NotifyNew(ctx, ownerID, m.ID); err != nil {
			slog.Warn("failed to announce new message",
				"owner", ownerID,
				"message_id", m.ID,
				"error", err,
			)
		}
	}
	return nil
}
