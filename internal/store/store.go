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

// Package store persists messages, sync cursors, preferences, credentials
// and digest snapshots. Two backends are provided: Postgres (pgxpool) for
// deployments and SQLite (sqlx + modernc) for local runs and tests.
//
// Every method is owner-scoped and runs as its own short statement or
// transaction; callers never hold a transaction across network calls.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inboxcopilot/pipeline/internal/models"
)

// ErrNotFound is returned when an owner-scoped lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store is the full persistence surface. Services depend on narrower
// interfaces declared next to them.
type Store interface {
	// InsertMessage stores m unless (owner, external id) already exists.
	// It reports whether a row was inserted; an existing key is not an error.
	InsertMessage(ctx context.Context, m *models.Message) (bool, error)
	GetMessage(ctx context.Context, ownerID, id string) (*models.Message, error)
	// ListUnprocessed returns up to limit unprocessed messages, oldest first.
	ListUnprocessed(ctx context.Context, ownerID string, limit int) ([]models.Message, error)
	// ListConversation returns messages of a conversation received strictly
	// before the given time, newest first.
	ListConversation(ctx context.Context, ownerID, conversationID string, before time.Time, limit int) ([]models.Message, error)
	// ListReceivedBetween returns messages with from <= received_at < to.
	ListReceivedBetween(ctx context.Context, ownerID string, from, to time.Time) ([]models.Message, error)
	// SearchMessages returns messages where any term appears in the subject,
	// preview, summary or sender (case-insensitive), newest first.
	SearchMessages(ctx context.Context, ownerID string, terms []string, limit int) ([]models.Message, error)
	SaveClassification(ctx context.Context, ownerID, id string, c models.ClassificationResult) error
	SaveDraft(ctx context.Context, ownerID, id, draft string) error
	// ListMessages returns one page of messages matching f, newest first,
	// and the total number of matches.
	ListMessages(ctx context.Context, ownerID string, f MessageFilter) ([]models.Message, int, error)
	MarkRead(ctx context.Context, ownerID, id string) error
	// InboxCounts counts the owner's messages over all time.
	InboxCounts(ctx context.Context, ownerID string) (*models.InboxStats, error)
	// CategoryCounts groups classified messages by category, largest first.
	CategoryCounts(ctx context.Context, ownerID string) ([]models.CategoryCount, error)

	GetPreferences(ctx context.Context, ownerID string) (*models.Preferences, error)
	UpsertPreferences(ctx context.Context, p models.Preferences) error

	SaveDigest(ctx context.Context, ownerID, date string, payload []byte) error
	GetDigest(ctx context.Context, ownerID, date string) ([]byte, error)

	GetCursor(ctx context.Context, ownerID string) (*models.SyncCursor, error)
	// AcquireSyncLease marks the owner's sync in flight. It returns false
	// when another holder has the lease and it is younger than staleAfter.
	AcquireSyncLease(ctx context.Context, ownerID string, staleAfter time.Duration) (bool, error)
	ReleaseSyncLease(ctx context.Context, ownerID string) error
	AdvanceCursor(ctx context.Context, ownerID, token string) error
	RecordSyncSuccess(ctx context.Context, ownerID string, inserted int) error
	RecordSyncError(ctx context.Context, ownerID, message string) error

	GetCredential(ctx context.Context, ownerID string) (*models.Credential, error)
	SaveCredential(ctx context.Context, c models.Credential) error
	ListCredentialOwners(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageFilter narrows ListMessages. Zero filter fields match everything;
// Limit must be positive.
type MessageFilter struct {
	Category models.Category
	// MinPriority keeps messages with priority >= MinPriority.
	MinPriority int
	UnreadOnly  bool
	Limit       int
	Offset      int
}

// Open returns the backend named by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres", "pgx":
		return NewPostgres(ctx, dsn)
	case "sqlite", "":
		return NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// validateClassification enforces the processed-implies-populated invariant
// before any backend writes processed = true.
func validateClassification(c models.ClassificationResult) error {
	if !c.Category.Valid() {
		return fmt.Errorf("invalid category %q", c.Category)
	}
	if c.Priority < models.MinPriority || c.Priority > models.MaxPriority {
		return fmt.Errorf("priority %d out of range", c.Priority)
	}
	if strings.TrimSpace(c.Summary) == "" {
		return errors.New("empty summary")
	}
	return nil
}

// likePattern escapes LIKE wildcards and wraps the lower-cased term.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
