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

// Package inbox serves the owner-facing views of stored mail: filtered
// listing, read state, counters and the category breakdown.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
)

// Page size bounds for List.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ErrInvalidQuery is returned when a listing filter names an unknown category.
var ErrInvalidQuery = errors.New("invalid query")

// Store is the persistence the service needs.
type Store interface {
	ListMessages(ctx context.Context, ownerID string, f store.MessageFilter) ([]models.Message, int, error)
	MarkRead(ctx context.Context, ownerID, id string) error
	InboxCounts(ctx context.Context, ownerID string) (*models.InboxStats, error)
	CategoryCounts(ctx context.Context, ownerID string) ([]models.CategoryCount, error)
}

// Query selects one page of an owner's messages. Page is 1-based; values
// below 1 mean the first page. PerPage defaults to DefaultPerPage and is
// capped at MaxPerPage.
type Query struct {
	Category   models.Category
	UrgentOnly bool
	UnreadOnly bool
	Page       int
	PerPage    int
}

// Service answers inbox queries.
type Service struct {
	store Store
}

func NewService(st Store) *Service {
	return &Service{store: st}
}

// List returns one page of messages, newest first.
func (s *Service) List(ctx context.Context, ownerID string, q Query) (*models.MessagePage, error) {
	if q.Category != "" && !q.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidQuery, q.Category)
	}
	page := max(q.Page, 1)
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, MaxPerPage)

	f := store.MessageFilter{
		Category:   q.Category,
		UnreadOnly: q.UnreadOnly,
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
	if q.UrgentOnly {
		f.MinPriority = models.HighPriorityThreshold
	}
	msgs, total, err := s.store.ListMessages(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	pages := (total + perPage - 1) / perPage
	return &models.MessagePage{
		Messages: msgs,
		Page:     page,
		PerPage:  perPage,
		Pages:    pages,
		Total:    total,
		HasNext:  page < pages,
		HasPrev:  page > 1,
	}, nil
}

// MarkRead flags one message as read. A missing message yields
// store.ErrNotFound.
func (s *Service) MarkRead(ctx context.Context, ownerID, messageID string) error {
	if err := s.store.MarkRead(ctx, ownerID, messageID); err != nil {
		return fmt.Errorf("mark read %s: %w", messageID, err)
	}
	slog.Debug("message marked read", "owner_id", ownerID, "message_id", messageID)
	return nil
}

// Stats returns the owner's counters. ProcessingRate is the processed
// percentage, 0 for an empty mailbox.
func (s *Service) Stats(ctx context.Context, ownerID string) (*models.InboxStats, error) {
	st, err := s.store.InboxCounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if st.Total > 0 {
		st.ProcessingRate = float64(st.Processed) / float64(st.Total) * 100
	}
	return st, nil
}

// Categories returns the all-time category breakdown. Unclassified
// messages are not counted.
func (s *Service) Categories(ctx context.Context, ownerID string) ([]models.CategoryCount, error) {
	out, err := s.store.CategoryCounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}
	return out, nil
}
