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

// Package storetest provides store fixtures for package tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
)

// New creates an in-memory SQLite store with all migrations applied.
// It is closed automatically when the test completes.
func New(t *testing.T) *store.SQLite {
	t.Helper()

	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Message builds a minimal unprocessed message for owner.
func Message(owner, externalID string, received time.Time) *models.Message {
	return &models.Message{
		ID:            uuid.NewString(),
		OwnerID:       owner,
		ExternalID:    externalID,
		Subject:       "Subject " + externalID,
		SenderName:    "Student " + externalID,
		SenderAddress: externalID + "@example.edu",
		BodyPlain:     "Body of " + externalID,
		BodyPreview:   "Body of " + externalID,
		ReceivedAt:    received.UTC(),
	}
}

// Seed inserts n messages for owner, one minute apart starting at start,
// and returns them in insertion order.
func Seed(t *testing.T, s store.Store, owner string, n int, start time.Time) []*models.Message {
	t.Helper()

	out := make([]*models.Message, 0, n)
	for i := 0; i < n; i++ {
		m := Message(owner, fmt.Sprintf("ext-%d", i), start.Add(time.Duration(i)*time.Minute))
		if _, err := s.InsertMessage(context.Background(), m); err != nil {
			t.Fatalf("seeding message %d: %v", i, err)
		}
		out = append(out, m)
	}
	return out
}
