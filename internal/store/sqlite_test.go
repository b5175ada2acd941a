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

package store_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
	"github.com/inboxcopilot/pipeline/internal/store/storetest"
)

var day = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func TestInsertMessage_DuplicateIsNoop(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	m := storetest.Message("prof", "ext-1", day.Add(time.Hour))
	inserted, err := s.InsertMessage(ctx, m)
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v; want true, nil", inserted, err)
	}

	dup := storetest.Message("prof", "ext-1", day.Add(2*time.Hour))
	inserted, err = s.InsertMessage(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert returned error: %v", err)
	}
	if inserted {
		t.Error("duplicate insert reported a new row")
	}

	// Same external id under another owner is a different message.
	other := storetest.Message("other", "ext-1", day)
	if inserted, _ := s.InsertMessage(ctx, other); !inserted {
		t.Error("insert for a different owner should succeed")
	}

	got, err := s.GetMessage(ctx, "prof", m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Subject != m.Subject || !got.ReceivedAt.Equal(m.ReceivedAt) {
		t.Errorf("stored message = %+v", got)
	}
}

func TestGetMessage_OwnerScoped(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	m := storetest.Message("prof", "ext-1", day)
	if _, err := s.InsertMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetMessage(ctx, "someone-else", m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveClassification(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	msgs := storetest.Seed(t, s, "prof", 2, day)

	result := models.ClassificationResult{
		Category: models.CategoryAdministrative,
		Priority: 8,
		Tone:     models.ToneUrgent,
		Summary:  "Asks about the grading deadline",
		RiskFlag: true,
	}
	if err := s.SaveClassification(ctx, "prof", msgs[0].ID, result); err != nil {
		t.Fatalf("SaveClassification: %v", err)
	}

	got, _ := s.GetMessage(ctx, "prof", msgs[0].ID)
	if !got.Processed || got.Category != models.CategoryAdministrative || got.Priority != 8 || !got.RiskFlag {
		t.Errorf("classified message = %+v", got)
	}

	pending, err := s.ListUnprocessed(ctx, "prof", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != msgs[1].ID {
		t.Errorf("unprocessed = %v, want only the second message", pending)
	}

	if err := s.SaveClassification(ctx, "prof", "missing", result); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing message err = %v, want ErrNotFound", err)
	}
}

func TestSaveClassification_RejectsIncomplete(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	msgs := storetest.Seed(t, s, "prof", 1, day)

	tests := []struct {
		name   string
		result models.ClassificationResult
	}{
		{"bad category", models.ClassificationResult{Category: "spam", Priority: 3, Summary: "x"}},
		{"priority too high", models.ClassificationResult{Category: models.CategoryOther, Priority: 11, Summary: "x"}},
		{"no summary", models.ClassificationResult{Category: models.CategoryOther, Priority: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SaveClassification(ctx, "prof", msgs[0].ID, tt.result); err == nil {
				t.Fatal("expected error")
			}
			got, _ := s.GetMessage(ctx, "prof", msgs[0].ID)
			if got.Processed {
				t.Error("message marked processed after rejected write")
			}
		})
	}
}

func TestListReceivedBetween_HalfOpen(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	for i, at := range []time.Time{
		day.Add(-time.Millisecond), // previous day
		day,                        // start bound, included
		day.Add(23 * time.Hour),    // included
		day.Add(24 * time.Hour),    // end bound, excluded
	} {
		m := storetest.Message("prof", string(rune('a'+i)), at)
		if _, err := s.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListReceivedBetween(ctx, "prof", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if !got[0].ReceivedAt.Equal(day) {
		t.Errorf("first = %v, want %v", got[0].ReceivedAt, day)
	}
}

func TestSearchMessages(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	a := storetest.Message("prof", "a", day)
	a.Subject = "Midterm regrade request"
	b := storetest.Message("prof", "b", day.Add(time.Hour))
	b.BodyPreview = "Question about the MIDTERM format"
	c := storetest.Message("prof", "c", day.Add(2*time.Hour))
	c.Subject = "Office hours"
	d := storetest.Message("prof", "d", day)
	d.Subject = "100% attendance_policy"
	for _, m := range []*models.Message{a, b, c, d} {
		if _, err := s.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchMessages(ctx, "prof", []string{"midterm"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != a.ID {
		t.Errorf("search = %v, want [b a]", ids(got))
	}

	// Wildcards in the query are matched literally.
	got, _ = s.SearchMessages(ctx, "prof", []string{"0%"}, 10)
	if len(got) != 1 || got[0].ID != d.ID {
		t.Errorf("literal %% search = %v, want [d]", ids(got))
	}

	got, _ = s.SearchMessages(ctx, "other-owner", []string{"midterm"}, 10)
	if len(got) != 0 {
		t.Errorf("search leaked across owners: %v", ids(got))
	}
}

func TestSyncLease_Exclusive(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	ok, err := s.AcquireSyncLease(ctx, "prof", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = s.AcquireSyncLease(ctx, "prof", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second acquire succeeded while lease is held")
	}

	// Different owners never contend.
	if ok, _ := s.AcquireSyncLease(ctx, "other", time.Hour); !ok {
		t.Error("lease for another owner should be free")
	}

	if err := s.ReleaseSyncLease(ctx, "prof"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.AcquireSyncLease(ctx, "prof", time.Hour); !ok {
		t.Error("acquire after release failed")
	}
}

func TestSyncLease_StaleLeaseReclaimed(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	clock := day
	s.SetClock(func() time.Time { return clock })

	if ok, _ := s.AcquireSyncLease(ctx, "prof", time.Hour); !ok {
		t.Fatal("acquire failed")
	}

	clock = day.Add(59 * time.Minute)
	ok, err := s.AcquireSyncLease(ctx, "prof", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("lease younger than staleAfter was reclaimed")
	}

	clock = day.Add(61 * time.Minute)
	ok, err = s.AcquireSyncLease(ctx, "prof", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("stale lease was not reclaimed")
	}
}

func TestCursorLifecycle(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	c, err := s.GetCursor(ctx, "prof")
	if err != nil {
		t.Fatal(err)
	}
	if c.Token != "" || c.InFlight {
		t.Errorf("fresh cursor = %+v", c)
	}

	if err := s.AdvanceCursor(ctx, "prof", "token-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSyncError(ctx, "prof", "boom"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSyncError(ctx, "prof", "boom again"); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCursor(ctx, "prof")
	if c.Token != "token-1" || c.ErrorCount != 2 || c.LastError != "boom again" {
		t.Errorf("cursor after errors = %+v", c)
	}

	if err := s.RecordSyncSuccess(ctx, "prof", 3); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCursor(ctx, "prof")
	if c.ErrorCount != 0 || c.LastError != "" || c.MessagesSynced != 3 || c.LastSuccessAt == nil {
		t.Errorf("cursor after success = %+v", c)
	}
}

func TestDigestOverwrite(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	if _, err := s.GetDigest(ctx, "prof", "2026-03-09"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing digest err = %v", err)
	}
	if err := s.SaveDigest(ctx, "prof", "2026-03-09", []byte(`{"total":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDigest(ctx, "prof", "2026-03-09", []byte(`{"total":2}`)); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDigest(ctx, "prof", "2026-03-09")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"total":2}` {
		t.Errorf("digest = %s, want the second snapshot", got)
	}
}

func TestPreferencesAndCredentials(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	p, err := s.GetPreferences(ctx, "prof")
	if err != nil || p.OwnerID != "prof" || p.Tone != "" {
		t.Fatalf("default preferences = %+v, %v", p, err)
	}
	if err := s.UpsertPreferences(ctx, models.Preferences{OwnerID: "prof", DisplayName: "Dr. Lee", Tone: "casual"}); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetPreferences(ctx, "prof")
	if p.DisplayName != "Dr. Lee" || p.Tone != "casual" {
		t.Errorf("preferences = %+v", p)
	}

	if _, err := s.GetCredential(ctx, "prof"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing credential err = %v", err)
	}
	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := s.SaveCredential(ctx, models.Credential{
		OwnerID: "prof", Provider: models.ProviderGraph, AccessToken: "at", RefreshToken: "rt", Expiry: expiry,
	}); err != nil {
		t.Fatal(err)
	}
	c, err := s.GetCredential(ctx, "prof")
	if err != nil {
		t.Fatal(err)
	}
	if c.AccessToken != "at" || c.RefreshToken != "rt" || !c.Expiry.Equal(expiry) {
		t.Errorf("credential = %+v", c)
	}

	owners, _ := s.ListCredentialOwners(ctx)
	if len(owners) != 1 || owners[0] != "prof" {
		t.Errorf("owners = %v", owners)
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ExternalID)
	}
	return out
}

func seedClassified(t *testing.T, s *store.SQLite, owner string) []*models.Message {
	t.Helper()
	ctx := context.Background()
	msgs := storetest.Seed(t, s, owner, 5, day)
	results := []models.ClassificationResult{
		{Category: models.CategoryComplaint, Priority: 9, Summary: "grade", RiskFlag: true},
		{Category: models.CategoryComplaint, Priority: 4, Summary: "grade"},
		{Category: models.CategoryAdministrative, Priority: 7, Summary: "extension"},
	}
	for i, c := range results {
		if err := s.SaveClassification(ctx, owner, msgs[i].ID, c); err != nil {
			t.Fatalf("classify %d: %v", i, err)
		}
	}
	return msgs
}

func TestListMessages_Filters(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	msgs := seedClassified(t, s, "prof")
	storetest.Seed(t, s, "other", 2, day)
	if err := s.MarkRead(ctx, "prof", msgs[2].ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter store.MessageFilter
		want   []string
		total  int
	}{
		{"all newest first", store.MessageFilter{Limit: 10}, []string{msgs[4].ExternalID, msgs[3].ExternalID, msgs[2].ExternalID, msgs[1].ExternalID, msgs[0].ExternalID}, 5},
		{"category", store.MessageFilter{Category: models.CategoryComplaint, Limit: 10}, []string{msgs[1].ExternalID, msgs[0].ExternalID}, 2},
		{"urgent", store.MessageFilter{MinPriority: models.HighPriorityThreshold, Limit: 10}, []string{msgs[2].ExternalID, msgs[0].ExternalID}, 2},
		{"unread urgent", store.MessageFilter{MinPriority: models.HighPriorityThreshold, UnreadOnly: true, Limit: 10}, []string{msgs[0].ExternalID}, 1},
		{"second page", store.MessageFilter{Limit: 2, Offset: 2}, []string{msgs[2].ExternalID, msgs[1].ExternalID}, 5},
		{"past the end", store.MessageFilter{Limit: 2, Offset: 10}, nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListMessages(ctx, "prof", tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if total != tt.total {
				t.Errorf("total = %d, want %d", total, tt.total)
			}
			if g := ids(got); !slices.Equal(g, tt.want) {
				t.Errorf("ids = %v, want %v", g, tt.want)
			}
		})
	}
}

func TestMarkRead(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	m := storetest.Seed(t, s, "prof", 1, day)[0]

	if err := s.MarkRead(ctx, "prof", m.ID); err != nil {
		t.Fatal(err)
	}
	// Marking twice is not an error.
	if err := s.MarkRead(ctx, "prof", m.ID); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	got, _ := s.GetMessage(ctx, "prof", m.ID)
	if !got.IsRead {
		t.Error("message not marked read")
	}

	if err := s.MarkRead(ctx, "other", m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-owner MarkRead = %v, want ErrNotFound", err)
	}
	if err := s.MarkRead(ctx, "prof", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkRead(missing) = %v, want ErrNotFound", err)
	}
}

func TestInboxCountsAndCategories(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	empty, err := s.InboxCounts(ctx, "prof")
	if err != nil {
		t.Fatal(err)
	}
	if *empty != (models.InboxStats{}) {
		t.Errorf("empty inbox counts = %+v", empty)
	}

	msgs := seedClassified(t, s, "prof")
	storetest.Seed(t, s, "other", 3, day)
	if err := s.MarkRead(ctx, "prof", msgs[1].ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.InboxCounts(ctx, "prof")
	if err != nil {
		t.Fatal(err)
	}
	want := models.InboxStats{Total: 5, Unread: 4, Processed: 3, Urgent: 2, Risk: 1}
	if *got != want {
		t.Errorf("InboxCounts = %+v, want %+v", *got, want)
	}

	cats, err := s.CategoryCounts(ctx, "prof")
	if err != nil {
		t.Fatal(err)
	}
	wantCats := []models.CategoryCount{
		{Category: models.CategoryComplaint, Count: 2},
		{Category: models.CategoryAdministrative, Count: 1},
	}
	if len(cats) != len(wantCats) {
		t.Fatalf("CategoryCounts = %+v, want %+v", cats, wantCats)
	}
	for i := range wantCats {
		if cats[i] != wantCats[i] {
			t.Errorf("CategoryCounts[%d] = %+v, want %+v", i, cats[i], wantCats[i])
		}
	}
}
