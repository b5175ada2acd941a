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

package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/genai"
	"github.com/inboxcopilot/pipeline/internal/genai/genaitest"
	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
	"github.com/inboxcopilot/pipeline/internal/store/storetest"
)

const owner = "prof-1"

var day = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const validAnswer = `{"category":"administrative","priority_score":7,"tone":"concerned","summary":"Asks about a deadline."}`

func newService(t *testing.T, st Store, p genai.Provider) *Service {
	t.Helper()
	return NewService(Config{
		Store:       st,
		Gateway:     gateway.New(gateway.Config{Provider: p, Timeout: time.Second}),
		Concurrency: 3,
	})
}

func TestClassifyOne_PersistsResult(t *testing.T) {
	st := storetest.New(t)
	msgs := storetest.Seed(t, st, owner, 1, day)
	p := genaitest.New().Reply("categorize", validAnswer)

	res, err := newService(t, st, p).ClassifyOne(context.Background(), owner, msgs[0].ID)
	if err != nil {
		t.Fatalf("ClassifyOne: %v", err)
	}
	if res.Category != models.CategoryAdministrative || res.Priority != 7 || res.Tone != models.ToneConcerned {
		t.Errorf("result = %+v", res)
	}
	if res.Degraded {
		t.Error("result should not be degraded")
	}

	got, err := st.GetMessage(context.Background(), owner, msgs[0].ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !got.Processed || got.Category != models.CategoryAdministrative || got.Priority != 7 || got.Summary == "" {
		t.Errorf("stored message = %+v", got)
	}
}

func TestClassifyOne_FallbackIsPersisted(t *testing.T) {
	st := storetest.New(t)
	msgs := storetest.Seed(t, st, owner, 1, day)
	p := genaitest.New().Reply("categorize", `{"category":"homework","priority_score":3,"tone":"casual","summary":"x"}`)

	res, err := newService(t, st, p).ClassifyOne(context.Background(), owner, msgs[0].ID)
	if err != nil {
		t.Fatalf("ClassifyOne: %v", err)
	}
	if !res.Degraded || res.Category != models.CategoryOther || res.Priority != 5 || res.Tone != models.ToneProfessional {
		t.Errorf("fallback result = %+v", res)
	}
	if !strings.Contains(res.Summary, "homework") {
		t.Errorf("fallback summary should carry the cause, got %q", res.Summary)
	}

	got, _ := st.GetMessage(context.Background(), owner, msgs[0].ID)
	if !got.Processed {
		t.Error("fallback result should mark the message processed")
	}
}

func TestClassifyOne_NotFound(t *testing.T) {
	st := storetest.New(t)
	p := genaitest.New()

	_, err := newService(t, st, p).ClassifyOne(context.Background(), owner, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if len(p.Calls("")) != 0 {
		t.Error("no generation call expected for a missing message")
	}
}

func TestClassifyOne_PromptContext(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	first := storetest.Message(owner, "t-1", day)
	first.ConversationID = "conv-1"
	first.BodyPreview = "Can I get an extension on lab 3?"
	second := storetest.Message(owner, "t-2", day.Add(time.Hour))
	second.ConversationID = "conv-1"
	for _, m := range []*models.Message{first, second} {
		if _, err := st.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	p := genaitest.New().Reply("categorize", validAnswer)
	svc := newService(t, st, p)

	if _, err := svc.ClassifyOne(ctx, owner, first.ID); err != nil {
		t.Fatalf("ClassifyOne first: %v", err)
	}
	prompt := p.Calls("categorize")[0].Prompt
	if strings.Contains(prompt, "Earlier in this conversation") || strings.Contains(prompt, "Professor preferences") {
		t.Errorf("first prompt should have no optional sections:\n%s", prompt)
	}

	if err := st.UpsertPreferences(ctx, models.Preferences{OwnerID: owner, CategorizationNotes: "Lab questions are high priority."}); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}
	if _, err := svc.ClassifyOne(ctx, owner, second.ID); err != nil {
		t.Fatalf("ClassifyOne second: %v", err)
	}
	prompt = p.Calls("categorize")[1].Prompt
	if !strings.Contains(prompt, "Earlier in this conversation") {
		t.Errorf("second prompt should include thread context:\n%s", prompt)
	}
	// The first message was classified, so its summary replaces the preview.
	if !strings.Contains(prompt, "Asks about a deadline.") {
		t.Errorf("thread context should use the stored summary:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Lab questions are high priority.") {
		t.Errorf("second prompt should include preferences:\n%s", prompt)
	}
}

// failingSave fails SaveClassification for one message id.
type failingSave struct {
	*store.SQLite
	failID string
}

func (f *failingSave) SaveClassification(ctx context.Context, ownerID, id string, c models.ClassificationResult) error {
	if id == f.failID {
		return errors.New("disk full")
	}
	return f.SQLite.SaveClassification(ctx, ownerID, id, c)
}

func TestClassifyBatch_Isolation(t *testing.T) {
	sqlite := storetest.New(t)
	msgs := storetest.Seed(t, sqlite, owner, 6, day)
	st := &failingSave{SQLite: sqlite, failID: msgs[4].ID}

	p := genaitest.New().Handle("categorize", func(req genai.Request) (string, error) {
		if strings.Contains(req.Prompt, "Body of ext-2") {
			return "I cannot classify this", nil
		}
		return validAnswer, nil
	})

	report, err := newService(t, st, p).ClassifyBatch(context.Background(), owner, 10)
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if report.Attempted != 6 || report.Succeeded != 5 || report.Degraded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := report.Errors[msgs[4].ID]; !ok {
		t.Errorf("errors = %v, want entry for %s", report.Errors, msgs[4].ID)
	}
	if len(report.Results) != 5 || report.Results[0].MessageID != msgs[0].ID {
		t.Errorf("results should keep oldest-first order, got %d results", len(report.Results))
	}

	left, err := sqlite.ListUnprocessed(context.Background(), owner, 10)
	if err != nil {
		t.Fatalf("ListUnprocessed: %v", err)
	}
	if len(left) != 1 || left[0].ID != msgs[4].ID {
		t.Errorf("unprocessed after batch = %v, want only %s", left, msgs[4].ID)
	}
}

func TestClassifyBatch_RespectsLimit(t *testing.T) {
	st := storetest.New(t)
	msgs := storetest.Seed(t, st, owner, 4, day)
	p := genaitest.New().Reply("categorize", validAnswer)

	report, err := newService(t, st, p).ClassifyBatch(context.Background(), owner, 2)
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if report.Attempted != 2 {
		t.Fatalf("attempted = %d, want 2", report.Attempted)
	}
	if report.Results[0].MessageID != msgs[0].ID || report.Results[1].MessageID != msgs[1].ID {
		t.Error("batch should take the oldest messages first")
	}

	empty, err := newService(t, st, p).ClassifyBatch(context.Background(), "nobody", 5)
	if err != nil || empty.Attempted != 0 {
		t.Errorf("empty batch = %+v, %v", empty, err)
	}
}

func TestRiskFlag(t *testing.T) {
	tests := []struct {
		name string
		resp categorizeResponse
		want bool
	}{
		{"explicit", categorizeResponse{RiskFlag: true}, true},
		{"none", categorizeResponse{HiddenIntent: "wants more time"}, false},
		{"underscore", categorizeResponse{HiddenIntent: "possible ACADEMIC_INTEGRITY issue"}, true},
		{"plagiarism", categorizeResponse{HiddenIntent: "Asking whether copying a friend's code counts as plagiarism"}, true},
		{"cheating", categorizeResponse{HiddenIntent: "hints at cheating on the midterm"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := riskFlag(tt.resp); got != tt.want {
				t.Errorf("riskFlag = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyOne_RoundsFractionalPriority(t *testing.T) {
	tests := []struct {
		score string
		want  int
	}{
		{"6.6", 7},
		{"6.4", 6},
		{"1", 1},
		{"10.0", 10},
	}
	for _, tt := range tests {
		st := storetest.New(t)
		msgs := storetest.Seed(t, st, owner, 1, day)
		p := genaitest.New().Reply("categorize",
			`{"category":"administrative","priority_score":`+tt.score+`,"tone":"casual","summary":"Asks about room change."}`)

		res, err := newService(t, st, p).ClassifyOne(context.Background(), owner, msgs[0].ID)
		if err != nil {
			t.Fatalf("score %s: ClassifyOne: %v", tt.score, err)
		}
		if res.Degraded {
			t.Errorf("score %s: result degraded: %+v", tt.score, res)
		}
		if res.Priority != tt.want {
			t.Errorf("score %s: priority = %d, want %d", tt.score, res.Priority, tt.want)
		}
	}
}

func TestClassifyOne_PriorityOutOfRangeFallsBack(t *testing.T) {
	st := storetest.New(t)
	msgs := storetest.Seed(t, st, owner, 1, day)
	p := genaitest.New().Reply("categorize",
		`{"category":"administrative","priority_score":11,"tone":"casual","summary":"x"}`)

	res, err := newService(t, st, p).ClassifyOne(context.Background(), owner, msgs[0].ID)
	if err != nil {
		t.Fatalf("ClassifyOne: %v", err)
	}
	if !res.Degraded || res.Category != models.CategoryOther || res.Priority != 5 {
		t.Errorf("result = %+v, want fallback", res)
	}
}
