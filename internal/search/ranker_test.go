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

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
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

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var candidateLine = regexp.MustCompile(`\[(c\d+)\] From .*? \| Subject: (.*)`)

// scoreBySubject answers the score template with the score listed for each
// candidate's subject. Subjects not in the map are left out of the reply.
func scoreBySubject(scores map[string]float64) genaitest.Handler {
	return func(req genai.Request) (string, error) {
		var out scoreResponse
		for _, m := range candidateLine.FindAllStringSubmatch(req.Prompt, -1) {
			if s, ok := scores[strings.TrimSpace(m[2])]; ok {
				out.Scores = append(out.Scores, scoredID{ID: m[1], Score: s})
			}
		}
		b, err := json.Marshal(out)
		return string(b), err
	}
}

func seedSubjects(t *testing.T, st *store.SQLite, subjects ...string) map[string]*models.Message {
	t.Helper()
	out := make(map[string]*models.Message, len(subjects))
	for i, subj := range subjects {
		m := storetest.Message(owner, fmt.Sprintf("m-%d", i), start.Add(time.Duration(i)*time.Minute))
		m.Subject = subj
		if _, err := st.InsertMessage(context.Background(), m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		out[subj] = m
	}
	return out
}

func newRanker(st Store, p genai.Provider) *Ranker {
	return NewRanker(Config{
		Store:   st,
		Gateway: gateway.New(gateway.Config{Provider: p, Timeout: time.Second}),
	})
}

func subjects(results []models.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Subject
	}
	return out
}

func TestSearch_OrderingAndThreshold(t *testing.T) {
	st := storetest.New(t)
	// Later entries are received later.
	seedSubjects(t, st,
		"Extension B", "Extension A", "Extension C", "Extension D",
		"Extension E", "Extension F", "Extension G", "Unrelated",
	)
	p := genaitest.New().
		Handle("score", scoreBySubject(map[string]float64{
			"Extension A": 0.9,
			"Extension B": 0.5,
			"Extension C": 0.1,
			"Extension E": 1.7,
			"Extension F": -0.2,
			"Extension G": 0.5,
		})).
		Reply("answer", `{"answer":"Several students asked for extensions.","sources":["1","2"]}`)

	resp, err := newRanker(st, p).Search(context.Background(), owner, "extension")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	got := strings.Join(subjects(resp.Results), ",")
	want := "Extension E,Extension A,Extension G,Extension B"
	if got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
	for _, r := range resp.Results {
		if r.Score < 0.25 || r.Score > 1 {
			t.Errorf("%s score %v outside [0.25, 1]", r.Subject, r.Score)
		}
	}
	if resp.Results[0].Score != 1 {
		t.Errorf("score above 1 should clamp, got %v", resp.Results[0].Score)
	}
	if resp.Answer != "Several students asked for extensions." || resp.Degraded {
		t.Errorf("answer = %q degraded = %v", resp.Answer, resp.Degraded)
	}

	answerPrompt := p.Calls("answer")[0].Prompt
	if strings.Index(answerPrompt, "Extension E") > strings.Index(answerPrompt, "Extension B") {
		t.Error("answer contexts should follow the ranked order")
	}
	if strings.Contains(p.Calls("score")[0].Prompt, "Unrelated") {
		t.Error("non-matching messages should not be scored")
	}
}

func TestSearch_CandidateCap(t *testing.T) {
	st := storetest.New(t)
	var subs []string
	for i := 0; i < 30; i++ {
		subs = append(subs, fmt.Sprintf("Lab report %02d", i))
	}
	seedSubjects(t, st, subs...)
	p := genaitest.New().
		Reply("score", `{"scores":[]}`).
		Reply("answer", `{"answer":"x"}`)

	resp, err := newRanker(st, p).Search(context.Background(), owner, "lab report")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	prompt := p.Calls("score")[0].Prompt
	if !strings.Contains(prompt, "[c25]") || strings.Contains(prompt, "[c26]") {
		t.Error("score prompt should list exactly 25 candidates")
	}
	// The newest messages win ties in the prefilter.
	if !strings.Contains(prompt, "Lab report 29") || strings.Contains(prompt, "Lab report 04") {
		t.Error("prefilter should keep the most recent messages on equal scores")
	}
	if len(resp.Results) != 0 {
		t.Errorf("missing scores count as 0, got %d results", len(resp.Results))
	}
	if len(p.Calls("answer")) != 0 {
		t.Error("no synthesis expected when nothing passes the threshold")
	}
}

func TestSearch_EmptyQueryAndNoMatches(t *testing.T) {
	st := storetest.New(t)
	seedSubjects(t, st, "Midterm grades")
	p := genaitest.New()
	r := newRanker(st, p)

	resp, err := r.Search(context.Background(), owner, "   ")
	if err != nil {
		t.Fatalf("Search empty: %v", err)
	}
	if resp.Answer != emptyQueryAnswer || len(resp.Results) != 0 {
		t.Errorf("empty query response = %+v", resp)
	}

	resp, err = r.Search(context.Background(), owner, "parking permit")
	if err != nil {
		t.Fatalf("Search no match: %v", err)
	}
	if !strings.HasPrefix(resp.Answer, "No messages matched") || resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("no match response = %+v", resp)
	}
	if n := len(p.Calls("")); n != 0 {
		t.Errorf("gateway calls = %d, want 0", n)
	}
}

func TestSearch_ScoringFallbackReturnsNoResults(t *testing.T) {
	st := storetest.New(t)
	seedSubjects(t, st, "Office hours", "Question about office hours", "Hours")
	p := genaitest.New().
		Reply("score", "not json").
		Reply("answer", `{"answer":"Office hours are on Tuesday."}`)

	resp, err := newRanker(st, p).Search(context.Background(), owner, "office hours")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.Degraded {
		t.Error("response should be degraded")
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %v, want none", subjects(resp.Results))
	}
	if resp.Answer != rankingUnavailableAnswer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if n := len(p.Calls("answer")); n != 0 {
		t.Errorf("answer calls = %d, want 0", n)
	}
}

func TestSearch_SynthesisFallback(t *testing.T) {
	st := storetest.New(t)
	seedSubjects(t, st, "Regrade request")
	p := genaitest.New().
		Handle("score", scoreBySubject(map[string]float64{"Regrade request": 0.8})).
		Fail("answer", errors.New("quota exhausted"))

	resp, err := newRanker(st, p).Search(context.Background(), owner, "regrade")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Answer != unavailableAnswer || !resp.Degraded {
		t.Errorf("answer = %q degraded = %v", resp.Answer, resp.Degraded)
	}
	if len(resp.Results) != 1 || resp.Results[0].Score != 0.8 {
		t.Errorf("ranked list should survive, got %+v", resp.Results)
	}
}

func TestTerms(t *testing.T) {
	got := Terms("  Late  Homework late ")
	want := []string{"late  homework late", "late", "homework"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Terms = %q, want %q", got, want)
	}
	if Terms("") != nil {
		t.Error("empty query should have no terms")
	}
}

func TestLexicalScore(t *testing.T) {
	m := models.Message{Subject: "Late homework", BodyPreview: "my homework is late", SenderName: "Ann"}
	terms := Terms("late homework")

	// base 0.3 + subject 0.3 + preview 0.2 (both words)
	if got := lexicalScore(m, terms); got < 0.799 || got > 0.801 {
		t.Errorf("score = %v, want 0.8", got)
	}

	m = models.Message{Subject: "homework", SenderName: "Ann"}
	// base 0.3 + half of subject 0.15
	if got := lexicalScore(m, terms); got < 0.449 || got > 0.451 {
		t.Errorf("partial score = %v, want 0.45", got)
	}
}
