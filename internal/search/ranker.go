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

// Package search ranks an owner's messages against a free-text query in two
// stages: a lexical prefilter over the store, then relevance scores from
// the generation gateway. A synthesized answer is generated over the
// ranked list.
package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/models"
)

// Lexical field weights. Every candidate starts at baseScore.
const (
	baseScore     = 0.3
	subjectWeight = 0.3
	previewWeight = 0.2
	summaryWeight = 0.2
	senderWeight  = 0.1
)

const emptyQueryAnswer = "Enter a search query to look through your messages."

// Store is the persistence the ranker needs.
type Store interface {
	SearchMessages(ctx context.Context, ownerID string, terms []string, limit int) ([]models.Message, error)
}

// Config holds the ranker's dependencies and limits.
type Config struct {
	Store   Store
	Gateway *gateway.Gateway
	// CandidateCap bounds how many prefiltered messages are scored.
	// Defaults to 25.
	CandidateCap int
	// Threshold drops results scored below it. Defaults to 0.25.
	Threshold float64
	// ScanLimit bounds the store query. Defaults to 200.
	ScanLimit int
}

// Ranker runs searches.
type Ranker struct {
	store     Store
	gateway   *gateway.Gateway
	cap       int
	threshold float64
	scanLimit int
}

// NewRanker creates a ranker.
func NewRanker(cfg Config) *Ranker {
	r := &Ranker{
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		cap:       cfg.CandidateCap,
		threshold: cfg.Threshold,
		scanLimit: cfg.ScanLimit,
	}
	if r.cap <= 0 {
		r.cap = 25
	}
	if r.threshold <= 0 {
		r.threshold = 0.25
	}
	if r.scanLimit <= 0 {
		r.scanLimit = 200
	}
	return r
}

type candidate struct {
	id    string
	msg   models.Message
	score float64
}

// Search ranks the owner's messages against query.
func (r *Ranker) Search(ctx context.Context, ownerID, query string) (*models.SearchResponse, error) {
	query = strings.TrimSpace(query)
	resp := &models.SearchResponse{Query: query, Results: []models.SearchResult{}}
	if query == "" {
		resp.Answer = emptyQueryAnswer
		return resp, nil
	}

	terms := Terms(query)
	msgs, err := r.store.SearchMessages(ctx, ownerID, terms, r.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	cands := r.prefilter(msgs, terms)
	if len(cands) == 0 {
		resp.Answer = noMatchAnswer(query)
		return resp, nil
	}

	scoresDegraded := r.score(ctx, query, cands)

	ranked := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.score >= r.threshold {
			ranked = append(ranked, c)
		}
	}
	slices.SortStableFunc(ranked, byScoreThenRecent)

	for _, c := range ranked {
		resp.Results = append(resp.Results, models.SearchResult{
			MessageID:  c.msg.ID,
			Subject:    c.msg.Subject,
			Sender:     c.msg.Sender(),
			Preview:    c.msg.BodyPreview,
			Score:      c.score,
			ReceivedAt: c.msg.ReceivedAt,
		})
	}

	if len(ranked) == 0 {
		resp.Answer = noMatchAnswer(query)
		if scoresDegraded {
			resp.Answer = rankingUnavailableAnswer
			resp.Degraded = true
		}
		return resp, nil
	}

	answer, outcome := gateway.Invoke(ctx, r.gateway, answerTemplate, answerVarsFor(query, ranked))
	resp.Answer = answer.Answer
	resp.Degraded = scoresDegraded || outcome.Degraded

	slog.Info("search complete",
		"owner", ownerID,
		"candidates", len(cands),
		"results", len(resp.Results),
		"degraded", resp.Degraded,
	)
	return resp, nil
}

// Terms returns the lower-cased query followed by its distinct words, so a
// multi-word query also matches messages containing only some words.
func Terms(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	terms := []string{q}
	for _, w := range strings.Fields(q) {
		if len(w) < 2 || slices.Contains(terms, w) {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// prefilter scores msgs lexically and keeps the top r.cap.
func (r *Ranker) prefilter(msgs []models.Message, terms []string) []candidate {
	cands := make([]candidate, 0, len(msgs))
	for _, m := range msgs {
		cands = append(cands, candidate{msg: m, score: lexicalScore(m, terms)})
	}
	slices.SortStableFunc(cands, byScoreThenRecent)
	if len(cands) > r.cap {
		cands = cands[:r.cap]
	}
	for i := range cands {
		cands[i].id = fmt.Sprintf("c%d", i+1)
	}
	return cands
}

// lexicalScore gives each field its full weight when it contains the whole
// query and a share of it proportional to the words it contains otherwise.
// The result is in [0, 1].
func lexicalScore(m models.Message, terms []string) float64 {
	phrase, words := terms[0], terms[1:]
	field := func(text string, weight float64) float64 {
		text = strings.ToLower(text)
		if strings.Contains(text, phrase) {
			return weight
		}
		if len(words) == 0 {
			return 0
		}
		hit := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				hit++
			}
		}
		return weight * float64(hit) / float64(len(words))
	}
	s := baseScore +
		field(m.Subject, subjectWeight) +
		field(m.BodyPreview, previewWeight) +
		field(m.Summary, summaryWeight) +
		field(m.SenderName+" "+m.SenderAddress, senderWeight)
	return clamp(s)
}

// score replaces lexical scores with generated ones and reports whether
// scoring fell back. Ids the model omits score 0, and a fallback scores
// every candidate 0.
func (r *Ranker) score(ctx context.Context, query string, cands []candidate) bool {
	vars := scoreVars{Query: query, Candidates: make([]candidateVar, len(cands))}
	for i, c := range cands {
		text := c.msg.Summary
		if text == "" {
			text = c.msg.BodyPreview
		}
		vars.Candidates[i] = candidateVar{ID: c.id, Sender: c.msg.Sender(), Subject: c.msg.Subject, Text: text}
	}

	resp, outcome := gateway.Invoke(ctx, r.gateway, scoreTemplate, vars)
	byID := make(map[string]float64, len(resp.Scores))
	for _, s := range resp.Scores {
		byID[strings.TrimSpace(s.ID)] = clamp(s.Score)
	}
	for i := range cands {
		cands[i].score = byID[cands[i].id]
	}
	return outcome.Degraded
}

func answerVarsFor(query string, ranked []candidate) answerVars {
	v := answerVars{Query: query, Contexts: make([]answerContext, len(ranked))}
	for i, c := range ranked {
		text := c.msg.Text()
		if c.msg.Summary != "" {
			text = c.msg.Summary + "\n" + text
		}
		v.Contexts[i] = answerContext{
			Sender:  c.msg.Sender(),
			Date:    c.msg.ReceivedAt.Format(time.DateOnly),
			Subject: c.msg.Subject,
			Text:    text,
		}
	}
	return v
}

func byScoreThenRecent(a, b candidate) int {
	if c := cmp.Compare(b.score, a.score); c != 0 {
		return c
	}
	return b.msg.ReceivedAt.Compare(a.msg.ReceivedAt)
}

func clamp(s float64) float64 {
	return max(0, min(1, s))
}
