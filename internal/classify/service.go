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

// Package classify assigns a category, priority, tone and summary to
// messages through the generation gateway and writes the result back with
// processed = true.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/metrics"
	"github.com/inboxcopilot/pipeline/internal/models"
)

// Store is the persistence the service needs.
type Store interface {
	GetMessage(ctx context.Context, ownerID, id string) (*models.Message, error)
	GetPreferences(ctx context.Context, ownerID string) (*models.Preferences, error)
	ListConversation(ctx context.Context, ownerID, conversationID string, before time.Time, limit int) ([]models.Message, error)
	ListUnprocessed(ctx context.Context, ownerID string, limit int) ([]models.Message, error)
	SaveClassification(ctx context.Context, ownerID, id string, c models.ClassificationResult) error
}

// Config holds the service's dependencies.
type Config struct {
	Store   Store
	Gateway *gateway.Gateway
	// Concurrency bounds parallel classifications in a batch. Defaults to 4.
	Concurrency int
	// ThreadDepth is how many earlier conversation messages are given as
	// context. Defaults to 5.
	ThreadDepth int
}

// Service classifies messages.
type Service struct {
	store       Store
	gateway     *gateway.Gateway
	concurrency int
	threadDepth int
}

// NewService creates a classification service.
func NewService(cfg Config) *Service {
	s := &Service{
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		concurrency: cfg.Concurrency,
		threadDepth: cfg.ThreadDepth,
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.threadDepth <= 0 {
		s.threadDepth = 5
	}
	return s
}

// BatchReport summarises ClassifyBatch. Degraded results are counted as
// succeeded because the message is processed; Failed counts messages that
// could not be loaded or saved.
type BatchReport struct {
	Attempted int                           `json:"attempted"`
	Succeeded int                           `json:"succeeded"`
	Failed    int                           `json:"failed"`
	Degraded  int                           `json:"degraded"`
	Results   []models.ClassificationResult `json:"results"`
	Errors    map[string]string             `json:"errors,omitempty"`
}

// ClassifyOne classifies a single message and persists the result.
func (s *Service) ClassifyOne(ctx context.Context, ownerID, messageID string) (*models.ClassificationResult, error) {
	m, err := s.store.GetMessage(ctx, ownerID, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	prefs, err := s.store.GetPreferences(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return s.classify(ctx, m, prefs)
}

// ClassifyBatch classifies up to limit unprocessed messages, oldest first.
// Each message is handled independently: one failure never stops the rest.
func (s *Service) ClassifyBatch(ctx context.Context, ownerID string, limit int) (*BatchReport, error) {
	msgs, err := s.store.ListUnprocessed(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	prefs, err := s.store.GetPreferences(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	report := &BatchReport{Attempted: len(msgs)}
	if len(msgs) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	results := make(map[string]models.ClassificationResult, len(msgs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range msgs {
		m := &msgs[i]
		g.Go(func() error {
			res, err := s.classify(ctx, m, prefs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				if report.Errors == nil {
					report.Errors = make(map[string]string)
				}
				report.Errors[m.ID] = err.Error()
				return nil
			}
			report.Succeeded++
			if res.Degraded {
				report.Degraded++
			}
			results[m.ID] = *res
			return nil
		})
	}
	_ = g.Wait()

	// Keep the oldest-first order of the input.
	for _, m := range msgs {
		if r, ok := results[m.ID]; ok {
			report.Results = append(report.Results, r)
		}
	}

	slog.Info("classification batch complete",
		"owner", ownerID,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"degraded", report.Degraded,
		"failed", report.Failed,
	)
	return report, nil
}

func (s *Service) classify(ctx context.Context, m *models.Message, prefs *models.Preferences) (*models.ClassificationResult, error) {
	vars := categorizeVars{
		Sender:        m.Sender(),
		Subject:       m.Subject,
		Body:          m.Text(),
		ThreadContext: s.threadContext(ctx, m),
		Tones:         toneNames(),
	}
	if prefs != nil {
		vars.Preferences = strings.TrimSpace(prefs.CategorizationNotes)
	}

	resp, outcome := gateway.Invoke(ctx, s.gateway, categorizeTemplate, vars)

	res := models.ClassificationResult{
		MessageID:    m.ID,
		Category:     resp.Category,
		Priority:     resp.priority(),
		Tone:         resp.Tone,
		Summary:      strings.TrimSpace(resp.Summary),
		HiddenIntent: strings.TrimSpace(resp.HiddenIntent),
		RiskFlag:     riskFlag(resp),
		Degraded:     outcome.Degraded,
	}

	if err := s.store.SaveClassification(ctx, m.OwnerID, m.ID, res); err != nil {
		metrics.EnrichmentResults.WithLabelValues("classify", "failed").Inc()
		slog.Error("failed to save classification",
			"owner", m.OwnerID,
			"message_id", m.ID,
			"error", err,
		)
		return nil, fmt.Errorf("save classification %s: %w", m.ID, err)
	}

	status := "ok"
	if res.Degraded {
		status = "degraded"
	}
	metrics.EnrichmentResults.WithLabelValues("classify", status).Inc()
	return &res, nil
}

// threadContext renders earlier messages of the conversation oldest first.
// Lookup failures only cost context, so they are logged and ignored.
func (s *Service) threadContext(ctx context.Context, m *models.Message) string {
	if m.ConversationID == "" {
		return ""
	}
	earlier, err := s.store.ListConversation(ctx, m.OwnerID, m.ConversationID, m.ReceivedAt, s.threadDepth)
	if err != nil {
		slog.Warn("failed to load thread context", "message_id", m.ID, "error", err)
		return ""
	}
	slices.Reverse(earlier)
	return FormatThread(earlier)
}

// FormatThread renders messages one per line for prompting.
func FormatThread(msgs []models.Message) string {
	var sb strings.Builder
	for _, e := range msgs {
		text := e.Summary
		if text == "" {
			text = e.BodyPreview
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", e.Sender(), e.ReceivedAt.Format("2006-01-02 15:04"), text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var integrityMarkers = []string{"academic_integrity", "academic integrity", "plagiarism", "cheating"}

// riskFlag is set when the model says so or its hidden intent points at an
// academic integrity concern.
func riskFlag(r categorizeResponse) bool {
	if r.RiskFlag {
		return true
	}
	intent := strings.ToLower(r.HiddenIntent)
	for _, marker := range integrityMarkers {
		if strings.Contains(intent, marker) {
			return true
		}
	}
	return false
}
