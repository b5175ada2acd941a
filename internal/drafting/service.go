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

// Package drafting generates reply drafts and thread summaries.
package drafting

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/metrics"
	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
)

const noThreadContext = "No prior thread context."

// maxThread bounds how many messages of a conversation are summarized.
const maxThread = 20

// Store is the persistence the service needs.
type Store interface {
	GetMessage(ctx context.Context, ownerID, id string) (*models.Message, error)
	GetPreferences(ctx context.Context, ownerID string) (*models.Preferences, error)
	ListConversation(ctx context.Context, ownerID, conversationID string, before time.Time, limit int) ([]models.Message, error)
	SaveDraft(ctx context.Context, ownerID, id, draft string) error
}

// Service drafts replies.
type Service struct {
	store   Store
	gateway *gateway.Gateway
}

// NewService creates a drafting service.
func NewService(st Store, gw *gateway.Gateway) *Service {
	return &Service{store: st, gateway: gw}
}

// Draft generates a reply for the message and stores it as the message's
// draft. On generation failure the draft is a generic acknowledgement.
func (s *Service) Draft(ctx context.Context, ownerID, messageID string) (*models.DraftResult, error) {
	m, err := s.store.GetMessage(ctx, ownerID, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	p, err := s.store.GetPreferences(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	prefs := p.WithDefaults()

	category := string(m.Category)
	if category == "" {
		category = string(models.CategoryOther)
	}
	length, ok := lengthGuidance[prefs.ReplyLength]
	if !ok {
		length = lengthGuidance["medium"]
	}

	vars := replyVars{
		Sender:        m.Sender(),
		Subject:       m.Subject,
		Body:          m.Text(),
		Category:      category,
		ThreadSummary: s.threadSummary(ctx, m),
		Policies:      strings.TrimSpace(prefs.CoursePolicies),
		Tone:          prefs.Tone,
		Length:        length,
		Guidance:      categoryGuidance[category],
		Signature:     prefs.Signature,
	}

	resp, outcome := gateway.Invoke(ctx, s.gateway, replyTemplate, vars)
	draft := strings.TrimSpace(resp.Draft)
	if outcome.Degraded {
		draft += "\n\n" + prefs.Signature
	}

	if err := s.store.SaveDraft(ctx, ownerID, m.ID, draft); err != nil {
		metrics.EnrichmentResults.WithLabelValues("draft", "failed").Inc()
		return nil, fmt.Errorf("save draft %s: %w", m.ID, err)
	}

	status := "ok"
	if outcome.Degraded {
		status = "degraded"
	}
	metrics.EnrichmentResults.WithLabelValues("draft", status).Inc()
	slog.Info("draft generated", "owner", ownerID, "message_id", m.ID, "degraded", outcome.Degraded)

	return &models.DraftResult{
		MessageID: m.ID,
		Draft:     draft,
		Reasoning: resp.Reasoning,
		Degraded:  outcome.Degraded,
	}, nil
}

// threadSummary picks the best context for a reply: a summary of earlier
// messages in the conversation, else the message's own summary.
func (s *Service) threadSummary(ctx context.Context, m *models.Message) string {
	if m.ConversationID != "" {
		earlier, err := s.store.ListConversation(ctx, m.OwnerID, m.ConversationID, m.ReceivedAt, maxThread)
		if err != nil {
			slog.Warn("failed to load conversation", "message_id", m.ID, "error", err)
		} else if len(earlier) > 0 {
			slices.Reverse(earlier)
			sum, outcome := s.summarize(ctx, earlier)
			if !outcome.Degraded {
				return sum.Summary
			}
		}
	}
	if m.Summary != "" {
		return m.Summary
	}
	return noThreadContext
}

// SummarizeThread summarizes every stored message of a conversation.
func (s *Service) SummarizeThread(ctx context.Context, ownerID, conversationID string) (*models.ThreadSummary, error) {
	// A far-future bound includes every message.
	msgs, err := s.store.ListConversation(ctx, ownerID, conversationID, time.Now().AddDate(100, 0, 0), maxThread)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	slices.Reverse(msgs)

	resp, outcome := s.summarize(ctx, msgs)
	return &models.ThreadSummary{
		ConversationID: conversationID,
		Summary:        resp.Summary,
		KeyPoints:      resp.KeyPoints,
		LatestQuestion: resp.LatestQuestion,
		Degraded:       outcome.Degraded,
	}, nil
}

// summarize expects msgs oldest first.
func (s *Service) summarize(ctx context.Context, msgs []models.Message) (threadResponse, gateway.Outcome) {
	vars := threadVars{Messages: make([]threadMessage, 0, len(msgs))}
	for _, m := range msgs {
		vars.Messages = append(vars.Messages, threadMessage{
			Sender: m.Sender(),
			Date:   m.ReceivedAt.Format(time.RFC1123),
			Body:   m.Text(),
		})
	}
	return gateway.Invoke(ctx, s.gateway, threadSummaryTemplate, vars)
}
