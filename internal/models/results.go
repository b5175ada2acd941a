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

package models

import "time"

// ClassificationResult is the enrichment produced for one message.
// Degraded is set when the values came from the deterministic fallback.
type ClassificationResult struct {
	MessageID    string   `json:"message_id"`
	Category     Category `json:"category"`
	Priority     int      `json:"priority"`
	Tone         Tone     `json:"tone"`
	Summary      string   `json:"summary"`
	HiddenIntent string   `json:"hidden_intent,omitempty"`
	RiskFlag     bool     `json:"risk_flag"`
	Degraded     bool     `json:"degraded"`
}

// DraftResult is a generated reply draft.
type DraftResult struct {
	MessageID string `json:"message_id"`
	Draft     string `json:"draft"`
	Reasoning string `json:"reasoning,omitempty"`
	Degraded  bool   `json:"degraded"`
}

// ThreadSummary condenses the earlier messages in a conversation.
type ThreadSummary struct {
	ConversationID string   `json:"conversation_id"`
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points"`
	LatestQuestion string   `json:"latest_question,omitempty"`
	Degraded       bool     `json:"degraded"`
}

// DigestItem is one entry of a digest's high-priority list.
type DigestItem struct {
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Category   Category  `json:"category,omitempty"`
	Priority   int       `json:"priority"`
	ReceivedAt time.Time `json:"received_at"`
}

// DigestResult is the persisted day snapshot for one owner. Statistics are
// computed locally; only Overview, Themes and Recommendations are generated.
type DigestResult struct {
	OwnerID         string         `json:"owner_id"`
	Date            string         `json:"date"`
	Total           int            `json:"total"`
	CategoryCounts  map[string]int `json:"category_counts"`
	PriorityBands   map[string]int `json:"priority_bands"`
	HighPriority    []DigestItem   `json:"high_priority"`
	Overview        string         `json:"overview"`
	Themes          []string       `json:"themes"`
	Recommendations []string       `json:"recommendations"`
	Degraded        bool           `json:"degraded"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// SearchResult is one ranked message.
type SearchResult struct {
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Preview    string    `json:"preview"`
	Score      float64   `json:"score"`
	ReceivedAt time.Time `json:"received_at"`
}

// SearchResponse bundles the synthesized answer with the ranked list.
type SearchResponse struct {
	Query    string         `json:"query"`
	Answer   string         `json:"answer"`
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
}

// InboxStats summarizes an owner's mailbox over all time. Urgent counts
// messages at or above HighPriorityThreshold.
type InboxStats struct {
	Total          int     `json:"total"`
	Unread         int     `json:"unread"`
	Processed      int     `json:"processed"`
	Urgent         int     `json:"urgent"`
	Risk           int     `json:"risk"`
	ProcessingRate float64 `json:"processing_rate"`
}

// CategoryCount is the number of classified messages in one category.
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// MessagePage is one page of a filtered message listing.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
	Pages    int       `json:"pages"`
	Total    int       `json:"total"`
	HasNext  bool      `json:"has_next"`
	HasPrev  bool      `json:"has_prev"`
}
