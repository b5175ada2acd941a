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

// Package models defines the data structures shared across the pipeline.
package models

import "time"

// Category is the semantic bucket a message is classified into.
type Category string

const (
	CategoryAcademicQuestion   Category = "academic_question"
	CategoryAdministrative     Category = "administrative"
	CategoryTechnicalIssue     Category = "technical_issue"
	CategoryPersonalMatter     Category = "personal_matter"
	CategoryAppointmentRequest Category = "appointment_request"
	CategoryClarification      Category = "clarification"
	CategoryComplaint          Category = "complaint"
	CategoryOther              Category = "other"
)

// Categories lists every valid category in prompt order.
var Categories = []Category{
	CategoryAcademicQuestion,
	CategoryAdministrative,
	CategoryTechnicalIssue,
	CategoryPersonalMatter,
	CategoryAppointmentRequest,
	CategoryClarification,
	CategoryComplaint,
	CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Tone describes the register of the sender.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneConcerned    Tone = "concerned"
	ToneFrustrated   Tone = "frustrated"
	ToneUrgent       Tone = "urgent"
	ToneConfused     Tone = "confused"
)

// Tones lists every valid tone.
var Tones = []Tone{ToneProfessional, ToneCasual, ToneConcerned, ToneFrustrated, ToneUrgent, ToneConfused}

func (t Tone) Valid() bool {
	for _, known := range Tones {
		if t == known {
			return true
		}
	}
	return false
}

// PriorityBand groups the 1-10 priority scale.
type PriorityBand string

const (
	BandLow      PriorityBand = "low"      // 1-3
	BandMedium   PriorityBand = "medium"   // 4-6
	BandHigh     PriorityBand = "high"     // 7-8
	BandCritical PriorityBand = "critical" // 9-10
	BandUnscored PriorityBand = "unscored"
)

const (
	MinPriority = 1
	MaxPriority = 10

	// HighPriorityThreshold is the lowest priority reported as high priority
	// in digests.
	HighPriorityThreshold = 7
)

// BandFor maps a priority score onto its band. Out-of-range scores are
// reported as unscored.
func BandFor(priority int) PriorityBand {
	switch {
	case priority >= 1 && priority <= 3:
		return BandLow
	case priority >= 4 && priority <= 6:
		return BandMedium
	case priority >= 7 && priority <= 8:
		return BandHigh
	case priority >= 9 && priority <= 10:
		return BandCritical
	default:
		return BandUnscored
	}
}

// Message is a single mailbox message owned by one account. The pair
// (OwnerID, ExternalID) is unique and acts as the ingest dedup key.
//
// Enrichment fields use their zero value for "not yet known". Processed
// implies Category, Priority and Summary are set.
type Message struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	ExternalID     string    `json:"external_id"`
	Subject        string    `json:"subject"`
	SenderName     string    `json:"sender_name"`
	SenderAddress  string    `json:"sender_address"`
	BodyPlain      string    `json:"body_plain,omitempty"`
	BodyHTML       string    `json:"body_html,omitempty"`
	BodyPreview    string    `json:"body_preview"`
	ReceivedAt     time.Time `json:"received_at"`
	ConversationID string    `json:"conversation_id,omitempty"`
	IsRead         bool      `json:"is_read"`

	Category     Category `json:"category,omitempty"`
	Priority     int      `json:"priority,omitempty"`
	Tone         Tone     `json:"tone,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	HiddenIntent string   `json:"hidden_intent,omitempty"`
	RiskFlag     bool     `json:"risk_flag"`
	DraftReply   string   `json:"draft_reply,omitempty"`
	Processed    bool     `json:"processed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sender returns the display name, falling back to the address.
func (m *Message) Sender() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderAddress
}

// Text returns the best plain-text body available for prompting.
func (m *Message) Text() string {
	switch {
	case m.BodyPlain != "":
		return m.BodyPlain
	case m.BodyPreview != "":
		return m.BodyPreview
	default:
		return m.BodyHTML
	}
}
