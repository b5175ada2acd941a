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

// SyncCursor is the per-owner incremental sync state.
type SyncCursor struct {
	OwnerID        string     `json:"owner_id"`
	Token          string     `json:"token"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	ErrorCount     int        `json:"error_count"`
	LastError      string     `json:"last_error,omitempty"`
	InFlight       bool       `json:"in_flight"`
	InFlightSince  *time.Time `json:"in_flight_since,omitempty"`
	MessagesSynced int        `json:"messages_synced"`
}

// Provider kinds understood by the mailbox layer.
const (
	ProviderGraph = "graph"
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Credential is what the auth layer hands us for talking to an owner's
// mailbox. OAuth providers use the token fields, IMAP uses Host, Username
// and Password.
type Credential struct {
	OwnerID      string    `json:"owner_id"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Host         string    `json:"host,omitempty"`
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Preferences holds the owner's drafting and classification preferences.
type Preferences struct {
	OwnerID             string `json:"owner_id"`
	DisplayName         string `json:"display_name"`
	Tone                string `json:"tone"`
	ReplyLength         string `json:"reply_length"`
	CoursePolicies      string `json:"course_policies"`
	Signature           string `json:"signature"`
	CategorizationNotes string `json:"categorization_notes"`
}

// WithDefaults fills unset drafting preferences.
func (p Preferences) WithDefaults() Preferences {
	if p.Tone == "" {
		p.Tone = string(ToneProfessional)
	}
	if p.ReplyLength == "" {
		p.ReplyLength = "medium"
	}
	if p.Signature == "" {
		name := p.DisplayName
		if name == "" {
			name = p.OwnerID
		}
		p.Signature = "Best,\n" + name
	}
	return p
}

// EnrichmentJob is queued for every newly ingested message.
type EnrichmentJob struct {
	JobID      string    `json:"job_id"`
	OwnerID    string    `json:"owner_id"`
	MessageID  string    `json:"message_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Attempt counts deliveries; the first delivery is attempt 0.
	Attempt int `json:"attempt"`
}
