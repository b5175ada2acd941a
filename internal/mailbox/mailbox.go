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

// Package mailbox defines the contract shared by the mailbox providers
// (Graph, Gmail, IMAP) and the helpers they have in common: OAuth clients
// that write refreshed tokens back, and body/preview normalisation.
package mailbox

import (
	"context"
	"errors"

	"github.com/inboxcopilot/pipeline/internal/models"
)

var (
	// ErrAuthExpired means the credential was rejected and the owner must
	// reauthorize. Sync never retries it.
	ErrAuthExpired = errors.New("mailbox: authorization expired")
	// ErrCursorExpired means the provider no longer accepts the stored
	// continuation token and a full listing is required.
	ErrCursorExpired = errors.New("mailbox: sync cursor expired")
)

// Page is one batch of messages. NextCursor resumes after this page; when
// HasMore is false it is the token for the next incremental sync.
type Page struct {
	Messages   []models.Message
	NextCursor string
	HasMore    bool
}

// Provider lists an owner's inbox a page at a time. An empty cursor means
// full-list mode. Returned messages carry ExternalID, headers and bodies;
// OwnerID and ID are assigned by the caller.
type Provider interface {
	Name() string
	FetchPage(ctx context.Context, cred *models.Credential, cursor string) (*Page, error)
}
