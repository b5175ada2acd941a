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

// Package graph lists an owner's inbox through the Microsoft Graph delta
// query (/me/mailFolders/inbox/messages/delta). The continuation token is
// the nextLink or deltaLink Graph returns.
package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
)

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Fields requested for every message.
const selectFields = "id,subject,from,body,bodyPreview,receivedDateTime,conversationId,isRead"

// ClientFunc builds the authorized HTTP client for a credential.
type ClientFunc func(ctx context.Context, cred *models.Credential) (*http.Client, error)

// Provider implements mailbox.Provider for Microsoft 365 mailboxes.
type Provider struct {
	baseURL  string
	pageSize int
	client   ClientFunc
}

// Config holds the Graph provider settings.
type Config struct {
	BaseURL  string
	PageSize int
	// OAuth and Saver build the default ClientFunc.
	OAuth mailbox.OAuthConfig
	Saver mailbox.CredentialSaver
	// Timeout bounds each HTTP request made by the default client.
	Timeout time.Duration
	// Client overrides the default client construction.
	Client ClientFunc
}

// NewProvider creates a Graph mailbox provider.
func NewProvider(cfg Config) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	client := cfg.Client
	if client == nil {
		client = func(ctx context.Context, cred *models.Credential) (*http.Client, error) {
			c, err := mailbox.HTTPClient(ctx, cfg.OAuth, cred, cfg.Saver)
			if err != nil {
				return nil, err
			}
			c.Timeout = cfg.Timeout
			return c, nil
		}
	}
	return &Provider{
		baseURL:  strings.TrimRight(base, "/"),
		pageSize: pageSize,
		client:   client,
	}
}

func (p *Provider) Name() string { return models.ProviderGraph }

// FetchPage returns one page of the inbox delta. An empty cursor starts a
// full listing.
func (p *Provider) FetchPage(ctx context.Context, cred *models.Credential, cursor string) (*mailbox.Page, error) {
	pageURL := cursor
	if pageURL == "" {
		params := url.Values{}
		params.Set("$select", selectFields)
		pageURL = fmt.Sprintf("%s/me/mailFolders/inbox/messages/delta?%s", p.baseURL, params.Encode())
	} else if !strings.HasPrefix(pageURL, p.baseURL+"/") {
		// Tokens are absolute URLs; one minted for another endpoint is unusable.
		return nil, fmt.Errorf("cursor for a different endpoint: %w", mailbox.ErrCursorExpired)
	}

	resp, err := p.get(ctx, cred, pageURL)
	if err != nil {
		return nil, err
	}

	page := &mailbox.Page{}
	for _, gm := range resp.Value {
		if gm.Removed != nil {
			continue // deletions
		}
		page.Messages = append(page.Messages, gm.toMessage())
	}

	switch {
	case resp.NextLink != "":
		page.NextCursor = resp.NextLink
		page.HasMore = true
	case resp.DeltaLink != "":
		page.NextCursor = resp.DeltaLink
	default:
		return nil, fmt.Errorf("delta page carried neither nextLink nor deltaLink")
	}
	return page, nil
}

// ListSince returns one page of inbox messages received at or after since,
// newest first. An empty pageURL starts the listing.
func (p *Provider) ListSince(ctx context.Context, cred *models.Credential, since time.Time, pageURL string) (*mailbox.Page, error) {
	if pageURL == "" {
		params := url.Values{}
		params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
		params.Set("$select", selectFields)
		params.Set("$orderby", "receivedDateTime desc")
		params.Set("$top", fmt.Sprint(p.pageSize))
		pageURL = fmt.Sprintf("%s/me/mailFolders/inbox/messages?%s", p.baseURL, params.Encode())
	}

	resp, err := p.get(ctx, cred, pageURL)
	if err != nil {
		return nil, err
	}

	page := &mailbox.Page{NextCursor: resp.NextLink, HasMore: resp.NextLink != ""}
	for _, gm := range resp.Value {
		page.Messages = append(page.Messages, gm.toMessage())
	}
	return page, nil
}

// get fetches and decodes one collection page, mapping provider statuses
// onto the mailbox error contract.
func (p *Provider) get(ctx context.Context, cred *models.Credential, pageURL string) (*collectionResponse, error) {
	client, err := p.client(ctx, cred)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf(`odata.maxpagesize=%d, outlook.body-content-type="html"`, p.pageSize))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch graph page: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("graph returned HTTP 401: %w", mailbox.ErrAuthExpired)
	case http.StatusGone:
		return nil, fmt.Errorf("graph returned HTTP 410: %w", mailbox.ErrCursorExpired)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("graph query error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("graph query returned HTTP %d", resp.StatusCode)
	}

	return decodeCollection(resp.Body)
}
