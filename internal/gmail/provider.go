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

// Package gmail lists an owner's inbox through the Gmail API. A full
// listing pages through users.messages.list; once complete, incremental
// syncs follow users.history.list from the recorded history id.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
)

const user = "me"

// Config holds the Gmail provider settings.
type Config struct {
	OAuth    mailbox.OAuthConfig
	Saver    mailbox.CredentialSaver
	PageSize int
	Timeout  time.Duration
	// Endpoint overrides the API base URL.
	Endpoint string
	// Client overrides the authorized HTTP client construction.
	Client func(ctx context.Context, cred *models.Credential) (*http.Client, error)
}

// Provider implements mailbox.Provider for Gmail.
type Provider struct {
	cfg Config
}

// NewProvider creates a Gmail provider. Empty OAuth endpoints default to
// Google's.
func NewProvider(cfg Config) *Provider {
	if cfg.OAuth.TokenURL == "" {
		cfg.OAuth.AuthURL = google.Endpoint.AuthURL
		cfg.OAuth.TokenURL = google.Endpoint.TokenURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return models.ProviderGmail }

func (p *Provider) service(ctx context.Context, cred *models.Credential) (*gmailapi.Service, error) {
	var (
		client *http.Client
		err    error
	)
	if p.cfg.Client != nil {
		client, err = p.cfg.Client(ctx, cred)
	} else {
		client, err = mailbox.HTTPClient(ctx, p.cfg.OAuth, cred, p.cfg.Saver)
		if client != nil {
			client.Timeout = p.cfg.Timeout
		}
	}
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.cfg.Endpoint))
	}
	srv, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return srv, nil
}

// FetchPage returns one page of the inbox. See parseCursor for the token
// format.
func (p *Provider) FetchPage(ctx context.Context, cred *models.Credential, cursor string) (*mailbox.Page, error) {
	c, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	srv, err := p.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	if c.mode == modeHistory {
		return p.historyPage(ctx, srv, c)
	}
	return p.listPage(ctx, srv, c)
}

// listPage pages through the inbox. The first page records the mailbox's
// current history id so the next sync can continue from it.
func (p *Provider) listPage(ctx context.Context, srv *gmailapi.Service, c cursor) (*mailbox.Page, error) {
	if c.historyID == 0 {
		profile, err := srv.Users.GetProfile(user).Context(ctx).Do()
		if err != nil {
			return nil, mapError("get profile", err)
		}
		c.historyID = profile.HistoryId
	}

	call := srv.Users.Messages.List(user).LabelIds("INBOX").MaxResults(int64(p.cfg.PageSize)).Context(ctx)
	if c.pageToken != "" {
		call = call.PageToken(c.pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, mapError("list messages", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	msgs, err := p.getMessages(ctx, srv, ids)
	if err != nil {
		return nil, err
	}

	page := &mailbox.Page{Messages: msgs}
	if resp.NextPageToken != "" {
		page.HasMore = true
		page.NextCursor = cursor{mode: modeList, historyID: c.historyID, pageToken: resp.NextPageToken}.String()
	} else {
		page.NextCursor = cursor{mode: modeHistory, historyID: c.historyID}.String()
	}
	return page, nil
}

// historyPage returns messages added to the inbox since the cursor's
// history id.
func (p *Provider) historyPage(ctx context.Context, srv *gmailapi.Service, c cursor) (*mailbox.Page, error) {
	call := srv.Users.History.List(user).
		StartHistoryId(c.historyID).
		HistoryTypes("messageAdded").
		LabelId("INBOX").
		MaxResults(int64(p.cfg.PageSize)).
		Context(ctx)
	if c.pageToken != "" {
		call = call.PageToken(c.pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("history id %d no longer available: %w", c.historyID, mailbox.ErrCursorExpired)
		}
		return nil, mapError("list history", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message == nil || seen[added.Message.Id] {
				continue
			}
			seen[added.Message.Id] = true
			ids = append(ids, added.Message.Id)
		}
	}
	msgs, err := p.getMessages(ctx, srv, ids)
	if err != nil {
		return nil, err
	}

	page := &mailbox.Page{Messages: msgs}
	if resp.NextPageToken != "" {
		page.HasMore = true
		page.NextCursor = cursor{mode: modeHistory, historyID: c.historyID, pageToken: resp.NextPageToken}.String()
	} else {
		next := resp.HistoryId
		if next == 0 {
			next = c.historyID
		}
		page.NextCursor = cursor{mode: modeHistory, historyID: next}.String()
	}
	return page, nil
}

// getMessages fetches full messages concurrently, preserving order.
// Messages deleted between listing and fetching are dropped.
func (p *Provider) getMessages(ctx context.Context, srv *gmailapi.Service, ids []string) ([]models.Message, error) {
	fetched := make([]*models.Message, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := srv.Users.Messages.Get(user, id).Format("full").Context(gctx).Do()
			if err != nil {
				var gerr *googleapi.Error
				if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
					return nil
				}
				return mapError("get message "+id, err)
			}
			m := convertMessage(msg)
			fetched[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.Message, 0, len(ids))
	for _, m := range fetched {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// mapError maps API errors onto the mailbox error contract.
func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, mailbox.ErrAuthExpired)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type cursorMode int

const (
	modeList cursorMode = iota
	modeHistory
)

// cursor is the decoded continuation token:
//
//	""                         full listing, first page
//	page:<historyId>:<token>   full listing, later page
//	history:<historyId>        incremental from historyId
//	history:<historyId>:<tok>  incremental, later page
type cursor struct {
	mode      cursorMode
	historyID uint64
	pageToken string
}

func (c cursor) String() string {
	prefix := "page"
	if c.mode == modeHistory {
		prefix = "history"
	}
	s := prefix + ":" + strconv.FormatUint(c.historyID, 10)
	if c.pageToken != "" {
		s += ":" + c.pageToken
	}
	return s
}

func parseCursor(s string) (cursor, error) {
	if s == "" {
		return cursor{mode: modeList}, nil
	}

	parts := strings.SplitN(s, ":", 3)
	var c cursor
	switch parts[0] {
	case "page":
		c.mode = modeList
	case "history":
		c.mode = modeHistory
	default:
		return c, fmt.Errorf("unrecognised gmail cursor %q: %w", s, mailbox.ErrCursorExpired)
	}
	if len(parts) < 2 {
		return c, fmt.Errorf("gmail cursor %q has no history id: %w", s, mailbox.ErrCursorExpired)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return c, fmt.Errorf("gmail cursor %q: %w", s, mailbox.ErrCursorExpired)
	}
	c.historyID = id
	if len(parts) == 3 {
		c.pageToken = parts[2]
	}
	if c.mode == modeList && c.pageToken == "" {
		return c, fmt.Errorf("gmail list cursor %q has no page token: %w", s, mailbox.ErrCursorExpired)
	}
	return c, nil
}
