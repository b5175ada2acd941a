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

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
)

func newTestProvider(server *httptest.Server) *Provider {
	return NewProvider(Config{
		BaseURL: server.URL,
		Client: func(context.Context, *models.Credential) (*http.Client, error) {
			return server.Client(), nil
		},
	})
}

var cred = &models.Credential{OwnerID: "owner-1", Provider: models.ProviderGraph, AccessToken: "t"}

// TestFetchPage_DeltaPaging verifies that the first page comes from the
// delta endpoint, removals are skipped and links become cursors.
func TestFetchPage_DeltaPaging(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path != "/me/mailFolders/inbox/messages/delta" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch {
		case !r.URL.Query().Has("$skiptoken"):
			if !strings.Contains(r.URL.Query().Get("$select"), "conversationId") {
				t.Errorf("$select = %q", r.URL.Query().Get("$select"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{
						"id":               "AAA1",
						"subject":          "Extension request",
						"from":             map[string]any{"emailAddress": map[string]string{"name": "Sam", "address": "sam@uni.edu"}},
						"body":             map[string]string{"contentType": "html", "content": "<p>Can I have two more days?</p>"},
						"bodyPreview":      "Can I have two more days?",
						"receivedDateTime": "2026-03-02T09:15:00Z",
						"conversationId":   "conv-1",
					},
					{"id": "gone", "@removed": map[string]string{"reason": "deleted"}},
				},
				"@odata.nextLink": "http://" + r.Host + "/me/mailFolders/inbox/messages/delta?$skiptoken=2",
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"value":            []map[string]any{},
				"@odata.deltaLink": "http://" + r.Host + "/me/mailFolders/inbox/messages/delta?$deltatoken=final",
			})
		}
	}))
	defer server.Close()

	p := newTestProvider(server)

	page, err := p.FetchPage(context.Background(), cred, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if !page.HasMore || !strings.Contains(page.NextCursor, "skiptoken") {
		t.Errorf("page = %+v, want more with skiptoken cursor", page)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 (removal skipped)", len(page.Messages))
	}

	m := page.Messages[0]
	if m.ExternalID != "AAA1" || m.SenderAddress != "sam@uni.edu" || m.ConversationID != "conv-1" {
		t.Errorf("message = %+v", m)
	}
	if m.BodyPlain != "Can I have two more days?" {
		t.Errorf("BodyPlain = %q", m.BodyPlain)
	}
	if !m.ReceivedAt.Equal(time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)) {
		t.Errorf("ReceivedAt = %v", m.ReceivedAt)
	}

	last, err := p.FetchPage(context.Background(), cred, page.NextCursor)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if last.HasMore || !strings.Contains(last.NextCursor, "deltatoken=final") {
		t.Errorf("last page = %+v", last)
	}
}

func TestFetchPage_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, mailbox.ErrAuthExpired},
		{http.StatusGone, mailbox.ErrCursorExpired},
		{http.StatusServiceUnavailable, nil},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := newTestProvider(server).FetchPage(context.Background(), cred, "")
		server.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		if tt.want == nil && (errors.Is(err, mailbox.ErrAuthExpired) || errors.Is(err, mailbox.ErrCursorExpired)) {
			t.Errorf("status %d: unexpected sentinel %v", tt.status, err)
		}
	}
}

func TestFetchPage_ForeignCursorRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	_, err := newTestProvider(server).FetchPage(context.Background(), cred, "https://evil.example/delta")
	if !errors.Is(err, mailbox.ErrCursorExpired) {
		t.Errorf("err = %v, want ErrCursorExpired", err)
	}
}

func TestListSince(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("$filter"); got != "receivedDateTime ge 2026-03-01T00:00:00Z" {
			t.Errorf("$filter = %q", got)
		}
		if r.URL.Query().Get("$orderby") != "receivedDateTime desc" {
			t.Errorf("$orderby = %q", r.URL.Query().Get("$orderby"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "m1", "subject": "a", "body": map[string]string{"contentType": "text", "content": "plain body"}},
			},
		})
	}))
	defer server.Close()

	page, err := newTestProvider(server).ListSince(context.Background(), cred, since, "")
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if page.HasMore || len(page.Messages) != 1 || page.Messages[0].BodyPlain != "plain body" {
		t.Errorf("page = %+v", page)
	}
}
