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

package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/inboxcopilot/pipeline/internal/graph"
	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/store"
	"github.com/inboxcopilot/pipeline/internal/store/storetest"
)

// --- Mock notifier ---

type mockNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockNotifier) NotifyNew(_ context.Context, _, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, messageID)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

// --- Test helpers ---

// graphMessage creates a minimal Graph API message body.
func graphMessage(id string) map[string]any {
	return map[string]any{
		"id":      id,
		"subject": "Test Subject " + id,
		"from": map[string]any{
			"emailAddress": map[string]any{
				"address": "student@uni.edu",
				"name":    "Student",
			},
		},
		"body":             map[string]any{"contentType": "text", "content": "Body " + id},
		"receivedDateTime": "2026-02-20T10:00:00Z",
	}
}

func newGraph(server *httptest.Server) *graph.Provider {
	return graph.NewProvider(graph.Config{
		BaseURL: server.URL,
		Client: func(context.Context, *models.Credential) (*http.Client, error) {
			return server.Client(), nil
		},
	})
}

func setup(t *testing.T, server *httptest.Server, owners ...string) (*store.SQLite, *Runner, *mockNotifier) {
	t.Helper()
	st := storetest.New(t)
	for _, o := range owners {
		if err := st.SaveCredential(context.Background(), models.Credential{
			OwnerID: o, Provider: models.ProviderGraph, AccessToken: "at",
		}); err != nil {
			t.Fatalf("SaveCredential: %v", err)
		}
	}
	n := &mockNotifier{}
	r := NewRunner(RunnerConfig{
		Store:     st,
		Listers:   map[string]Lister{models.ProviderGraph: newGraph(server)},
		Notifier:  n,
		PageDelay: time.Millisecond,
	})
	return st, r, n
}

func TestBackfill_PaginationAndIdempotence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$skip") == "2" {
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{graphMessage("m3")},
			})
			return
		}
		if r.URL.Query().Get("$filter") == "" {
			t.Errorf("first page should carry a date filter: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value":           []map[string]any{graphMessage("m1"), graphMessage("m2")},
			"@odata.nextLink": fmt.Sprintf("http://%s/me/mailFolders/inbox/messages?$skip=2", r.Host),
		})
	}))
	defer server.Close()

	_, runner, notifier := setup(t, server, "prof-1")
	ctx := context.Background()

	res, err := runner.Run(ctx, Request{Owners: []string{"prof-1"}, Since: 7 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TotalNew != 3 || res.Owners[0].Pages != 2 {
		t.Errorf("result = %+v", res)
	}
	if notifier.count() != 3 {
		t.Errorf("notified %d, want 3", notifier.count())
	}

	again, err := runner.Run(ctx, Request{Owners: []string{"prof-1"}, Since: 7 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.TotalNew != 0 || again.TotalDupes != 3 {
		t.Errorf("rerun = %+v, want only duplicates", again)
	}
	if notifier.count() != 3 {
		t.Error("duplicates should not be announced")
	}
}

func TestBackfill_EmptyMailbox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer server.Close()

	_, runner, _ := setup(t, server, "prof-1")
	res, err := runner.Run(context.Background(), Request{Owners: []string{"prof-1"}, Since: time.Hour})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TotalNew != 0 || res.Owners[0].Pages != 1 || res.Owners[0].Errors != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestBackfill_OwnerFailureDoesNotStopOthers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"InternalServerError"}}`))
	}))
	defer server.Close()

	st, runner, _ := setup(t, server, "prof-1")
	if err := st.SaveCredential(context.Background(), models.Credential{
		OwnerID: "prof-2", Provider: models.ProviderIMAP, Host: "imap.uni.edu", Username: "p2", Password: "pw",
	}); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}

	res, err := runner.Run(context.Background(), Request{Owners: []string{"prof-1", "prof-2", "nobody"}, Since: time.Hour})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Owners) != 3 {
		t.Fatalf("owners = %d, want 3", len(res.Owners))
	}
	for _, or := range res.Owners {
		if or.Errors != 1 || or.Error == "" {
			t.Errorf("%s: %+v, want one recorded error", or.OwnerID, or)
		}
	}
}

func TestOwners(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	got, err := Owners(ctx, st, []string{"a"})
	if err != nil || len(got) != 1 {
		t.Errorf("explicit owners = %v, %v", got, err)
	}
	if _, err := Owners(ctx, st, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	st.SaveCredential(ctx, models.Credential{OwnerID: "b", Provider: models.ProviderGraph, AccessToken: "t"})
	got, err = Owners(ctx, st, nil)
	if err != nil || len(got) != 1 || got[0] != "b" {
		t.Errorf("stored owners = %v, %v", got, err)
	}
}
