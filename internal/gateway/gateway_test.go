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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/inboxcopilot/pipeline/internal/genai"
)

type reply struct {
	out string
	err error
}

// scriptedProvider returns its replies in order and repeats the last one.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	prompts []string
	block   bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req genai.Request) (string, error) {
	p.mu.Lock()
	p.calls++
	p.prompts = append(p.prompts, req.Prompt)
	idx := min(p.calls-1, len(p.replies)-1)
	r := p.replies[idx]
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.out, r.err
}

type label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (l *label) Validate() error {
	if l.Score < 0 || l.Score > 1 {
		return fmt.Errorf("score %v outside [0,1]", l.Score)
	}
	return nil
}

var labelTemplate = NewTemplate("label", "Label this: {{.Text}}",
	&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"label": {Type: genai.TypeString, Enum: []string{"spam", "ham"}},
			"score": {Type: genai.TypeNumber},
		},
		Required: []string{"label", "score"},
	},
	func(error) label { return label{Label: "ham", Score: 0} },
)

var transient = &genai.TransientError{Provider: "scripted", StatusCode: 503, Err: errors.New("busy")}

func invoke(t *testing.T, p *scriptedProvider) (label, Outcome) {
	t.Helper()
	g := New(Config{Provider: p, Timeout: time.Second})
	return Invoke(context.Background(), g, labelTemplate, map[string]string{"Text": "buy now"})
}

func TestInvoke_Success(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{out: `{"label":"spam","score":0.9}`}}}
	got, out := invoke(t, p)

	if out.Degraded || out.Attempts != 1 {
		t.Errorf("outcome = %+v, want 1 clean attempt", out)
	}
	if got.Label != "spam" || got.Score != 0.9 {
		t.Errorf("got = %+v", got)
	}
	if !strings.Contains(p.prompts[0], "buy now") {
		t.Errorf("prompt not rendered: %q", p.prompts[0])
	}
}

func TestInvoke_RetriesTransientOnce(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{err: transient},
		{out: `{"label":"spam","score":0.5}`},
	}}
	got, out := invoke(t, p)

	if out.Degraded {
		t.Errorf("expected recovery on retry, got %+v", out)
	}
	if out.Attempts != 2 || p.calls != 2 {
		t.Errorf("attempts = %d, calls = %d, want 2", out.Attempts, p.calls)
	}
	if got.Label != "spam" {
		t.Errorf("got = %+v", got)
	}
}

func TestInvoke_TransientTwiceFallsBack(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: transient}}}
	got, out := invoke(t, p)

	if !out.Degraded {
		t.Fatal("expected fallback")
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want exactly one retry", p.calls)
	}
	if got != (label{Label: "ham"}) {
		t.Errorf("got = %+v, want fallback", got)
	}
	if !genai.IsTransient(out.Cause) {
		t.Errorf("cause = %v", out.Cause)
	}
}

func TestInvoke_SchemaFailureNotRetried(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"not json", "I think it is spam"},
		{"missing field", `{"label":"spam"}`},
		{"wrong type", `{"label":"spam","score":"high"}`},
		{"enum violation", `{"label":"phishing","score":0.4}`},
		{"validate hook", `{"label":"spam","score":1.7}`},
		{"array instead of object", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{replies: []reply{{out: tt.out}}}
			got, out := invoke(t, p)

			if !out.Degraded {
				t.Fatalf("expected fallback for %q", tt.out)
			}
			if p.calls != 1 {
				t.Errorf("calls = %d, schema failures must not be retried", p.calls)
			}
			if !IsSchemaValidation(out.Cause) {
				t.Errorf("cause = %v, want SchemaValidationError", out.Cause)
			}
			if got.Label != "ham" {
				t.Errorf("got = %+v", got)
			}
		})
	}
}

func TestInvoke_NonTransientNotRetried(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: &genai.StatusError{Provider: "scripted", StatusCode: 400}}}}
	_, out := invoke(t, p)

	if !out.Degraded || p.calls != 1 {
		t.Errorf("outcome = %+v, calls = %d", out, p.calls)
	}
}

func TestInvoke_StripsCodeFence(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{out: "```json\n{\"label\":\"spam\",\"score\":0.3}\n```"}}}
	got, out := invoke(t, p)

	if out.Degraded {
		t.Fatalf("unexpected fallback: %v", out.Cause)
	}
	if got.Score != 0.3 {
		t.Errorf("got = %+v", got)
	}
}

// TestInvoke_AttemptTimeout verifies that a hung backend is cut off per
// attempt, retried once and then replaced by the fallback.
func TestInvoke_AttemptTimeout(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{}}, block: true}
	g := New(Config{Provider: p, Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, out := Invoke(context.Background(), g, labelTemplate, map[string]string{"Text": "x"})

	if !out.Degraded || p.calls != 2 {
		t.Errorf("outcome = %+v, calls = %d", out, p.calls)
	}
	if time.Since(start) > time.Second {
		t.Errorf("took %v, attempt timeout not applied", time.Since(start))
	}
}

func TestInvoke_CancelledContextNoRetry(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: transient}}}
	g := New(Config{Provider: p})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, out := Invoke(ctx, g, labelTemplate, map[string]string{"Text": "x"})
	if !out.Degraded {
		t.Error("expected fallback")
	}
	if p.calls > 1 {
		t.Errorf("calls = %d, cancelled context must not retry", p.calls)
	}
}

func TestInvoke_RecoversPanic(t *testing.T) {
	tpl := NewTemplate("boom", "x", nil, func(error) label { return label{Label: "ham"} })
	g := New(Config{Provider: panicProvider{}})

	got, out := Invoke(context.Background(), g, tpl, nil)
	if !out.Degraded || got.Label != "ham" {
		t.Errorf("got = %+v, outcome = %+v", got, out)
	}
}

type panicProvider struct{}

func (panicProvider) Name() string { return "panic" }
func (panicProvider) Generate(context.Context, genai.Request) (string, error) {
	panic("backend exploded")
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                         `{"a":1}`,
		"```json\n{\"a\":1}\n```":         `{"a":1}`,
		"Sure! Here you go: {\"a\":1} ok": `{"a":1}`,
		"```\n[1,2]\n```":                 `[1,2]`,
	}
	for in, want := range tests {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheck_NestedArray(t *testing.T) {
	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"scores": {Type: genai.TypeArray, Items: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"id": {Type: genai.TypeString}, "n": {Type: genai.TypeInteger}},
				Required:   []string{"id", "n"},
			}},
		},
		Required: []string{"scores"},
	}
	ok := map[string]any{"scores": []any{map[string]any{"id": "c1", "n": float64(3)}}}
	if _, reason := check("", ok, schema); reason != "" {
		t.Errorf("valid document rejected: %s", reason)
	}

	bad := map[string]any{"scores": []any{map[string]any{"id": "c1", "n": 2.5}}}
	path, reason := check("", bad, schema)
	if reason == "" || path != "scores[0].n" {
		t.Errorf("path = %q reason = %q", path, reason)
	}
}

func TestTruncateFunc_KeepsRunesWhole(t *testing.T) {
	tpl := NewTemplate("t", "{{truncate 2 .}}", nil, func(error) string { return "" })

	var b strings.Builder
	if err := tpl.Prompt.Execute(&b, "héllo"); err != nil {
		t.Fatal(err)
	}
	if got := b.String(); got != "h..." || !utf8.ValidString(got) {
		t.Errorf("truncate = %q, want %q", got, "h...")
	}
}
