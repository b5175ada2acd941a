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

// Package gateway wraps a generative provider with prompt templating,
// schema validation, a single retry on transient failure and a
// deterministic per-template fallback. Invoke never returns an error: a
// caller always receives a well-formed value.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/inboxcopilot/pipeline/internal/genai"
	"github.com/inboxcopilot/pipeline/internal/metrics"
)

// maxAttempts is one call plus one retry.
const maxAttempts = 2

// Template binds a prompt, its response schema and the fallback used when
// generation cannot produce a valid value.
type Template[T any] struct {
	Name        string
	Prompt      *template.Template
	Schema      *genai.Schema
	Temperature float64
	Fallback    func(cause error) T
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"truncate": func(n int, s string) string { return genai.Truncate(s, n) },
	"inc": func(i int) int { return i + 1 },
}

// NewTemplate parses prompt and panics on a malformed template, so broken
// prompts fail at package init.
func NewTemplate[T any](name, prompt string, schema *genai.Schema, fallback func(cause error) T) *Template[T] {
	return &Template[T]{
		Name:        name,
		Prompt:      template.Must(template.New(name).Funcs(funcs).Parse(prompt)),
		Schema:      schema,
		Temperature: 0.2,
		Fallback:    fallback,
	}
}

// Outcome describes how a value was produced.
type Outcome struct {
	Attempts int
	Degraded bool
	Cause    error
}

// Config holds the gateway's dependencies and limits.
type Config struct {
	Provider genai.Provider
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RatePerSecond and Burst shape the outbound call budget shared by
	// every caller. Zero disables limiting.
	RatePerSecond float64
	Burst         int
}

// Gateway is safe for concurrent use.
type Gateway struct {
	provider genai.Provider
	timeout  time.Duration
	limiter  *rate.Limiter
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		provider: cfg.Provider,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Invoke renders tpl with vars, calls the provider and decodes the result
// into T. Transient failures are retried exactly once; schema violations
// and other failures are not retried. When no valid value is obtained the
// template's fallback is returned and Outcome.Degraded is set.
func Invoke[T any](ctx context.Context, g *Gateway, tpl *Template[T], vars any) (value T, outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("generation panic: %v", r)
			slog.Error("generation gateway recovered from panic", "template", tpl.Name, "error", cause)
			value, outcome = fallback(tpl, outcome.Attempts, cause)
		}
	}()

	var buf bytes.Buffer
	if err := tpl.Prompt.Execute(&buf, vars); err != nil {
		return fallback(tpl, 0, fmt.Errorf("render prompt: %w", err))
	}
	req := genai.Request{
		Name:        tpl.Name,
		Prompt:      buf.String(),
		Schema:      tpl.Schema,
		Temperature: tpl.Temperature,
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := g.attempt(ctx, req)
		if err == nil {
			v, verr := decode[T](tpl, raw)
			if verr != nil {
				return fallback(tpl, attempt, verr)
			}
			label := "ok"
			if attempt > 1 {
				label = "retried_ok"
			}
			metrics.GatewayCalls.WithLabelValues(tpl.Name, label).Inc()
			return v, Outcome{Attempts: attempt}
		}

		lastErr = err
		if !genai.IsTransient(err) || ctx.Err() != nil || attempt == maxAttempts {
			return fallback(tpl, attempt, lastErr)
		}
		slog.Warn("transient generation failure, retrying",
			"template", tpl.Name,
			"provider", g.provider.Name(),
			"error", err,
		)
	}

	return fallback(tpl, maxAttempts, lastErr)
}

// attempt performs one rate-limited, time-bounded provider call.
func (g *Gateway) attempt(ctx context.Context, req genai.Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.provider.Generate(attemptCtx, req)
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !genai.IsTransient(err) {
			err = &genai.TransientError{Provider: g.provider.Name(), Err: err}
		}
	}
	metrics.ObserveAttempt(req.Name, status, time.Since(start))
	return raw, err
}

func fallback[T any](tpl *Template[T], attempts int, cause error) (T, Outcome) {
	metrics.GatewayCalls.WithLabelValues(tpl.Name, "fallback").Inc()
	slog.Warn("generation fell back to deterministic result",
		"template", tpl.Name,
		"attempts", attempts,
		"error", cause,
	)
	return tpl.Fallback(cause), Outcome{Attempts: attempts, Degraded: true, Cause: cause}
}
