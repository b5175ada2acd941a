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

// Package genaitest provides a scripted generation provider for tests.
package genaitest

import (
	"context"
	"fmt"
	"sync"

	"github.com/inboxcopilot/pipeline/internal/genai"
)

// Handler answers one request.
type Handler func(req genai.Request) (string, error)

// Provider routes requests to a handler by template name and records every
// call. Requests for an unrouted template fail with a non-transient error.
type Provider struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []genai.Request
}

// New returns an empty provider.
func New() *Provider {
	return &Provider{handlers: make(map[string]Handler)}
}

// Handle routes template to h.
func (p *Provider) Handle(template string, h Handler) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[template] = h
	return p
}

// Reply routes template to a fixed response.
func (p *Provider) Reply(template, out string) *Provider {
	return p.Handle(template, func(genai.Request) (string, error) { return out, nil })
}

// Fail routes template to a fixed error.
func (p *Provider) Fail(template string, err error) *Provider {
	return p.Handle(template, func(genai.Request) (string, error) { return "", err })
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) Generate(ctx context.Context, req genai.Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	h, ok := p.handlers[req.Name]
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok {
		return "", &genai.StatusError{Provider: "scripted", StatusCode: 400, Body: fmt.Sprintf("no handler for %q", req.Name)}
	}
	return h(req)
}

// Calls returns the requests made for template, or all requests when
// template is empty.
func (p *Provider) Calls(template string) []genai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []genai.Request
	for _, c := range p.calls {
		if template == "" || c.Name == template {
			out = append(out, c)
		}
	}
	return out
}
