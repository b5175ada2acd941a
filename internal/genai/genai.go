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

// Package genai talks to generative-text backends (Gemini and Ollama) over
// their REST APIs and asks them for JSON constrained by a response schema.
package genai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"unicode/utf8"
)

// Schema is the subset of JSON Schema understood by both backends.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Schema type names.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// Request is a single generation call.
type Request struct {
	// Name identifies the prompt template; used for logging and routing in fakes.
	Name        string
	Prompt      string
	Schema      *Schema
	Temperature float64
}

// Provider generates text for a prompt. Implementations return a
// *TransientError for failures worth retrying.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when the backend answered without content.
var ErrEmptyResponse = errors.New("genai: empty response")

// TransientError marks timeouts, throttling, upstream 5xx and connection
// failures.
type TransientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is a non-retryable HTTP failure such as a bad request or an
// invalid API key.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth one more attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// classifyStatus maps a non-200 response onto the error taxonomy.
func classifyStatus(provider string, status int, body []byte) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{Provider: provider, StatusCode: status, Err: errors.New(Truncate(string(body), 512))}
	}
	return &StatusError{Provider: provider, StatusCode: status, Body: Truncate(string(body), 512)}
}

// classifyTransport wraps an http.Client error. Cancellation by the caller
// is returned as is; everything else on the wire is transient.
func classifyTransport(ctx context.Context, provider string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	return &TransientError{Provider: provider, Err: err}
}

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 4 << 20

// ErrResponseTooLarge is returned when a backend response exceeds maxResponseBytes.
var ErrResponseTooLarge = errors.New("genai: response too large")

// readBody reads at most maxResponseBytes of r.
func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// Truncate shortens s to at most n bytes plus an ellipsis, cutting on a
// rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
