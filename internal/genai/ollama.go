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

package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3"
)

// Ollama calls a local Ollama server's /api/generate endpoint. The schema is
// passed through the format field, which Ollama uses for structured output.
type Ollama struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllama creates an Ollama provider.
func NewOllama(httpClient *http.Client, baseURL, model string) *Ollama {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  any            `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	payload := ollamaRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.Schema != nil {
		payload.Format = req.Schema
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransport(ctx, o.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp.Body)
	if errors.Is(err, ErrResponseTooLarge) {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	if err != nil {
		return "", classifyTransport(ctx, o.Name(), fmt.Errorf("read ollama response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(o.Name(), resp.StatusCode, respBody)
	}

	var result ollamaResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if strings.TrimSpace(result.Response) == "" {
		return "", ErrEmptyResponse
	}
	return result.Response, nil
}
