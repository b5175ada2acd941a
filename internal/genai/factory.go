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
	"fmt"
	"net/http"
)

// Config selects and configures a backend.
type Config struct {
	Provider string // "gemini" or "ollama"
	APIKey   string
	BaseURL  string
	Model    string
}

// NewProvider builds the configured backend. With no provider named,
// Gemini is used when an API key is present and Ollama otherwise.
func NewProvider(cfg Config, httpClient *http.Client) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		return NewGemini(httpClient, cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "ollama":
		return NewOllama(httpClient, cfg.BaseURL, cfg.Model), nil
	case "":
		if cfg.APIKey != "" {
			return NewGemini(httpClient, cfg.BaseURL, cfg.APIKey, cfg.Model), nil
		}
		return NewOllama(httpClient, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
