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

package pipeline

import (
	"fmt"
	"net/http"

	"github.com/inboxcopilot/pipeline/internal/classify"
	"github.com/inboxcopilot/pipeline/internal/config"
	"github.com/inboxcopilot/pipeline/internal/digest"
	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/genai"
	"github.com/inboxcopilot/pipeline/internal/gmail"
	"github.com/inboxcopilot/pipeline/internal/graph"
	"github.com/inboxcopilot/pipeline/internal/imapsource"
	"github.com/inboxcopilot/pipeline/internal/ingest"
	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/search"
	"github.com/inboxcopilot/pipeline/internal/store"
)

const microsoftLogin = "https://login.microsoftonline.com/%s/oauth2/v2.0/%s"

var graphScopes = []string{"offline_access", "https://graph.microsoft.com/Mail.Read"}

// Providers builds one mailbox provider per supported backend. Refreshed
// OAuth tokens are written back through saver.
func Providers(cfg *config.Config, saver mailbox.CredentialSaver) map[string]mailbox.Provider {
	graphOAuth := mailbox.OAuthConfig{
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		AuthURL:      fmt.Sprintf(microsoftLogin, cfg.Graph.TenantID, "authorize"),
		TokenURL:     cfg.Graph.TokenURL,
		Scopes:       graphScopes,
	}
	if graphOAuth.TokenURL == "" {
		graphOAuth.TokenURL = fmt.Sprintf(microsoftLogin, cfg.Graph.TenantID, "token")
	}

	providers := []mailbox.Provider{
		graph.NewProvider(graph.Config{
			BaseURL:  cfg.GraphBaseURL,
			PageSize: cfg.PageSize,
			OAuth:    graphOAuth,
			Saver:    saver,
			Timeout:  cfg.MailboxTimeout,
		}),
		gmail.NewProvider(gmail.Config{
			OAuth: mailbox.OAuthConfig{
				ClientID:     cfg.Gmail.ClientID,
				ClientSecret: cfg.Gmail.ClientSecret,
				TokenURL:     cfg.Gmail.TokenURL,
			},
			Saver:    saver,
			PageSize: cfg.PageSize,
			Timeout:  cfg.MailboxTimeout,
			Endpoint: cfg.GmailEndpoint,
		}),
		imapsource.NewProvider(imapsource.Config{
			PageSize:           cfg.PageSize,
			Timeout:            cfg.MailboxTimeout,
			InsecureSkipVerify: cfg.IMAPInsecureTLS,
		}),
	}

	out := make(map[string]mailbox.Provider, len(providers))
	for _, p := range providers {
		out[p.Name()] = p
	}
	return out
}

// NewGateway builds the generation gateway for the configured backend.
func NewGateway(cfg *config.Config) (*gateway.Gateway, error) {
	provider, err := genai.NewProvider(genai.Config{
		Provider: cfg.GenerationProvider,
		APIKey:   cfg.GenerationAPIKey,
		BaseURL:  cfg.GenerationBaseURL,
		Model:    cfg.GenerationModel,
	}, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	return gateway.New(gateway.Config{
		Provider:      provider,
		Timeout:       cfg.GenerationTimeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.RateBurst,
	}), nil
}

// FromConfig assembles Build options from loaded configuration.
func FromConfig(cfg *config.Config, st store.Store, gw *gateway.Gateway, notifier ingest.Notifier) Options {
	return Options{
		Store:     st,
		Gateway:   gw,
		Providers: Providers(cfg, st),
		Notifier:  notifier,
		Sync: ingest.EngineConfig{
			MaxPages:     cfg.MaxPages,
			LeaseTTL:     cfg.LeaseTTL,
			SyncInterval: cfg.SyncInterval,
			Owners:       cfg.Owners,
		},
		Classify: classify.Config{Concurrency: cfg.Concurrency},
		Digest:   digest.Config{Location: cfg.DigestLocation},
		Search: search.Config{
			CandidateCap: cfg.CandidateCap,
			Threshold:    cfg.Threshold,
			ScanLimit:    cfg.ScanLimit,
		},
	}
}
