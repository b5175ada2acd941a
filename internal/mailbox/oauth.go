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

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/inboxcopilot/pipeline/internal/models"
)

// CredentialSaver persists refreshed OAuth tokens.
type CredentialSaver interface {
	SaveCredential(ctx context.Context, c models.Credential) error
}

// OAuthConfig identifies the OAuth application used to refresh tokens.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

func (c OAuthConfig) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
		Scopes: c.Scopes,
	}
}

// HTTPClient returns a client that authorizes requests with cred's tokens,
// refreshing them when they expire. Refreshed tokens are written back via
// saver. A refresh the token endpoint rejects (400, 401 or an
// invalid_grant style error code) surfaces as an error wrapping
// ErrAuthExpired; 429 and 5xx responses do not.
func HTTPClient(ctx context.Context, cfg OAuthConfig, cred *models.Credential, saver CredentialSaver) (*http.Client, error) {
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return nil, fmt.Errorf("owner %s has no OAuth tokens: %w", cred.OwnerID, ErrAuthExpired)
	}

	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.Expiry,
	}

	src := &notifyTokenSource{
		src:     cfg.config().TokenSource(ctx, token),
		current: token,
		cred:    *cred,
		saver:   saver,
	}
	return oauth2.NewClient(ctx, src), nil
}

// refreshRejected reports whether the token endpoint refused the grant
// itself. Rate limiting and server errors are ordinary failures.
func refreshRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	if re.Response == nil {
		return false
	}
	switch re.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return true
	}
	return false
}

// notifyTokenSource wraps a refreshing token source and saves every new
// access token it observes.
type notifyTokenSource struct {
	mu      sync.Mutex
	src     oauth2.TokenSource
	current *oauth2.Token
	cred    models.Credential
	saver   CredentialSaver
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.src.Token()
	if err != nil {
		if refreshRejected(err) {
			return nil, fmt.Errorf("%w: %w", ErrAuthExpired, err)
		}
		return nil, err
	}

	if s.saver != nil && t.AccessToken != s.current.AccessToken {
		s.current = t
		s.cred.AccessToken = t.AccessToken
		if t.RefreshToken != "" {
			s.cred.RefreshToken = t.RefreshToken
		}
		s.cred.Expiry = t.Expiry

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.saver.SaveCredential(ctx, s.cred); err != nil {
			slog.Error("failed to persist refreshed token",
				"owner", s.cred.OwnerID,
				"provider", s.cred.Provider,
				"error", err,
			)
		} else {
			slog.Debug("refreshed token persisted", "owner", s.cred.OwnerID)
		}
	}
	return t, nil
}
