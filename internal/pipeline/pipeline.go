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

// Package pipeline is the surface the product API calls: sync, classify,
// draft, digest, search and inbox views for one owner. Every operation
// returns a value or an error from a closed set and never panics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/inboxcopilot/pipeline/internal/classify"
	"github.com/inboxcopilot/pipeline/internal/digest"
	"github.com/inboxcopilot/pipeline/internal/drafting"
	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/inbox"
	"github.com/inboxcopilot/pipeline/internal/ingest"
	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/search"
	"github.com/inboxcopilot/pipeline/internal/store"
)

// Errors returned by pipeline operations. Callers match them with
// errors.Is; store errors are wrapped with context.
var (
	ErrNotFound     = store.ErrNotFound
	ErrConflict     = ingest.ErrConflict
	ErrAuthExpired  = ingest.ErrAuthExpired
	ErrNoCredential = ingest.ErrNoCredential
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// Options configures Build.
type Options struct {
	Store     store.Store
	Gateway   *gateway.Gateway
	Providers map[string]mailbox.Provider
	Notifier  ingest.Notifier
	Sync      ingest.EngineConfig
	Classify  classify.Config
	Digest    digest.Config
	Search    search.Config
}

// Pipeline bundles the services.
type Pipeline struct {
	Engine     *ingest.Engine
	Classifier *classify.Service
	Drafter    *drafting.Service
	Digests    *digest.Aggregator
	Ranker     *search.Ranker
	Inbox      *inbox.Service
}

// Build wires every service to the shared store and gateway. Store, Gateway
// and Providers in Options override the matching fields of the per-service
// configs.
func Build(opts Options) *Pipeline {
	syncCfg := opts.Sync
	syncCfg.Store = opts.Store
	syncCfg.Providers = opts.Providers
	syncCfg.Notifier = opts.Notifier

	classifyCfg := opts.Classify
	classifyCfg.Store = opts.Store
	classifyCfg.Gateway = opts.Gateway

	digestCfg := opts.Digest
	digestCfg.Store = opts.Store
	digestCfg.Gateway = opts.Gateway

	searchCfg := opts.Search
	searchCfg.Store = opts.Store
	searchCfg.Gateway = opts.Gateway

	return &Pipeline{
		Engine:     ingest.NewEngine(syncCfg),
		Classifier: classify.NewService(classifyCfg),
		Drafter:    drafting.NewService(opts.Store, opts.Gateway),
		Digests:    digest.NewAggregator(digestCfg),
		Ranker:     search.NewRanker(searchCfg),
		Inbox:      inbox.NewService(opts.Store),
	}
}

// Sync runs one incremental sync of the owner's mailbox.
func (p *Pipeline) Sync(ctx context.Context, ownerID string) (report *ingest.Report, err error) {
	defer guard("sync", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return p.Engine.SyncOwner(ctx, ownerID)
}

func (p *Pipeline) ClassifyOne(ctx context.Context, ownerID, messageID string) (res *models.ClassificationResult, err error) {
	defer guard("classify", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return p.Classifier.ClassifyOne(ctx, ownerID, messageID)
}

func (p *Pipeline) ClassifyBatch(ctx context.Context, ownerID string, limit int) (report *classify.BatchReport, err error) {
	defer guard("classify batch", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	return p.Classifier.ClassifyBatch(ctx, ownerID, limit)
}

func (p *Pipeline) Draft(ctx context.Context, ownerID, messageID string) (res *models.DraftResult, err error) {
	defer guard("draft", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return p.Drafter.Draft(ctx, ownerID, messageID)
}

func (p *Pipeline) SummarizeThread(ctx context.Context, ownerID, conversationID string) (res *models.ThreadSummary, err error) {
	defer guard("summarize thread", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return p.Drafter.SummarizeThread(ctx, ownerID, conversationID)
}

// Digest builds and stores the digest for date (YYYY-MM-DD, empty for today).
func (p *Pipeline) Digest(ctx context.Context, ownerID, date string) (res *models.DigestResult, err error) {
	defer guard("digest", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	res, err = p.Digests.Digest(ctx, ownerID, date)
	if errors.Is(err, digest.ErrInvalidDate) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return res, err
}

// GetDigest returns a previously stored digest.
func (p *Pipeline) GetDigest(ctx context.Context, ownerID, date string) (res *models.DigestResult, err error) {
	defer guard("get digest", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	res, err = p.Digests.GetDigest(ctx, ownerID, date)
	if errors.Is(err, digest.ErrInvalidDate) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return res, err
}

func (p *Pipeline) Search(ctx context.Context, ownerID, query string) (res *models.SearchResponse, err error) {
	defer guard("search", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return p.Ranker.Search(ctx, ownerID, query)
}

// List returns one page of the owner's messages, newest first.
func (p *Pipeline) List(ctx context.Context, ownerID string, q inbox.Query) (res *models.MessagePage, err error) {
	defer guard("list", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	res, err = p.Inbox.List(ctx, ownerID, q)
	if errors.Is(err, inbox.ErrInvalidQuery) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return res, err
}

func (p *Pipeline) MarkRead(ctx context.Context, ownerID, messageID string) (err error) {
	defer guard("mark read", &err)
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	return p.Inbox.MarkRead(ctx, ownerID, messageID)
}

func (p *Pipeline) Stats(ctx context.Context, ownerID string) (res *models.InboxStats, err error) {
	defer guard("stats", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return p.Inbox.Stats(ctx, ownerID)
}

func (p *Pipeline) Categories(ctx context.Context, ownerID string) (res []models.CategoryCount, err error) {
	defer guard("categories", &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return p.Inbox.Categories(ctx, ownerID)
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	return nil
}

// guard turns a panic in op into ErrInternal.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		slog.Error("pipeline operation panicked",
			"op", op,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
		*err = fmt.Errorf("%s: %w: %v", op, ErrInternal, r)
	}
}
