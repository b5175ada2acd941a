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

// Inbox pipeline operator CLI
//
// Runs one pipeline operation for one owner and prints the result as JSON.
// Intended for seeding new deployments and for debugging enrichment.
//
// Usage:
//
//	inboxctl <command> [flags]
//
// Commands: sync, classify, classify-batch, draft, summarize-thread,
// digest, get-digest, search, list, mark-read, stats, categories, backfill.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"

	"github.com/inboxcopilot/pipeline/internal/backfill"
	"github.com/inboxcopilot/pipeline/internal/config"
	"github.com/inboxcopilot/pipeline/internal/inbox"
	"github.com/inboxcopilot/pipeline/internal/ingest"
	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
	"github.com/inboxcopilot/pipeline/internal/pipeline"
	"github.com/inboxcopilot/pipeline/internal/queue"
	"github.com/inboxcopilot/pipeline/internal/store"
)

const usage = `Usage: inboxctl <command> [flags]

Commands:
  sync              pull new mail for an owner
  classify          classify one message
  classify-batch    classify an owner's unprocessed messages
  draft             draft a reply to one message
  summarize-thread  summarize a conversation
  digest            build and store the daily digest
  get-digest        print a stored digest
  search            rank messages against a query
  list              list messages, newest first
  mark-read         mark one message as read
  stats             print mailbox counters
  categories        print the category breakdown
  backfill          ingest historical mail for one or more owners

Run "inboxctl <command> -h" for command flags.
`

// Exit codes by error kind.
const (
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
	exitConflict = 4
	exitAuth     = 5
)

// env carries the shared dependencies of a command.
type env struct {
	cfg       *config.Config
	store     store.Store
	pipeline  *pipeline.Pipeline
	providers map[string]mailbox.Provider
	notifier  ingest.Notifier
}

type command struct {
	// needsQueue connects Redis so new messages are queued for enrichment.
	needsQueue bool
	run        func(ctx context.Context, e *env, args []string) (any, error)
}

var commands = map[string]command{
	"sync":             {needsQueue: true, run: runSync},
	"classify":         {run: runClassify},
	"classify-batch":   {run: runClassifyBatch},
	"draft":            {run: runDraft},
	"summarize-thread": {run: runSummarizeThread},
	"digest":           {run: runDigest},
	"get-digest":       {run: runGetDigest},
	"search":           {run: runSearch},
	"list":             {run: runList},
	"mark-read":        {run: runMarkRead},
	"stats":            {run: runStats},
	"categories":       {run: runCategories},
	"backfill":         {needsQueue: true, run: runBackfill},
}

func main() {
	// Logs go to stderr so stdout stays parseable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(exitUsage)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(exitFailure)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, cleanup, err := setup(ctx, cfg, cmd.needsQueue)
	if err != nil {
		slog.Error("setup failed", "error", err)
		os.Exit(exitFailure)
	}

	out, err := cmd.run(ctx, e, os.Args[2:])
	cleanup()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("failed to write result", "error", err)
		os.Exit(exitFailure)
	}
}

// setup opens the store and builds the pipeline. Redis is optional: when it
// cannot be reached, new messages are stored but not queued.
func setup(ctx context.Context, cfg *config.Config, needsQueue bool) (*env, func(), error) {
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closers := []func() error{st.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	gw, err := pipeline.NewGateway(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var notifier ingest.Notifier
	if needsQueue {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, rdb.Close)

		publisher := queue.NewPublisher(rdb, cfg.EnrichQueue)
		if err := publisher.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, new messages will not be queued", "error", err)
		} else {
			notifier = publisher
		}
	}

	opts := pipeline.FromConfig(cfg, st, gw, notifier)
	e := &env{
		cfg:       cfg,
		store:     st,
		pipeline:  pipeline.Build(opts),
		providers: opts.Providers,
		notifier:  notifier,
	}
	return e, cleanup, nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return exitUsage
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, pipeline.ErrNoCredential):
		return exitNotFound
	case errors.Is(err, pipeline.ErrConflict):
		return exitConflict
	case errors.Is(err, pipeline.ErrAuthExpired):
		return exitAuth
	default:
		return exitFailure
	}
}

// flags builds a FlagSet that reports parse errors instead of exiting.
func flags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	owner := fs.String("owner", "", "Owner (professor) id (required)")
	return fs, owner
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: --%s is required", pipeline.ErrInvalidInput, name)
	}
	return nil
}

func runSync(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("sync")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return e.pipeline.Sync(ctx, *owner)
}

func runClassify(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("classify")
	message := fs.String("message", "", "Message id (required)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("message", *message); err != nil {
		return nil, err
	}
	return e.pipeline.ClassifyOne(ctx, *owner, *message)
}

func runClassifyBatch(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("classify-batch")
	limit := fs.Int("limit", e.cfg.BatchSize, "Maximum messages to classify")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return e.pipeline.ClassifyBatch(ctx, *owner, *limit)
}

func runDraft(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("draft")
	message := fs.String("message", "", "Message id (required)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("message", *message); err != nil {
		return nil, err
	}
	return e.pipeline.Draft(ctx, *owner, *message)
}

func runSummarizeThread(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("summarize-thread")
	conversation := fs.String("conversation", "", "Conversation id (required)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("conversation", *conversation); err != nil {
		return nil, err
	}
	return e.pipeline.SummarizeThread(ctx, *owner, *conversation)
}

func runDigest(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("digest")
	date := fs.String("date", "", "Day as YYYY-MM-DD (default today)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return e.pipeline.Digest(ctx, *owner, *date)
}

func runGetDigest(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("get-digest")
	date := fs.String("date", "", "Day as YYYY-MM-DD (default today)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return e.pipeline.GetDigest(ctx, *owner, *date)
}

func runSearch(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("search")
	query := fs.String("query", "", "Search query; remaining arguments are appended")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	q := strings.TrimSpace(strings.Join(append([]string{*query}, fs.Args()...), " "))
	return e.pipeline.Search(ctx, *owner, q)
}

func runList(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("list")
	category := fs.String("category", "", "Only messages in this category")
	urgent := fs.Bool("urgent", false, "Only high-priority messages")
	unread := fs.Bool("unread", false, "Only unread messages")
	page := fs.Int("page", 1, "Page number")
	perPage := fs.Int("per-page", inbox.DefaultPerPage, "Messages per page (max 100)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return e.pipeline.List(ctx, *owner, inbox.Query{
		Category:   models.Category(*category),
		UrgentOnly: *urgent,
		UnreadOnly: *unread,
		Page:       *page,
		PerPage:    *perPage,
	})
}

func runMarkRead(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("mark-read")
	message := fs.String("message", "", "Message id (required)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("message", *message); err != nil {
		return nil, err
	}
	if err := e.pipeline.MarkRead(ctx, *owner, *message); err != nil {
		return nil, err
	}
	return map[string]any{"message_id": *message, "is_read": true}, nil
}

func runStats(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("stats")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return e.pipeline.Stats(ctx, *owner)
}

func runCategories(ctx context.Context, e *env, args []string) (any, error) {
	fs, owner := flags("categories")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return e.pipeline.Categories(ctx, *owner)
}

func runBackfill(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	ownersFlag := fs.String("owners", "", "Comma-separated owner ids (optional; empty = every owner with a credential)")
	sinceFlag := fs.Duration("since", e.cfg.BackfillLookback, "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if *sinceFlag <= 0 {
		return nil, fmt.Errorf("%w: --since must be positive", pipeline.ErrInvalidInput)
	}

	var ids []string
	for _, id := range strings.Split(*ownersFlag, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	owners, err := backfill.Owners(ctx, e.store, ids)
	if err != nil {
		return nil, err
	}

	listers := make(map[string]backfill.Lister)
	for name, p := range e.providers {
		if l, ok := p.(backfill.Lister); ok {
			listers[name] = l
		}
	}

	runner := backfill.NewRunner(backfill.RunnerConfig{
		Store:     e.store,
		Listers:   listers,
		Notifier:  e.notifier,
		PageDelay: e.cfg.BackfillPageDelay,
	})
	return runner.Run(ctx, backfill.Request{Owners: owners, Since: *sinceFlag})
}
