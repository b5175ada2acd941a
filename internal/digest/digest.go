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

// Package digest builds per-day digests. Statistics are computed from the
// stored messages; only the narrative comes from the generation gateway.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/models"
)

// DateLayout is the digest date format.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned for a date not in DateLayout.
var ErrInvalidDate = errors.New("invalid digest date")

// Store is the persistence the aggregator needs.
type Store interface {
	ListReceivedBetween(ctx context.Context, ownerID string, from, to time.Time) ([]models.Message, error)
	SaveDigest(ctx context.Context, ownerID, date string, payload []byte) error
	GetDigest(ctx context.Context, ownerID, date string) ([]byte, error)
}

// Config holds the aggregator's dependencies.
type Config struct {
	Store   Store
	Gateway *gateway.Gateway
	// Location defines day boundaries. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
}

// Aggregator builds and stores digests.
type Aggregator struct {
	store   Store
	gateway *gateway.Gateway
	loc     *time.Location
	now     func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg Config) *Aggregator {
	a := &Aggregator{
		store:   cfg.Store,
		gateway: cfg.Gateway,
		loc:     cfg.Location,
		now:     cfg.Now,
	}
	if a.loc == nil {
		a.loc = time.UTC
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// DayBounds returns [start, end) of date in the aggregator's location. An
// empty date means today.
func (a *Aggregator) DayBounds(date string) (string, time.Time, time.Time, error) {
	var day time.Time
	if date == "" {
		n := a.now().In(a.loc)
		day = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, a.loc)
	} else {
		d, err := time.ParseInLocation(DateLayout, date, a.loc)
		if err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, date, err)
		}
		day = d
	}
	// AddDate keeps local midnight across DST changes.
	return day.Format(DateLayout), day, day.AddDate(0, 0, 1), nil
}

// Digest builds the digest for date, stores it and returns it. Re-running
// overwrites the stored snapshot.
func (a *Aggregator) Digest(ctx context.Context, ownerID, date string) (*models.DigestResult, error) {
	date, from, to, err := a.DayBounds(date)
	if err != nil {
		return nil, err
	}

	msgs, err := a.store.ListReceivedBetween(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", date, err)
	}
	st := computeStats(msgs)

	res := &models.DigestResult{
		OwnerID:        ownerID,
		Date:           date,
		Total:          st.Total,
		CategoryCounts: st.CategoryCounts,
		PriorityBands:  st.PriorityBands,
		HighPriority:   st.HighPriority,
		GeneratedAt:    a.now().UTC(),
	}

	if st.Total == 0 {
		res.Overview = fmt.Sprintf("No messages were received on %s.", date)
		res.Themes = []string{}
		res.Recommendations = []string{}
	} else {
		n, outcome := gateway.Invoke(ctx, a.gateway, digestTemplate, a.vars(date, st))
		res.Overview = n.Overview
		res.Themes = nonNil(n.Themes)
		res.Recommendations = nonNil(n.Recommendations)
		res.Degraded = outcome.Degraded
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}
	if err := a.store.SaveDigest(ctx, ownerID, date, payload); err != nil {
		return nil, fmt.Errorf("save digest %s: %w", date, err)
	}

	slog.Info("digest generated",
		"owner", ownerID,
		"date", date,
		"total", st.Total,
		"high_priority", len(st.HighPriority),
		"degraded", res.Degraded,
	)
	return res, nil
}

// GetDigest returns the stored snapshot for date.
func (a *Aggregator) GetDigest(ctx context.Context, ownerID, date string) (*models.DigestResult, error) {
	date, _, _, err := a.DayBounds(date)
	if err != nil {
		return nil, err
	}
	payload, err := a.store.GetDigest(ctx, ownerID, date)
	if err != nil {
		return nil, fmt.Errorf("load digest %s: %w", date, err)
	}
	var res models.DigestResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode digest %s: %w", date, err)
	}
	return &res, nil
}

func (a *Aggregator) vars(date string, st stats) digestVars {
	v := digestVars{
		Date:       date,
		Total:      st.Total,
		Categories: lines(st.CategoryCounts),
		Bands:      lines(st.PriorityBands),
		Summaries:  st.Summaries,
	}
	for _, h := range st.HighPriority {
		v.High = append(v.High, fmt.Sprintf("(%d) %s from %s at %s",
			h.Priority, h.Subject, h.Sender, h.ReceivedAt.In(a.loc).Format("15:04")))
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
