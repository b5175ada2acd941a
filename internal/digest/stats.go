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

package digest

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/genai"
	"github.com/inboxcopilot/pipeline/internal/models"
)

// Unclassified is the category bucket for messages not yet processed.
const Unclassified = "unclassified"

type stats struct {
	Total          int
	CategoryCounts map[string]int
	PriorityBands  map[string]int
	HighPriority   []models.DigestItem
	Summaries      []string
}

// computeStats derives every number in a digest from the stored messages.
func computeStats(msgs []models.Message) stats {
	st := stats{
		Total:          len(msgs),
		CategoryCounts: make(map[string]int, len(models.Categories)+1),
		PriorityBands:  make(map[string]int, 5),
		HighPriority:   []models.DigestItem{},
	}
	for _, c := range models.Categories {
		st.CategoryCounts[string(c)] = 0
	}
	st.CategoryCounts[Unclassified] = 0
	for _, b := range []models.PriorityBand{models.BandLow, models.BandMedium, models.BandHigh, models.BandCritical, models.BandUnscored} {
		st.PriorityBands[string(b)] = 0
	}

	for _, m := range msgs {
		category := Unclassified
		if m.Processed && m.Category.Valid() {
			category = string(m.Category)
		}
		st.CategoryCounts[category]++
		st.PriorityBands[string(models.BandFor(m.Priority))]++

		if m.Priority >= models.HighPriorityThreshold {
			st.HighPriority = append(st.HighPriority, models.DigestItem{
				MessageID:  m.ID,
				Subject:    m.Subject,
				Sender:     m.Sender(),
				Category:   m.Category,
				Priority:   m.Priority,
				ReceivedAt: m.ReceivedAt,
			})
		}

		line := m.Summary
		if line == "" {
			line = m.BodyPreview
		}
		st.Summaries = append(st.Summaries, fmt.Sprintf("[%s] %s: %s", category, m.Subject, line))
	}

	slices.SortStableFunc(st.HighPriority, func(a, b models.DigestItem) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return b.ReceivedAt.Compare(a.ReceivedAt)
	})
	return st
}

// lines renders non-zero counts as "name: n" in a stable order.
func lines(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return out
}

const digestPrompt = `Write the narrative part of a professor's daily email digest for {{.Date}}. The numbers below are exact; do not restate or change them. Answer with a JSON object.

Messages received: {{.Total}}
By category: {{join .Categories ", "}}
By priority: {{join .Bands ", "}}
{{if .High}}High priority:
{{range .High}}- {{.}}
{{end}}{{end}}
Messages:
{{range .Summaries}}- {{truncate 300 .}}
{{end}}
Return "overview" (two or three sentences), "themes" (recurring issues or questions) and "recommendations" (concrete next steps for the professor).
`

type digestVars struct {
	Date       string
	Total      int
	Categories []string
	Bands      []string
	High       []string
	Summaries  []string
}

type narrative struct {
	Overview        string   `json:"overview"`
	Themes          []string `json:"themes"`
	Recommendations []string `json:"recommendations"`
}

func (n *narrative) Validate() error {
	if strings.TrimSpace(n.Overview) == "" {
		return errors.New("empty overview")
	}
	return nil
}

var digestTemplate = gateway.NewTemplate("digest", digestPrompt,
	&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"overview":        {Type: genai.TypeString},
			"themes":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"recommendations": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"overview", "themes", "recommendations"},
	},
	func(cause error) narrative {
		return narrative{
			Overview: fmt.Sprintf("The written overview is unavailable (%v); the statistics are complete.", cause),
			Themes:   []string{},
			Recommendations: []string{
				"Review the high-priority messages individually.",
			},
		}
	})
