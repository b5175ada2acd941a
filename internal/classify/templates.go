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

package classify

import (
	"fmt"
	"math"
	"strings"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/genai"
	"github.com/inboxcopilot/pipeline/internal/models"
)

const categorizePrompt = `You help a professor triage email from students. Read the message below and answer with a JSON object.

From: {{.Sender}}
Subject: {{.Subject}}

{{truncate 6000 .Body}}
{{if .ThreadContext}}
Earlier in this conversation:
{{.ThreadContext}}
{{end}}{{if .Preferences}}
Professor preferences:
{{.Preferences}}
{{end}}
Pick exactly one category:
- academic_question: course content, assignments or concepts
- administrative: grades, deadlines or course logistics
- technical_issue: course platform or submission problems
- personal_matter: extensions, accommodations or personal circumstances
- appointment_request: office hours or meetings
- clarification: unclear instructions or requirements
- complaint: dissatisfaction with the course, grading or policies
- other: none of the above

Set priority_score from 1 to 10:
- 1-3 low: general, not time sensitive
- 4-6 medium: assignment help and clarifications
- 7-8 high: deadline problems and important questions
- 9-10 critical: emergencies and urgent academic matters

Pick one tone: {{join .Tones ", "}}.

Write a one or two sentence summary. Use hidden_intent for any underlying concern the student does not state outright, and set risk_flag when the message suggests an academic integrity problem.
`

var categorizeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"category":       {Type: genai.TypeString, Enum: categoryNames()},
		"priority_score": {Type: genai.TypeNumber, Description: "1 (lowest) to 10 (highest)"},
		"tone":           {Type: genai.TypeString, Enum: toneNames()},
		"summary":        {Type: genai.TypeString},
		"hidden_intent":  {Type: genai.TypeString},
		"risk_flag":      {Type: genai.TypeBoolean},
	},
	Required: []string{"category", "priority_score", "tone", "summary"},
}

// categorizeVars feeds categorizePrompt.
type categorizeVars struct {
	Sender        string
	Subject       string
	Body          string
	ThreadContext string
	Preferences   string
	Tones         []string
}

// categorizeResponse is the decoded model answer. priority_score may be
// fractional and is rounded to the nearest integer.
type categorizeResponse struct {
	Category      models.Category `json:"category"`
	PriorityScore float64         `json:"priority_score"`
	Tone          models.Tone     `json:"tone"`
	Summary       string          `json:"summary"`
	HiddenIntent  string          `json:"hidden_intent"`
	RiskFlag      bool            `json:"risk_flag"`
}

func (r *categorizeResponse) Validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("unknown category %q", r.Category)
	}
	if !r.Tone.Valid() {
		return fmt.Errorf("unknown tone %q", r.Tone)
	}
	if r.PriorityScore < models.MinPriority || r.PriorityScore > models.MaxPriority {
		return fmt.Errorf("priority_score %v outside 1-10", r.PriorityScore)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("empty summary")
	}
	return nil
}

func (r categorizeResponse) priority() int {
	return int(math.Round(r.PriorityScore))
}

var categorizeTemplate = gateway.NewTemplate("categorize", categorizePrompt, categorizeSchema,
	func(cause error) categorizeResponse {
		return categorizeResponse{
			Category:      models.CategoryOther,
			PriorityScore: 5,
			Tone:          models.ToneProfessional,
			Summary:       fmt.Sprintf("Automatic classification unavailable (%v).", cause),
			HiddenIntent:  "Unable to determine",
		}
	})

func categoryNames() []string {
	out := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		out[i] = string(c)
	}
	return out
}

func toneNames() []string {
	out := make([]string, len(models.Tones))
	for i, t := range models.Tones {
		out[i] = string(t)
	}
	return out
}
