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

package drafting

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/genai"
)

const replyPrompt = `You are drafting a reply from a professor to a student email. Answer with a JSON object containing "draft" and a short "reasoning".

Original email from {{.Sender}}, subject "{{.Subject}}":
{{truncate 6000 .Body}}

Category: {{.Category}}
Thread context: {{.ThreadSummary}}
{{if .Policies}}Course policies:
{{.Policies}}
{{end}}
Write in a {{.Tone}} tone and keep the reply {{.Length}}.
Answer questions directly, state next steps for requests, and cite a course policy only when it applies.
{{- with .Guidance}}
For this category: {{.}}
{{- end}}
End the draft with this signature exactly:
{{.Signature}}
`

var categoryGuidance = map[string]string{
	"academic_question":   "give educational guidance and point to course resources.",
	"administrative":      "reference the relevant policy and describe the procedure.",
	"technical_issue":     "offer troubleshooting steps or direct the student to support.",
	"personal_matter":     "show empathy and lay out accommodation options.",
	"appointment_request": "propose times or point to the scheduling system.",
	"clarification":       "explain the requirement clearly and in detail.",
	"complaint":           "acknowledge the concern professionally and offer a way forward.",
}

var lengthGuidance = map[string]string{
	"short":  "brief, two or three sentences",
	"medium": "concise, one or two short paragraphs",
	"long":   "thorough but focused",
}

type replyVars struct {
	Sender        string
	Subject       string
	Body          string
	Category      string
	ThreadSummary string
	Policies      string
	Tone          string
	Length        string
	Guidance      string
	Signature     string
}

type replyResponse struct {
	Draft     string `json:"draft"`
	Reasoning string `json:"reasoning"`
}

func (r *replyResponse) Validate() error {
	if strings.TrimSpace(r.Draft) == "" {
		return errors.New("empty draft")
	}
	return nil
}

// acknowledgement is the policy-neutral reply used when generation fails.
const acknowledgement = "Thank you for your email. I have received your message and will follow up with you shortly."

var replyTemplate = gateway.NewTemplate("reply", replyPrompt,
	&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"draft":     {Type: genai.TypeString},
			"reasoning": {Type: genai.TypeString},
		},
		Required: []string{"draft"},
	},
	func(cause error) replyResponse {
		return replyResponse{
			Draft:     acknowledgement,
			Reasoning: fmt.Sprintf("Generic acknowledgement; draft generation failed: %v", cause),
		}
	})

const threadSummaryPrompt = `Summarize this email thread for a professor. Answer with a JSON object.

{{range $i, $m := .Messages}}Message {{inc $i}} from {{$m.Sender}} ({{$m.Date}}):
{{truncate 2000 $m.Body}}

{{end}}Keep "summary" under 200 words. List three to five "key_points" focused on decisions and open items. Put the student's most recent question or request in "latest_question", or leave it empty when there is none.
`

type threadMessage struct {
	Sender string
	Date   string
	Body   string
}

type threadVars struct {
	Messages []threadMessage
}

type threadResponse struct {
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points"`
	LatestQuestion string   `json:"latest_question"`
}

func (r *threadResponse) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("empty summary")
	}
	return nil
}

var threadSummaryTemplate = gateway.NewTemplate("thread_summary", threadSummaryPrompt,
	&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":         {Type: genai.TypeString},
			"key_points":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"latest_question": {Type: genai.TypeString},
		},
		Required: []string{"summary"},
	},
	func(cause error) threadResponse {
		return threadResponse{
			Summary:   fmt.Sprintf("Thread summary unavailable (%v).", cause),
			KeyPoints: []string{},
		}
	})
