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

package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inboxcopilot/pipeline/internal/gateway"
	"github.com/inboxcopilot/pipeline/internal/genai"
)

const scorePrompt = `Rate how relevant each email is to the search "{{.Query}}". Use 0 for unrelated and 1 for an exact answer. Answer with a JSON object {"scores":[{"id":"c1","score":0.0}]} containing every id below.

{{range .Candidates}}[{{.ID}}] From {{.Sender}} | Subject: {{.Subject}}
{{truncate 400 .Text}}

{{end}}`

type candidateVar struct {
	ID      string
	Sender  string
	Subject string
	Text    string
}

type scoreVars struct {
	Query      string
	Candidates []candidateVar
}

type scoredID struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type scoreResponse struct {
	Scores []scoredID `json:"scores"`
}

var scoreTemplate = gateway.NewTemplate("score", scorePrompt,
	&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"scores": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"id":    {Type: genai.TypeString},
						"score": {Type: genai.TypeNumber},
					},
					Required: []string{"id", "score"},
				},
			},
		},
		Required: []string{"scores"},
	},
	// No scores: every candidate scores 0 and falls below the threshold.
	func(error) scoreResponse { return scoreResponse{} })

const answerPrompt = `A professor searched their inbox for "{{.Query}}". Answer using only the emails below, most relevant first, and cite them by number. If they do not answer the question, say what is missing. Answer with a JSON object containing "answer" and "sources" (the email numbers you used, as strings).

{{range $i, $c := .Contexts}}Email {{inc $i}} from {{$c.Sender}} on {{$c.Date}}, "{{$c.Subject}}":
{{truncate 800 $c.Text}}

{{end}}`

type answerContext struct {
	Sender  string
	Date    string
	Subject string
	Text    string
}

type answerVars struct {
	Query    string
	Contexts []answerContext
}

type answerResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func (r *answerResponse) Validate() error {
	if strings.TrimSpace(r.Answer) == "" {
		return errors.New("empty answer")
	}
	return nil
}

const (
	unavailableAnswer        = "A written answer is unavailable right now. The matching messages are listed by relevance."
	rankingUnavailableAnswer = "Relevance ranking is unavailable right now, so no results are shown. Please try again shortly."
)

var answerTemplate = gateway.NewTemplate("answer", answerPrompt,
	&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"answer":  {Type: genai.TypeString},
			"sources": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"answer"},
	},
	func(error) answerResponse { return answerResponse{Answer: unavailableAnswer} })

func noMatchAnswer(query string) string {
	return fmt.Sprintf("No messages matched %q.", query)
}
