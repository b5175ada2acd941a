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
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"

	"github.com/inboxcopilot/pipeline/internal/models"
)

// PreviewLength is the maximum preview length in runes.
const PreviewLength = 200

// PlainText renders an HTML body as readable text. Script and style
// content is dropped and block elements become line breaks.
func PlainText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseLines(sb.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "blockquote":
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr":
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

// collapseLines squeezes runs of whitespace inside each line and drops
// blank lines.
func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Preview returns a single-line excerpt of text.
func Preview(text string) string {
	preview := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(preview) <= PreviewLength {
		return preview
	}
	runes := []rune(preview)
	return string(runes[:PreviewLength]) + "..."
}

// ParseSender splits a From header into display name and address.
func ParseSender(from string) (name, address string) {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Name, addr.Address
	}
	// Malformed headers still usually look like "Name <addr>".
	if i := strings.Index(from, "<"); i >= 0 {
		name = strings.Trim(strings.TrimSpace(from[:i]), `"`)
		address = strings.TrimSuffix(strings.TrimSpace(from[i+1:]), ">")
		return name, address
	}
	return "", strings.TrimSpace(from)
}

// Normalize fills BodyPlain from BodyHTML when the provider sent HTML only,
// and derives BodyPreview when it is missing.
func Normalize(m *models.Message) {
	m.BodyPlain = strings.TrimSpace(m.BodyPlain)
	if m.BodyPlain == "" && m.BodyHTML != "" {
		m.BodyPlain = PlainText(m.BodyHTML)
	}
	if m.BodyPreview == "" {
		m.BodyPreview = Preview(m.BodyPlain)
	}
	m.Subject = strings.TrimSpace(m.Subject)
}
