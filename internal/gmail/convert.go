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

package gmail

import (
	"encoding/base64"
	"html"
	"slices"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
)

func convertMessage(msg *gmailapi.Message) models.Message {
	m := models.Message{
		ExternalID:     msg.Id,
		ConversationID: msg.ThreadId,
		IsRead:         !slices.Contains(msg.LabelIds, "UNREAD"),
		BodyPreview:    mailbox.Preview(html.UnescapeString(msg.Snippet)),
		ReceivedAt:     time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		m.Subject = header(msg.Payload.Headers, "Subject")
		m.SenderName, m.SenderAddress = mailbox.ParseSender(header(msg.Payload.Headers, "From"))
		m.BodyPlain, m.BodyHTML = bodies(msg.Payload)
	}
	mailbox.Normalize(&m)
	return m
}

func header(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// bodies walks the MIME tree and returns the first text/plain and
// text/html parts.
func bodies(part *gmailapi.MessagePart) (plain, htmlBody string) {
	var walk func(p *gmailapi.MessagePart)
	walk = func(p *gmailapi.MessagePart) {
		if p.Body != nil && p.Body.Data != "" && p.Filename == "" {
			switch {
			case strings.HasPrefix(p.MimeType, "text/plain") && plain == "":
				plain = decodeData(p.Body.Data)
			case strings.HasPrefix(p.MimeType, "text/html") && htmlBody == "":
				htmlBody = decodeData(p.Body.Data)
			}
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(part)
	return plain, htmlBody
}

// decodeData decodes Gmail's URL-safe base64, padded or not.
func decodeData(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(b)
	}
	return ""
}
