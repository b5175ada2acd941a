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

package imapsource

import (
	"bytes"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
)

// parseMessage reads an RFC 5322 message into the canonical model. The
// conversation is keyed on the root of the References chain so replies
// group with their original.
func parseMessage(raw []byte) models.Message {
	var m models.Message

	// An unknown charset still yields a usable reader.
	mr, _ := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		m.BodyPlain = string(raw)
		mailbox.Normalize(&m)
		return m
	}
	defer mr.Close()

	h := mr.Header
	m.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		m.SenderName, m.SenderAddress = from[0].Name, from[0].Address
	}
	if date, err := h.Date(); err == nil {
		m.ReceivedAt = date.UTC()
	}
	m.ConversationID = conversationID(h)

	for {
		part, err := mr.NextPart()
		if err != nil {
			break // io.EOF or a malformed part; keep what was read
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && m.BodyPlain == "":
			m.BodyPlain = string(body)
		case strings.HasPrefix(contentType, "text/html") && m.BodyHTML == "":
			m.BodyHTML = string(body)
		}
	}

	mailbox.Normalize(&m)
	return m
}

func conversationID(h mail.Header) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if parents, err := h.MsgIDList("In-Reply-To"); err == nil && len(parents) > 0 {
		return parents[0]
	}
	id, _ := h.MessageID()
	return id
}
