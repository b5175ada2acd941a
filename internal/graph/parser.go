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

package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
)

// collectionResponse is one page of a messages or delta collection.
type collectionResponse struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

// graphMessage represents the selected fields of a Graph message.
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview      string `json:"bodyPreview"`
	ReceivedDateTime string `json:"receivedDateTime"`
	ConversationID   string `json:"conversationId"`
	IsRead           bool   `json:"isRead"`
	Removed          *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

func decodeCollection(body io.Reader) (*collectionResponse, error) {
	var page collectionResponse
	if err := json.NewDecoder(body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode graph page: %w", err)
	}
	return &page, nil
}

// toMessage converts a Graph message into the canonical model.
func (gm graphMessage) toMessage() models.Message {
	m := models.Message{
		ExternalID:     gm.ID,
		Subject:        gm.Subject,
		SenderName:     gm.From.EmailAddress.Name,
		SenderAddress:  gm.From.EmailAddress.Address,
		BodyPreview:    mailbox.Preview(gm.BodyPreview),
		ConversationID: gm.ConversationID,
		IsRead:         gm.IsRead,
		ReceivedAt:     parseTime(gm.ReceivedDateTime),
	}
	if strings.EqualFold(gm.Body.ContentType, "html") {
		m.BodyHTML = gm.Body.Content
	} else {
		m.BodyPlain = gm.Body.Content
	}
	mailbox.Normalize(&m)
	return m
}

// parseTime reads Graph's ISO 8601 timestamps. Unparseable values fall
// back to now so the message still sorts as recent.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
