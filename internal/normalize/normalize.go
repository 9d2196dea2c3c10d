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

// Package normalize converts raw RFC 5322 message bytes into the canonical
// record handed to the document sink and the classification pipeline.
package normalize

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/oneboxhq/syncd/internal/mailbox"
	"github.com/oneboxhq/syncd/internal/models"
)

// Message parses one raw fetched message into a models.Message. A failure
// here is per-message: the caller logs it and continues with the rest of
// the batch.
func Message(accountID string, raw mailbox.RawMessage) (*models.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("parse message headers: %w", err)
	}
	h := mr.Header

	subject, _ := h.Subject()
	msgID, _ := h.MessageID()

	date, err := h.Date()
	if err != nil || date.IsZero() {
		date = raw.InternalDate
	}

	var from models.Address
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		from = toAddress(list[0])
	}

	to := addresses(h, "To")
	if to == nil {
		to = []models.Address{}
	}

	var (
		textBody    string
		htmlBody    string
		attachments = []models.Attachment{}
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read message part: %w", err)
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("read %s body: %w", contentType, err)
			}
			switch {
			case strings.EqualFold(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.EqualFold(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			attachments = append(attachments, models.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	return &models.Message{
		CompositeID: models.CompositeID(accountID, msgID, raw.SeqNum),
		AccountID:   accountID,
		MessageID:   msgID,
		Subject:     subject,
		From:        from,
		To:          to,
		Cc:          addresses(h, "Cc"),
		Bcc:         addresses(h, "Bcc"),
		Date:        date,
		TextBody:    textBody,
		HTMLBody:    htmlBody,
		Attachments: attachments,
		SeqNum:      raw.SeqNum,
		Folder:      raw.Folder,
		IndexedAt:   time.Now().UTC(),
	}, nil
}

// addresses extracts a recipient header as normalized addresses. Returns nil
// when the header is absent or empty, so cc/bcc stay omitted in JSON.
func addresses(h mail.Header, key string) []models.Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]models.Address, 0, len(list))
	for _, a := range list {
		out = append(out, toAddress(a))
	}
	return out
}

func toAddress(a *mail.Address) models.Address {
	return models.Address{
		Address: strings.ToLower(strings.TrimSpace(a.Address)),
		Name:    a.Name,
	}
}
