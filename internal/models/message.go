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

// Package models defines the data structures shared across the sync service.
package models

import (
	"fmt"
	"time"
)

// Address represents a sender or recipient with an address and optional name.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Attachment holds metadata for a file attached to a message. Content bytes
// stay on the mail server; only metadata is indexed.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Message is the canonical record produced once per fetched message.
// It is immutable after creation; ownership transfers to the document
// sink on handoff.
//
// This struct's JSON serialisation is the contract consumed by the
// search indexer and the Python classification workers.
type Message struct {
	CompositeID string       `json:"composite_id"`
	AccountID   string       `json:"account_id"`
	MessageID   string       `json:"message_id,omitempty"` // protocol-level Message-Id, if present
	Subject     string       `json:"subject"`
	From        Address      `json:"from"`
	To          []Address    `json:"to"`
	Cc          []Address    `json:"cc,omitempty"`
	Bcc         []Address    `json:"bcc,omitempty"`
	Date        time.Time    `json:"date"`
	TextBody    string       `json:"text_body"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments"`
	SeqNum      uint32       `json:"seq_num"`
	Folder      string       `json:"folder"`
	IndexedAt   time.Time    `json:"indexed_at"`
}

// CompositeID builds the downstream dedup key for a message: the account ID
// combined with the protocol Message-Id, or a sequence-number fallback when
// the header is absent.
func CompositeID(accountID, messageID string, seqNum uint32) string {
	if messageID != "" {
		return accountID + "/" + messageID
	}
	return fmt.Sprintf("%s/seq-%d", accountID, seqNum)
}
