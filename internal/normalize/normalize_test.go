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

package normalize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/oneboxhq/syncd/internal/mailbox"
)

func raw(uid mailbox.UID, body string) mailbox.RawMessage {
	return mailbox.RawMessage{
		UID:          uid,
		SeqNum:       uint32(uid),
		Folder:       "INBOX",
		InternalDate: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		Body:         []byte(body),
	}
}

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

// TestMessage_PlainText verifies header extraction and composite ID for a
// simple plain-text message.
func TestMessage_PlainText(t *testing.T) {
	body := crlf(
		"From: Alice Example <ALICE@Example.com>",
		"To: Bob <bob@example.com>, carol@example.com",
		"Cc: Dave <dave@example.com>",
		"Subject: quarterly numbers",
		"Date: Mon, 02 Jun 2025 09:30:00 +0000",
		"Message-ID: <abc-123@example.com>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"the numbers are in",
		"",
	)

	msg, err := Message("acct-1", raw(42, body))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if msg.CompositeID != "acct-1/abc-123@example.com" {
		t.Errorf("composite id = %q", msg.CompositeID)
	}
	if msg.Subject != "quarterly numbers" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.From.Address != "alice@example.com" {
		t.Errorf("from address not lowercased: %q", msg.From.Address)
	}
	if msg.From.Name != "Alice Example" {
		t.Errorf("from name = %q", msg.From.Name)
	}
	if len(msg.To) != 2 || msg.To[0].Address != "bob@example.com" || msg.To[1].Address != "carol@example.com" {
		t.Errorf("to = %v", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Address != "dave@example.com" {
		t.Errorf("cc = %v", msg.Cc)
	}
	if !strings.Contains(msg.TextBody, "the numbers are in") {
		t.Errorf("text body = %q", msg.TextBody)
	}
	if msg.SeqNum != 42 || msg.Folder != "INBOX" {
		t.Errorf("bookkeeping: seq=%d folder=%q", msg.SeqNum, msg.Folder)
	}
	if !msg.Date.Equal(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("date = %v", msg.Date)
	}
}

// TestMessage_MissingMessageID verifies the sequence-number fallback for the
// composite ID.
func TestMessage_MissingMessageID(t *testing.T) {
	body := crlf(
		"From: x@example.com",
		"To: y@example.com",
		"Subject: no id",
		"Content-Type: text/plain",
		"",
		"hi",
		"",
	)

	msg, err := Message("acct-1", raw(7, body))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if msg.CompositeID != "acct-1/seq-7" {
		t.Errorf("composite id = %q, want acct-1/seq-7", msg.CompositeID)
	}
	if msg.MessageID != "" {
		t.Errorf("message id = %q, want empty", msg.MessageID)
	}
}

// TestMessage_MissingDateFallsBackToInternal verifies the server's internal
// date is used when the Date header is absent.
func TestMessage_MissingDateFallsBackToInternal(t *testing.T) {
	body := crlf(
		"From: x@example.com",
		"To: y@example.com",
		"Subject: undated",
		"Content-Type: text/plain",
		"",
		"hi",
		"",
	)

	r := raw(1, body)
	msg, err := Message("acct-1", r)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if !msg.Date.Equal(r.InternalDate) {
		t.Errorf("date = %v, want internal date %v", msg.Date, r.InternalDate)
	}
}

// TestMessage_MultipartWithAttachment verifies body part selection and
// attachment metadata extraction (content bytes are not retained).
func TestMessage_MultipartWithAttachment(t *testing.T) {
	body := crlf(
		"From: sender@example.com",
		"To: rcpt@example.com",
		"Subject: report attached",
		"Message-ID: <multi@example.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"see attachment",
		"--outer",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>see attachment</p>",
		"--outer",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"%PDF-1.4 fake content",
		"--outer--",
		"",
	)

	msg, err := Message("acct-1", raw(9, body))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if !strings.Contains(msg.TextBody, "see attachment") {
		t.Errorf("text body = %q", msg.TextBody)
	}
	if !strings.Contains(msg.HTMLBody, "<p>see attachment</p>") {
		t.Errorf("html body = %q", msg.HTMLBody)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("filename = %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("content type = %q", att.ContentType)
	}
	if att.Size != int64(len("%PDF-1.4 fake content")) {
		t.Errorf("size = %d", att.Size)
	}
}

// TestMessage_EmptyRecipientsOmittedInJSON verifies the serialised contract:
// to is always present (possibly empty), cc/bcc disappear when absent.
func TestMessage_EmptyRecipientsOmittedInJSON(t *testing.T) {
	body := crlf(
		"From: x@example.com",
		"Subject: undisclosed recipients",
		"Message-ID: <undisclosed@example.com>",
		"Content-Type: text/plain",
		"",
		"hi",
		"",
	)

	msg, err := Message("acct-1", raw(3, body))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if msg.To == nil {
		t.Error("to should be non-nil even when empty")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	js := string(data)

	if !strings.Contains(js, `"to":[]`) {
		t.Errorf("expected empty to array in JSON: %s", js)
	}
	if strings.Contains(js, `"cc"`) || strings.Contains(js, `"bcc"`) {
		t.Errorf("absent cc/bcc should be omitted from JSON: %s", js)
	}
	if !strings.Contains(js, `"attachments":[]`) {
		t.Errorf("expected empty attachments array in JSON: %s", js)
	}
}

// TestMessage_UnparsableFails verifies a malformed message is a per-message
// error, surfaced to the caller.
func TestMessage_UnparsableFails(t *testing.T) {
	body := crlf(
		"From: x@example.com",
		"Content-Transfer-Encoding: not-an-encoding",
		"",
		"body",
		"",
	)

	if _, err := Message("acct-1", raw(5, body)); err == nil {
		t.Fatal("expected error for unparsable message")
	}
}
