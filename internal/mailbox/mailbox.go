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

// Package mailbox defines the provider capability the sync engine consumes:
// a stateful connection to one remote mailbox with a server-push listen mode,
// plus the IMAP implementation of it.
package mailbox

import (
	"context"
	"net"
	"strconv"
	"time"
)

// OAuth2Config holds client-credentials settings for accounts that
// authenticate with SASL OAUTHBEARER instead of a password.
type OAuth2Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Credentials identifies and authenticates one mailbox account. Immutable
// once a session starts; owned exclusively by that session.
type Credentials struct {
	AccountID string
	Host      string
	Port      int
	Username  string
	Password  string
	UseTLS    bool
	Folder    string // defaults to INBOX
	OAuth2    *OAuth2Config
}

// Addr returns the host:port dial target.
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UID is a protocol-level message identifier, unique within one folder of
// one account for the lifetime of the connection's UIDVALIDITY.
type UID uint32

// Criteria selects messages for Search.
type Criteria struct {
	Unseen bool
	Since  time.Time
}

// RawMessage is one fetched message as raw RFC 5322 bytes plus the protocol
// bookkeeping the normalizer needs.
type RawMessage struct {
	UID          UID
	SeqNum       uint32
	Folder       string
	InternalDate time.Time
	Body         []byte
}

// EventType enumerates the observable state transitions of a connection.
type EventType int

const (
	// EventReady fires once the connection is authenticated and the folder
	// is selected.
	EventReady EventType = iota
	// EventTransportError fires on an asynchronous error from an
	// established connection. The connection is unusable afterwards.
	EventTransportError
	// EventClosed fires when the connection is torn down.
	EventClosed
	// EventNewActivity fires when the server signals new or changed
	// messages while in listen mode.
	EventNewActivity
	// EventItemRemoved fires when the server signals a message removal
	// while in listen mode.
	EventItemRemoved
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventTransportError:
		return "transport_error"
	case EventClosed:
		return "closed"
	case EventNewActivity:
		return "new_activity"
	case EventItemRemoved:
		return "item_removed"
	default:
		return "unknown"
	}
}

// Event is one observable connection state change. Err is set only for
// EventTransportError.
type Event struct {
	Type EventType
	Err  error
}

// Conn is one live session to one mailbox account. Command methods are
// request/response and valid only while listen mode is suspended;
// EnterListenMode switches the server into push notification delivery.
//
// Implementations must be safe for use by a single driving goroutine;
// events may be emitted from internal goroutines.
type Conn interface {
	// EnterListenMode switches into server-push mode. Non-blocking; the
	// connection stays in listen mode until SuspendListenMode.
	EnterListenMode() error

	// SuspendListenMode leaves listen mode so commands can be issued.
	// No-op when not currently listening.
	SuspendListenMode() error

	// Search returns identifiers of messages matching the criteria,
	// in ascending order.
	Search(ctx context.Context, criteria Criteria) ([]UID, error)

	// FetchBatch retrieves raw message bytes for the given identifiers,
	// returned in ascending UID order.
	FetchBatch(ctx context.Context, uids []UID) ([]RawMessage, error)

	// Probe issues a lightweight no-op command to verify liveness.
	Probe(ctx context.Context) error

	// Close releases the transport. Idempotent.
	Close() error

	// Events exposes the connection's event stream. The channel is closed
	// after Close.
	Events() <-chan Event
}

// Dialer establishes connections to mailbox accounts.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}
