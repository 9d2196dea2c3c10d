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
	"errors"
	"testing"
)

// TestCredentials_Addr verifies dial target formatting, including IPv6.
func TestCredentials_Addr(t *testing.T) {
	c := Credentials{Host: "imap.example.com", Port: 993}
	if got := c.Addr(); got != "imap.example.com:993" {
		t.Errorf("addr = %q", got)
	}

	c = Credentials{Host: "::1", Port: 143}
	if got := c.Addr(); got != "[::1]:143" {
		t.Errorf("ipv6 addr = %q", got)
	}
}

// TestEventType_String verifies event names used in logs.
func TestEventType_String(t *testing.T) {
	cases := map[EventType]string{
		EventReady:          "ready",
		EventTransportError: "transport_error",
		EventClosed:         "closed",
		EventNewActivity:    "new_activity",
		EventItemRemoved:    "item_removed",
		EventType(99):       "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

// TestErrors_Unwrap verifies the typed errors expose their cause.
func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("boom")

	ce := &ConnectError{Addr: "imap.example.com:993", Err: cause}
	if !errors.Is(ce, cause) {
		t.Error("ConnectError should unwrap to its cause")
	}

	pe := &ProbeError{Err: cause}
	if !errors.Is(pe, cause) {
		t.Error("ProbeError should unwrap to its cause")
	}
}
