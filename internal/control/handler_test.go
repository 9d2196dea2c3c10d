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

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oneboxhq/syncd/internal/mailbox"
	"github.com/oneboxhq/syncd/internal/models"
	"github.com/oneboxhq/syncd/internal/syncer"
)

// --- Stub mailbox provider ---

type stubConn struct {
	mu     sync.Mutex
	events chan mailbox.Event
	closed bool
}

func newStubConn() *stubConn {
	c := &stubConn{events: make(chan mailbox.Event, 4)}
	c.events <- mailbox.Event{Type: mailbox.EventReady}
	return c
}

func (c *stubConn) EnterListenMode() error   { return nil }
func (c *stubConn) SuspendListenMode() error { return nil }
func (c *stubConn) Probe(context.Context) error {
	return nil
}
func (c *stubConn) Search(context.Context, mailbox.Criteria) ([]mailbox.UID, error) {
	return nil, nil
}
func (c *stubConn) FetchBatch(context.Context, []mailbox.UID) ([]mailbox.RawMessage, error) {
	return nil, nil
}
func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}
func (c *stubConn) Events() <-chan mailbox.Event { return c.events }

type stubDialer struct{}

func (stubDialer) Dial(context.Context, mailbox.Credentials) (mailbox.Conn, error) {
	return newStubConn(), nil
}

type nopSink struct{}

func (nopSink) Submit(context.Context, *models.Message) error { return nil }

// --- Test helpers ---

func newTestServer(t *testing.T) (*httptest.Server, *syncer.Manager) {
	t.Helper()

	manager := syncer.NewManager(syncer.Deps{
		Dialer: stubDialer{},
		Sink:   nopSink{},
	}, syncer.Tuning{})
	t.Cleanup(manager.StopAll)

	mux := http.NewServeMux()
	NewHandler(manager).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, manager
}

func startBody() string {
	return `{"host": "imap.example.com", "username": "alice@example.com", "password": "secret", "tls": true}`
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- Tests ---

// TestStartAccount verifies a valid start request is accepted and the
// session becomes observable through the status endpoint.
func TestStartAccount(t *testing.T) {
	server, _ := newTestServer(t)

	resp := post(t, server.URL+"/accounts/alice/start", startBody())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if accepted["account_id"] != "alice" || accepted["state"] != "starting" {
		t.Errorf("response = %v", accepted)
	}

	// Session becomes visible immediately; listening shortly after.
	deadline := time.Now().Add(2 * time.Second)
	for {
		statusResp, err := http.Get(server.URL + "/accounts/alice")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		var status struct {
			AccountID string `json:"account_id"`
			State     string `json:"state"`
		}
		err = json.NewDecoder(statusResp.Body).Decode(&status)
		statusResp.Body.Close()
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.State == "listening" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never reached listening, last state %q", status.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestStartAccount_Validation verifies bad requests are rejected.
func TestStartAccount_Validation(t *testing.T) {
	server, _ := newTestServer(t)

	resp := post(t, server.URL+"/accounts/alice/start", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d, want 400", resp.StatusCode)
	}

	resp = post(t, server.URL+"/accounts/alice/start", `{"password": "x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing host/username: status = %d, want 400", resp.StatusCode)
	}
}

// TestStartAccount_Conflict verifies starting a running account answers 409.
func TestStartAccount_Conflict(t *testing.T) {
	server, _ := newTestServer(t)

	if resp := post(t, server.URL+"/accounts/alice/start", startBody()); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first start: status = %d", resp.StatusCode)
	}
	if resp := post(t, server.URL+"/accounts/alice/start", startBody()); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start: status = %d, want 409", resp.StatusCode)
	}
}

// TestStopAccount verifies stop removes the session and is idempotent.
func TestStopAccount(t *testing.T) {
	server, _ := newTestServer(t)

	post(t, server.URL+"/accounts/alice/start", startBody())

	resp := post(t, server.URL+"/accounts/alice/stop", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("stop: status = %d, want 204", resp.StatusCode)
	}

	// Status is gone after stop.
	statusResp, err := http.Get(server.URL + "/accounts/alice")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusNotFound {
		t.Errorf("status after stop = %d, want 404", statusResp.StatusCode)
	}

	// Stopping again is still a 204.
	resp = post(t, server.URL+"/accounts/alice/stop", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("second stop: status = %d, want 204", resp.StatusCode)
	}
}

// TestStopAll verifies the bulk stop endpoint.
func TestStopAll(t *testing.T) {
	server, manager := newTestServer(t)

	post(t, server.URL+"/accounts/alice/start", startBody())
	post(t, server.URL+"/accounts/bob/start", startBody())

	resp := post(t, server.URL+"/accounts/stop", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("stop all: status = %d, want 204", resp.StatusCode)
	}
	if got := len(manager.Statuses()); got != 0 {
		t.Errorf("sessions after stop all = %d, want 0", got)
	}
}

// TestAllStatuses verifies the list endpoint keys sessions by account.
func TestAllStatuses(t *testing.T) {
	server, _ := newTestServer(t)

	post(t, server.URL+"/accounts/alice/start", startBody())
	post(t, server.URL+"/accounts/bob/start", startBody())

	resp, err := http.Get(server.URL + "/accounts")
	if err != nil {
		t.Fatalf("GET /accounts: %v", err)
	}
	defer resp.Body.Close()

	var statuses map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 2 {
		t.Errorf("statuses = %d accounts, want 2", len(statuses))
	}
	if _, ok := statuses["alice"]; !ok {
		t.Error("missing alice")
	}
	if _, ok := statuses["bob"]; !ok {
		t.Error("missing bob")
	}
}

// TestStatusNotFound verifies unknown accounts answer 404.
func TestStatusNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/accounts/nobody")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
