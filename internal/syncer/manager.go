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

package syncer

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/oneboxhq/syncd/internal/mailbox"
)

// ErrAlreadyRunning is returned by StartAccount when a session for the
// account is already active.
var ErrAlreadyRunning = errors.New("account sync already running")

// Manager is the single owner of the account→session mapping. Sessions
// never register or deregister themselves; start and stop go through here.
type Manager struct {
	deps   Deps
	tuning Tuning

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a sync manager. Zero tuning fields get defaults.
func NewManager(deps Deps, tuning Tuning) *Manager {
	return &Manager{
		deps:     deps,
		tuning:   tuning.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// StartAccount creates and starts a session for the account. The connection
// is established asynchronously: there is no synchronous connect error, and
// operators observe session health through Status. The session owns its
// lifetime context and outlives the caller; ending it goes through
// StopAccount.
func (m *Manager) StartAccount(creds mailbox.Credentials) error {
	if creds.AccountID == "" {
		return errors.New("account id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[creds.AccountID]; ok {
		return ErrAlreadyRunning
	}

	s := newSession(creds, m.deps, m.tuning)
	m.sessions[creds.AccountID] = s
	s.start()

	slog.Info("account sync started", "account", creds.AccountID)
	return nil
}

// StopAccount stops and removes the account's session. No-op when the
// account is not running.
func (m *Manager) StopAccount(accountID string) {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	if ok {
		delete(m.sessions, accountID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.stop()
	slog.Info("account sync stopped", "account", accountID)
}

// StopAll stops every running session concurrently and returns once all
// have finished cleanup.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.stop()
		}(s)
	}
	wg.Wait()

	slog.Info("all account sessions stopped", "count", len(sessions))
}

// Status returns the health snapshot for one account, or false when no
// session exists for it.
func (m *Manager) Status(accountID string) (Status, bool) {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	m.mu.Unlock()

	if !ok {
		return Status{}, false
	}
	return s.Status(), true
}

// Statuses returns snapshots for all running sessions, keyed by account ID.
func (m *Manager) Statuses() map[string]Status {
	m.mu.Lock()
	sessions := make(map[string]*Session, len(m.sessions))
	for id, s := range m.sessions {
		sessions[id] = s
	}
	m.mu.Unlock()

	out := make(map[string]Status, len(sessions))
	for id, s := range sessions {
		out[id] = s.Status()
	}
	return out
}
