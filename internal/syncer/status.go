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
	"encoding/json"
	"time"
)

// State is one of the named states of an account session's lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateBusy
	StateReconnecting
	// StateFailed is terminal: the session exhausted its reconnect budget
	// and will not retry until an operator restarts the account.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateBusy:
		return "busy"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state name for the control surface.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is a read-only snapshot of one session's health, served to
// operators through the control surface.
type Status struct {
	AccountID         string `json:"account_id"`
	State             State  `json:"state"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	LastError         string `json:"last_error,omitempty"`
}

// Tuning holds the timing and sizing knobs for account sessions. All values
// come from the caller; the engine never reads the process environment.
type Tuning struct {
	// WatchdogPeriod is the liveness probe interval. Must stay below the
	// server's idle-session timeout so the probe fires before the far end
	// drops an inactive connection.
	WatchdogPeriod time.Duration

	// InitialReconnectDelay seeds the exponential backoff.
	InitialReconnectDelay time.Duration

	// MaxReconnectAttempts caps consecutive reconnects before the session
	// halts in StateFailed.
	MaxReconnectAttempts int

	// FetchBatchLimit bounds how many of the most recent unseen messages
	// one fetch cycle retrieves.
	FetchBatchLimit int
}

const (
	// DefaultWatchdogPeriod probes just inside the common 30 minute
	// idle-session ceiling.
	DefaultWatchdogPeriod = 29 * time.Minute

	DefaultInitialReconnectDelay = 5 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultFetchBatchLimit       = 10
)

func (t Tuning) withDefaults() Tuning {
	if t.WatchdogPeriod <= 0 {
		t.WatchdogPeriod = DefaultWatchdogPeriod
	}
	if t.InitialReconnectDelay <= 0 {
		t.InitialReconnectDelay = DefaultInitialReconnectDelay
	}
	if t.MaxReconnectAttempts <= 0 {
		t.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if t.FetchBatchLimit <= 0 {
		t.FetchBatchLimit = DefaultFetchBatchLimit
	}
	return t
}
