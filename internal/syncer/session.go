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

// Package syncer drives persistent mailbox synchronization: one session per
// account holds a live connection in server-push listen mode, fetches and
// normalizes new messages, and forwards them to the document sink and the
// classification pipeline. The manager owns the collection of sessions.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oneboxhq/syncd/internal/mailbox"
	"github.com/oneboxhq/syncd/internal/models"
	"github.com/oneboxhq/syncd/internal/normalize"
)

// Sink receives normalized message records. Failures are non-fatal per
// message.
type Sink interface {
	Submit(ctx context.Context, msg *models.Message) error
}

// Pipeline hands a normalized message to the classification workers.
// Invoked once per message after successful sink submission.
type Pipeline interface {
	Enqueue(ctx context.Context, msg *models.Message) error
}

// Deduper filters composite IDs that were already forwarded, so reconnect
// re-fetches don't enqueue duplicate classification work.
type Deduper interface {
	IsNew(ctx context.Context, id string) (bool, error)
}

// Deps bundles the collaborators shared by every session. Pipeline and
// Dedup are optional.
type Deps struct {
	Dialer   mailbox.Dialer
	Sink     Sink
	Pipeline Pipeline
	Dedup    Deduper
}

// Session is the state machine for one account:
//
//	Disconnected → Connecting → Listening ⇄ Busy
//
// with an error path from any connected state through Reconnecting back to
// Connecting, and terminal Failed once the reconnect budget is exhausted.
// All session state is mutated only by the run goroutine; readers get
// snapshots via Status.
type Session struct {
	creds  mailbox.Credentials
	deps   Deps
	tuning Tuning
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the run goroutine. conn is additionally guarded by mu so
	// stop can close a handle with a command still in flight.
	conn      mailbox.Conn
	events    <-chan mailbox.Event
	wd        *watchdog
	reconnect *time.Timer
	attempts  int

	mu     sync.Mutex
	status Status
}

func newSession(creds mailbox.Credentials, deps Deps, tuning Tuning) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		creds:  creds,
		deps:   deps,
		tuning: tuning,
		log:    slog.With("account", creds.AccountID),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: Status{AccountID: creds.AccountID, State: StateDisconnected},
	}
}

func (s *Session) start() {
	go s.run()
}

// stop cancels all timers and the watchdog, closes the connection, and
// waits for the run goroutine to finish. The handle is closed before the
// wait: a command blocked inside the transport errors out instead of
// stalling shutdown, and the closed transport discards its result.
func (s *Session) stop() {
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	<-s.done
}

// Status returns a snapshot of the session's health.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) run() {
	defer close(s.done)
	s.wd = newWatchdog(s.tuning.WatchdogPeriod)
	defer s.teardown()

	s.log.Info("session starting")
	s.dial()

	for {
		var reconnectC <-chan time.Time
		if s.reconnect != nil {
			reconnectC = s.reconnect.C
		}

		select {
		case <-s.ctx.Done():
			return

		case <-reconnectC:
			s.reconnect = nil
			s.dial()

		case <-s.wd.C():
			s.checkLiveness()

		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			s.handleEvent(ev)
		}
	}
}

// dial establishes the connection. Readiness arrives asynchronously as an
// EventReady on the connection's event stream.
func (s *Session) dial() {
	s.setState(StateConnecting)

	conn, err := s.deps.Dialer.Dial(s.ctx, s.creds)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn("connect failed", "error", err)
		s.scheduleReconnect(err)
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.events = conn.Events()
}

func (s *Session) handleEvent(ev mailbox.Event) {
	switch ev.Type {
	case mailbox.EventReady:
		s.attempts = 0
		if err := s.conn.EnterListenMode(); err != nil {
			s.log.Warn("enter listen mode failed", "error", err)
			s.connectionLost(err)
			return
		}
		s.wd.start()
		s.setState(StateListening)
		s.log.Info("session listening")

	case mailbox.EventNewActivity:
		if s.state() != StateListening {
			// Signal raced a transition out of Listening; dropped by
			// design — the post-reconnect search catches the message.
			return
		}
		s.runFetchCycles()

	case mailbox.EventItemRemoved:
		s.log.Debug("message removed on server")

	case mailbox.EventTransportError:
		s.log.Warn("transport error", "error", ev.Err)
		s.connectionLost(ev.Err)

	case mailbox.EventClosed:
		s.log.Warn("connection closed unexpectedly")
		s.connectionLost(errors.New("connection closed"))
	}
}

// checkLiveness handles a watchdog tick: briefly leave listen mode, probe,
// and resume. Probe failure is handled exactly like a transport error.
func (s *Session) checkLiveness() {
	if s.state() != StateListening || s.conn == nil {
		return
	}
	if err := s.conn.SuspendListenMode(); err != nil {
		s.log.Warn("watchdog suspend failed", "error", err)
		s.connectionLost(err)
		return
	}
	if err := s.conn.Probe(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn("watchdog probe failed", "error", err)
		s.connectionLost(err)
		return
	}
	if err := s.conn.EnterListenMode(); err != nil {
		s.connectionLost(err)
		return
	}
	s.log.Debug("watchdog probe ok")
}

// runFetchCycles executes fetch cycles until no activity signal arrived
// during the last one, then resumes listening. Any number of signals
// received while Busy collapse into exactly one follow-up cycle.
func (s *Session) runFetchCycles() {
	for {
		s.setState(StateBusy)
		if err := s.fetchCycle(); err != nil {
			s.connectionLost(err)
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		again, fatal := s.drainPending()
		if fatal != nil {
			s.connectionLost(fatal)
			return
		}
		if !again {
			break
		}
	}

	if err := s.conn.EnterListenMode(); err != nil {
		s.connectionLost(err)
		return
	}
	s.setState(StateListening)
}

// fetchCycle suspends listen mode, searches for unseen messages, fetches up
// to the most recent FetchBatchLimit of them in ascending order, and
// forwards each. Search and fetch failures are logged and leave the cycle;
// the next activity signal will catch the missed messages. Only a failed
// suspend is connection-fatal here.
func (s *Session) fetchCycle() error {
	if err := s.conn.SuspendListenMode(); err != nil {
		return err
	}

	uids, err := s.conn.Search(s.ctx, mailbox.Criteria{Unseen: true})
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		s.log.Warn("search failed", "error", err)
		return nil
	}
	if len(uids) == 0 {
		return nil
	}
	if limit := s.tuning.FetchBatchLimit; len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	raws, err := s.conn.FetchBatch(s.ctx, uids)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		s.log.Warn("fetch failed", "count", len(uids), "error", err)
		return nil
	}

	for _, raw := range raws {
		if s.ctx.Err() != nil {
			return nil
		}
		s.forward(raw)
	}
	return nil
}

// forward normalizes one raw message and hands it downstream. Every failure
// in here is per-message: log, skip, continue with the rest of the batch.
func (s *Session) forward(raw mailbox.RawMessage) {
	msg, err := normalize.Message(s.creds.AccountID, raw)
	if err != nil {
		s.log.Warn("normalize failed, skipping message",
			"uid", uint32(raw.UID),
			"error", err,
		)
		return
	}

	if err := s.deps.Sink.Submit(s.ctx, msg); err != nil {
		s.log.Warn("sink submit failed, skipping message",
			"composite_id", msg.CompositeID,
			"error", err,
		)
		return
	}

	if s.deps.Dedup != nil {
		isNew, err := s.deps.Dedup.IsNew(s.ctx, msg.CompositeID)
		if err != nil {
			s.log.Warn("dedup check failed, classifying anyway", "error", err)
		} else if !isNew {
			s.log.Debug("skipping duplicate classification",
				"composite_id", msg.CompositeID,
			)
			return
		}
	}

	if s.deps.Pipeline != nil {
		if err := s.deps.Pipeline.Enqueue(s.ctx, msg); err != nil {
			s.log.Warn("classification enqueue failed",
				"composite_id", msg.CompositeID,
				"error", err,
			)
		}
	}
}

// drainPending empties the buffered event queue after a fetch cycle.
// Activity signals collapse into a single follow-up; a buffered transport
// error or close wins over the follow-up.
func (s *Session) drainPending() (again bool, fatal error) {
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				return false, errors.New("connection closed")
			}
			switch ev.Type {
			case mailbox.EventNewActivity:
				again = true
			case mailbox.EventTransportError:
				return false, ev.Err
			case mailbox.EventClosed:
				return false, errors.New("connection closed")
			}
		default:
			return again, nil
		}
	}
}

// connectionLost tears down the current connection and moves the session to
// Reconnecting, or Failed once the attempt budget is exhausted.
func (s *Session) connectionLost(cause error) {
	s.wd.stop()
	s.closeConn()
	s.scheduleReconnect(cause)
}

func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	s.events = nil
}

func (s *Session) scheduleReconnect(cause error) {
	s.attempts++
	if s.attempts > s.tuning.MaxReconnectAttempts {
		s.mu.Lock()
		s.status.State = StateFailed
		s.status.ReconnectAttempts = s.attempts - 1
		s.status.LastError = cause.Error()
		s.mu.Unlock()
		s.log.Error("reconnect attempts exhausted, session halted",
			"attempts", s.attempts-1,
			"error", cause,
		)
		return
	}

	delay := backoffDelay(s.tuning.InitialReconnectDelay, s.attempts)
	s.mu.Lock()
	s.status.State = StateReconnecting
	s.status.ReconnectAttempts = s.attempts
	s.status.LastError = cause.Error()
	s.mu.Unlock()
	s.log.Info("reconnect scheduled", "attempt", s.attempts, "delay", delay)

	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	s.reconnect = time.NewTimer(delay)
}

// backoffDelay computes initialDelay × 2^(attempt−1).
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	return initial << (attempt - 1)
}

func (s *Session) teardown() {
	s.wd.stop()
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.closeConn()
	s.setState(StateDisconnected)
	s.log.Info("session stopped")
}

func (s *Session) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.status.State = state
	s.status.ReconnectAttempts = s.attempts
	s.mu.Unlock()
}
