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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultDialTimeout = 30 * time.Second
	defaultFolder      = "INBOX"

	// eventBuffer sizes the per-connection event channel. Push signals
	// beyond this are dropped; the session coalesces signals anyway.
	eventBuffer = 32
)

// IMAPDialer establishes IMAP connections with LOGIN or OAUTHBEARER auth.
type IMAPDialer struct {
	dialTimeout time.Duration
}

// NewIMAPDialer creates an IMAP dialer. A non-positive timeout selects the
// default of 30 seconds.
func NewIMAPDialer(dialTimeout time.Duration) *IMAPDialer {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &IMAPDialer{dialTimeout: dialTimeout}
}

// Dial connects, authenticates, and selects the account's folder. On success
// the returned connection has already queued an EventReady on its event
// stream.
func (d *IMAPDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	addr := creds.Addr()

	netDialer := &net.Dialer{Timeout: d.dialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if creds.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: netDialer,
			Config:    &tls.Config{ServerName: creds.Host},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	folder := creds.Folder
	if folder == "" {
		folder = defaultFolder
	}

	c := &imapConn{
		accountID: creds.AccountID,
		folder:    folder,
		events:    make(chan Event, eventBuffer),
	}

	c.cli = imapclient.New(conn, &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					c.emit(Event{Type: EventNewActivity})
				}
			},
			Expunge: func(seqNum uint32) {
				c.emit(Event{Type: EventItemRemoved})
			},
		},
	})

	if err := c.cli.WaitGreeting(); err != nil {
		conn.Close()
		return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("greeting: %w", err)}
	}

	if err := d.authenticate(ctx, c.cli, creds); err != nil {
		c.cli.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	if _, err := c.cli.Select(folder, nil).Wait(); err != nil {
		c.cli.Close()
		return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("select %s: %w", folder, err)}
	}

	slog.Info("mailbox connected",
		"account", creds.AccountID,
		"addr", addr,
		"folder", folder,
	)

	c.emit(Event{Type: EventReady})
	return c, nil
}

// authenticate logs in with a password, or with SASL OAUTHBEARER when the
// account carries OAuth2 client credentials.
func (d *IMAPDialer) authenticate(ctx context.Context, cli *imapclient.Client, creds Credentials) error {
	if creds.OAuth2 == nil {
		if err := cli.Login(creds.Username, creds.Password).Wait(); err != nil {
			return fmt.Errorf("login %s: %w", creds.Username, err)
		}
		return nil
	}

	tokenCfg := &clientcredentials.Config{
		ClientID:     creds.OAuth2.ClientID,
		ClientSecret: creds.OAuth2.ClientSecret,
		TokenURL:     creds.OAuth2.TokenURL,
		Scopes:       creds.OAuth2.Scopes,
	}
	token, err := tokenCfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("oauth2 token: %w", err)
	}

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: creds.Username,
		Token:    token.AccessToken,
		Host:     creds.Host,
		Port:     creds.Port,
	})
	if err := cli.Authenticate(saslClient); err != nil {
		return fmt.Errorf("oauthbearer auth %s: %w", creds.Username, err)
	}
	return nil
}

// imapConn is the IMAP-backed Conn. The driving session issues commands
// sequentially; push signals arrive from the imapclient reader goroutine
// through emit.
type imapConn struct {
	accountID string
	folder    string
	cli       *imapclient.Client
	events    chan Event

	mu           sync.Mutex
	idle         *imapclient.IdleCommand
	idleDone     chan struct{}
	closed       bool
	eventsClosed bool
}

func (c *imapConn) EnterListenMode() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("connection closed")
	}
	if c.idle != nil {
		return nil
	}

	cmd, err := c.cli.Idle()
	if err != nil {
		return fmt.Errorf("enter idle: %w", err)
	}
	done := make(chan struct{})
	c.idle = cmd
	c.idleDone = done
	go c.watchIdle(cmd, done)
	return nil
}

// watchIdle waits for the IDLE command to terminate. Termination that was
// not requested through SuspendListenMode or Close means the transport died
// under us.
func (c *imapConn) watchIdle(cmd *imapclient.IdleCommand, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	c.mu.Lock()
	unexpected := c.idle == cmd && !c.closed
	if unexpected {
		c.idle = nil
	}
	c.mu.Unlock()

	if unexpected {
		if err == nil {
			err = errors.New("idle terminated by server")
		}
		c.emit(Event{Type: EventTransportError, Err: err})
	}
}

func (c *imapConn) SuspendListenMode() error {
	c.mu.Lock()
	cmd := c.idle
	done := c.idleDone
	c.idle = nil
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("suspend idle: %w", err)
	}
	// Wait for the DONE round-trip so the pipeline is free for commands.
	<-done
	return nil
}

func (c *imapConn) Search(ctx context.Context, criteria Criteria) ([]UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc := &imap.SearchCriteria{}
	if criteria.Unseen {
		sc.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	if !criteria.Since.IsZero() {
		sc.Since = criteria.Since
	}

	data, err := c.cli.UIDSearch(sc, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	raw := data.AllUIDs()
	uids := make([]UID, len(raw))
	for i, u := range raw {
		uids[i] = UID(u)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (c *imapConn) FetchBatch(ctx context.Context, uids []UID) ([]RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	imapUIDs := make([]imap.UID, len(uids))
	for i, u := range uids {
		imapUIDs[i] = imap.UID(u)
	}
	set := imap.UIDSetNum(imapUIDs...)

	opts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	bufs, err := c.cli.Fetch(set, opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	msgs := make([]RawMessage, 0, len(bufs))
	for _, buf := range bufs {
		body := buf.FindBodySection(&imap.FetchItemBodySection{})
		if body == nil {
			slog.Warn("fetched message has no body section",
				"account", c.accountID,
				"uid", uint32(buf.UID),
			)
			continue
		}
		msgs = append(msgs, RawMessage{
			UID:          UID(buf.UID),
			SeqNum:       buf.SeqNum,
			Folder:       c.folder,
			InternalDate: buf.InternalDate,
			Body:         body,
		})
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })
	return msgs, nil
}

func (c *imapConn) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &ProbeError{Err: err}
	}
	if err := c.cli.Noop().Wait(); err != nil {
		return &ProbeError{Err: err}
	}
	return nil
}

func (c *imapConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	idle := c.idle
	c.idle = nil
	c.mu.Unlock()

	if idle != nil {
		_ = idle.Close()
	}
	err := c.cli.Close()

	c.mu.Lock()
	if !c.eventsClosed {
		select {
		case c.events <- Event{Type: EventClosed}:
		default:
		}
		c.eventsClosed = true
		close(c.events)
	}
	c.mu.Unlock()
	return err
}

func (c *imapConn) Events() <-chan Event { return c.events }

// emit delivers an event without blocking. Dropped events are only push
// signals on a saturated buffer; the session coalesces those.
func (c *imapConn) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		slog.Debug("dropping mailbox event, buffer full",
			"account", c.accountID,
			"event", ev.Type.String(),
		)
	}
}
