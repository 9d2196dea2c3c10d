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

// Package sink provides the Postgres-backed document sink. Normalized
// message records land in a full-text indexed table; the search front end
// queries it independently of this service.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oneboxhq/syncd/internal/models"
)

// Store writes normalized message records to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a document store backed by the given Postgres pool.
// It ensures the messages table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure message schema: %w", err)
	}
	slog.Info("document store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id           BIGSERIAL PRIMARY KEY,
			composite_id TEXT NOT NULL UNIQUE,
			account_id   TEXT NOT NULL,
			message_id   TEXT DEFAULT '',
			subject      TEXT DEFAULT '',
			sender       TEXT DEFAULT '',
			recipients   JSONB NOT NULL DEFAULT '{}',
			date         TIMESTAMPTZ,
			text_body    TEXT DEFAULT '',
			html_body    TEXT DEFAULT '',
			attachments  JSONB NOT NULL DEFAULT '[]',
			seq_num      BIGINT NOT NULL DEFAULT 0,
			folder       TEXT DEFAULT '',
			indexed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			search_tsv   TSVECTOR GENERATED ALWAYS AS (
				setweight(to_tsvector('simple', coalesce(subject, '')), 'A') ||
				setweight(to_tsvector('simple', coalesce(sender, '')), 'B') ||
				setweight(to_tsvector('simple', coalesce(text_body, '')), 'C')
			) STORED
		);
		CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id);
		CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);
		CREATE INDEX IF NOT EXISTS idx_messages_search ON messages USING GIN(search_tsv);
	`)
	return err
}

// Submit inserts one normalized record. Records are keyed by composite_id;
// a re-forwarded message after a reconnect is a clean no-op.
func (s *Store) Submit(ctx context.Context, msg *models.Message) error {
	recipients, err := json.Marshal(map[string][]models.Address{
		"to":  msg.To,
		"cc":  msg.Cc,
		"bcc": msg.Bcc,
	})
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages
			(composite_id, account_id, message_id, subject, sender, recipients,
			 date, text_body, html_body, attachments, seq_num, folder, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (composite_id) DO NOTHING
	`, msg.CompositeID, msg.AccountID, msg.MessageID, msg.Subject,
		msg.From.Address, recipients, msg.Date, msg.TextBody, msg.HTMLBody,
		attachments, int64(msg.SeqNum), msg.Folder, msg.IndexedAt)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.CompositeID, err)
	}
	return nil
}

// CountByAccount returns how many records are indexed for an account.
func (s *Store) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE account_id = $1
	`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages for %s: %w", accountID, err)
	}
	return n, nil
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
