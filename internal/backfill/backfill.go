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

// Package backfill provides historical mailbox ingestion: search a lookback
// window, fetch the matching messages in chunks, and push them through the
// normal sink + classification path. Intended for seeding the index on new
// deployments.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oneboxhq/syncd/internal/mailbox"
	"github.com/oneboxhq/syncd/internal/models"
	"github.com/oneboxhq/syncd/internal/normalize"
)

// Sink receives normalized message records.
type Sink interface {
	Submit(ctx context.Context, msg *models.Message) error
}

// Pipeline enqueues classification work.
type Pipeline interface {
	Enqueue(ctx context.Context, msg *models.Message) error
}

// Deduper filters already-forwarded composite IDs.
type Deduper interface {
	IsNew(ctx context.Context, id string) (bool, error)
}

// defaultChunkSize bounds one fetch round-trip during backfill.
const defaultChunkSize = 50

// Request defines the scope of a historical ingestion run.
type Request struct {
	Accounts []mailbox.Credentials
	Since    time.Duration // lookback window (e.g. 168h = 1 week)
}

// Result summarises a completed backfill run.
type Result struct {
	AccountResults []AccountResult
	TotalIndexed   int
	TotalSkipped   int
	Elapsed        time.Duration
}

// AccountResult tracks per-account backfill progress.
type AccountResult struct {
	AccountID string
	Found     int
	Indexed   int
	Skipped   int
	Errors    int
}

// Runner executes backfill requests against the mailbox provider.
type Runner struct {
	dialer    mailbox.Dialer
	sink      Sink
	pipeline  Pipeline
	dedup     Deduper
	chunkSize int
}

// NewRunner creates a backfill runner. pipeline and dedup are optional.
func NewRunner(dialer mailbox.Dialer, sink Sink, pipeline Pipeline, dedup Deduper) *Runner {
	return &Runner{
		dialer:    dialer,
		sink:      sink,
		pipeline:  pipeline,
		dedup:     dedup,
		chunkSize: defaultChunkSize,
	}
}

// Run backfills every account in the request sequentially and returns the
// aggregated result. Per-account failures don't abort the run.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Accounts) == 0 {
		return nil, fmt.Errorf("backfill request has no accounts")
	}

	start := time.Now()
	result := &Result{}

	for _, creds := range req.Accounts {
		if ctx.Err() != nil {
			break
		}
		ar := r.backfillAccount(ctx, creds, req.Since)
		result.AccountResults = append(result.AccountResults, ar)
		result.TotalIndexed += ar.Indexed
		result.TotalSkipped += ar.Skipped
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

func (r *Runner) backfillAccount(ctx context.Context, creds mailbox.Credentials, since time.Duration) AccountResult {
	result := AccountResult{AccountID: creds.AccountID}

	slog.Info("backfill starting",
		"account", creds.AccountID,
		"since", since,
	)

	conn, err := r.dialer.Dial(ctx, creds)
	if err != nil {
		slog.Error("backfill connect failed",
			"account", creds.AccountID,
			"error", err,
		)
		result.Errors++
		return result
	}
	defer conn.Close()

	cutoff := time.Now().UTC().Add(-since)
	uids, err := conn.Search(ctx, mailbox.Criteria{Since: cutoff})
	if err != nil {
		slog.Error("backfill search failed",
			"account", creds.AccountID,
			"error", err,
		)
		result.Errors++
		return result
	}
	result.Found = len(uids)

	for _, chunk := range chunks(uids, r.chunkSize) {
		if ctx.Err() != nil {
			return result
		}

		raws, err := conn.FetchBatch(ctx, chunk)
		if err != nil {
			slog.Error("backfill fetch failed",
				"account", creds.AccountID,
				"count", len(chunk),
				"error", err,
			)
			result.Errors++
			continue
		}

		for _, raw := range raws {
			r.forward(ctx, creds.AccountID, raw, &result)
		}
	}

	slog.Info("backfill account done",
		"account", creds.AccountID,
		"found", result.Found,
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"errors", result.Errors,
	)
	return result
}

// forward pushes one message through normalize, sink, and classification,
// counting the outcome. Per-message failures never abort the account.
func (r *Runner) forward(ctx context.Context, accountID string, raw mailbox.RawMessage, result *AccountResult) {
	msg, err := normalize.Message(accountID, raw)
	if err != nil {
		slog.Warn("backfill normalize failed, skipping",
			"account", accountID,
			"uid", uint32(raw.UID),
			"error", err,
		)
		result.Errors++
		return
	}

	if r.dedup != nil {
		isNew, err := r.dedup.IsNew(ctx, msg.CompositeID)
		if err != nil {
			slog.Warn("backfill dedup check failed, proceeding", "error", err)
		} else if !isNew {
			result.Skipped++
			return
		}
	}

	if err := r.sink.Submit(ctx, msg); err != nil {
		slog.Warn("backfill sink submit failed, skipping",
			"composite_id", msg.CompositeID,
			"error", err,
		)
		result.Errors++
		return
	}
	result.Indexed++

	if r.pipeline != nil {
		if err := r.pipeline.Enqueue(ctx, msg); err != nil {
			slog.Warn("backfill classification enqueue failed",
				"composite_id", msg.CompositeID,
				"error", err,
			)
		}
	}
}

// chunks splits uids into slices of at most size elements, preserving the
// ascending order of the input.
func chunks(uids []mailbox.UID, size int) [][]mailbox.UID {
	if size <= 0 {
		size = defaultChunkSize
	}
	var out [][]mailbox.UID
	for len(uids) > 0 {
		n := size
		if n > len(uids) {
			n = len(uids)
		}
		out = append(out, uids[:n])
		uids = uids[n:]
	}
	return out
}
