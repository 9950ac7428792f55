// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// =============================================================================
// Event Model
// =============================================================================

// Event is one decoded settlement contract log.
type Event struct {
	Type        ActivityType
	GroupID     uint64
	Actor       common.Address
	GroupName   string   // GroupStarted only
	Amount      *big.Int // contribution, bid, or winning discount
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Describe renders the event as a feed entry description.
func (e Event) Describe() string {
	switch e.Type {
	case ActivityGroupStarted:
		return fmt.Sprintf("Circle %q started (group %d)", e.GroupName, e.GroupID)
	case ActivityContribution:
		return fmt.Sprintf("%s USDC contributed to group %d", FormatUSDC(e.Amount), e.GroupID)
	case ActivityBidPlaced:
		return fmt.Sprintf("Bid of %s USDC discount on group %d", FormatUSDC(e.Amount), e.GroupID)
	case ActivityAuctionSettled:
		return fmt.Sprintf("Auction settled for group %d at %s USDC discount", e.GroupID, FormatUSDC(e.Amount))
	default:
		return fmt.Sprintf("Event on group %d", e.GroupID)
	}
}

// Entry converts the event into its activity feed form.
func (e Event) Entry() ActivityEntry {
	entry := ActivityEntry{
		Type:        e.Type,
		Description: e.Describe(),
		GroupID:     e.GroupID,
		Actor:       e.Actor,
		TxHash:      e.TxHash,
		BlockNumber: e.BlockNumber,
		Timestamp:   time.Now().UTC(),
	}
	if e.Amount != nil {
		entry.Amount = FormatUSDC(e.Amount)
	}
	return entry
}

// LogSource abstracts the contract log query surface so the ingestor
// can be tested without a node.
type LogSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterEvents(ctx context.Context, from, to uint64) ([]Event, error)
}

// =============================================================================
// Ingestor
// =============================================================================

// DefaultChunkSize is the block span per log query during backfill.
// Public RPC endpoints commonly cap eth_getLogs ranges; 2000 stays
// under every provider limit seen in practice.
const DefaultChunkSize = 2000

// Ingestor reads contract events into the activity feed.
//
// It maintains a scan cursor (last block already scanned) that only
// moves forward. Blocks whose query fails are logged and skipped, not
// retried: the feed is a recency window, not an audit log, and stalling
// the cursor on one bad range would starve everything after it.
type Ingestor struct {
	source    LogSource
	feed      *Feed
	chunkSize uint64

	mu     sync.Mutex
	cursor uint64

	// OnEvents, when set, is called with each decoded batch after the
	// feed is updated. Used for metrics.
	OnEvents func(events []Event)
}

// NewIngestor creates an Ingestor starting at startBlock (typically the
// contract deployment block).
func NewIngestor(source LogSource, feed *Feed, startBlock uint64) *Ingestor {
	return &Ingestor{
		source:    source,
		feed:      feed,
		chunkSize: DefaultChunkSize,
		cursor:    startBlock,
	}
}

// Cursor returns the last scanned block.
func (in *Ingestor) Cursor() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cursor
}

// Backfill scans from the cursor to the current head in chunks,
// ascending, so the feed ends up holding the newest events. Chunking is
// invisible in the result: events land in the same order a single query
// would produce. Failed chunks are skipped.
//
// Call once at startup before serving reads.
func (in *Ingestor) Backfill(ctx context.Context) error {
	head, err := in.source.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	in.mu.Lock()
	from := in.cursor + 1
	in.mu.Unlock()

	if from > head {
		return nil
	}

	slog.Info("Backfilling activity feed", "from", from, "to", head)

	var total int
	for start := from; start <= head; start += in.chunkSize {
		end := start + in.chunkSize - 1
		if end > head {
			end = head
		}

		events, err := in.source.FilterEvents(ctx, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Skipping unscannable block range", "from", start, "to", end, "error", err)
		} else {
			in.ingest(events)
			total += len(events)
		}

		in.mu.Lock()
		in.cursor = end
		in.mu.Unlock()
	}

	slog.Info("Backfill complete", "events", total, "cursor", head)
	return nil
}

// PollOnce scans one chunk forward from the cursor, never more than
// chunkSize blocks in a single query. A poller that fell behind catches
// up one chunk per tick instead of issuing a query the provider would
// reject for spanning too many blocks.
func (in *Ingestor) PollOnce(ctx context.Context) error {
	head, err := in.source.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	in.mu.Lock()
	from := in.cursor + 1
	in.mu.Unlock()

	if from > head {
		return nil
	}

	to := head
	if max := from + in.chunkSize - 1; to > max {
		to = max
	}

	events, ferr := in.source.FilterEvents(ctx, from, to)

	// The cursor advances to the queried upper bound even when the query
	// failed. Re-scanning a bad range next tick would duplicate any
	// events that did decode and risks wedging the poller on a
	// permanently failing range.
	in.mu.Lock()
	in.cursor = to
	in.mu.Unlock()

	if ferr != nil {
		return fmt.Errorf("poll [%d,%d]: %w", from, to, ferr)
	}

	in.ingest(events)
	return nil
}

func (in *Ingestor) ingest(events []Event) {
	for _, ev := range events {
		in.feed.Add(ev.Entry())
	}
	if in.OnEvents != nil && len(events) > 0 {
		in.OnEvents(events)
	}
}

// =============================================================================
// Poller
// =============================================================================

// Poller runs PollOnce on a fixed interval until stopped.
type Poller struct {
	ingestor *Ingestor
	interval time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPoller wraps an Ingestor with a ticker loop. Non-positive
// intervals fall back to 15s.
func NewPoller(ingestor *Ingestor, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		ingestor: ingestor,
		interval: interval,
	}
}

// Start launches the polling loop. Calling Start on a running Poller is
// a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		slog.Warn("Event poller already running")
		return
	}
	p.running = true
	p.done = make(chan struct{})

	p.wg.Add(1)
	go p.run(ctx)

	slog.Info("Event poller started", "interval", p.interval)
}

// Stop halts the polling loop and waits for the in-flight poll to
// finish. Safe to call multiple times.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("Event poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.ingestor.PollOnce(ctx); err != nil {
				slog.Error("Event poll failed", "error", err)
			}
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
