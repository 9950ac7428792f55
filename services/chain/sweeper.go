// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SettlementBackend is the contract surface the sweeper needs.
type SettlementBackend interface {
	GroupCount(ctx context.Context) (uint64, error)
	GroupByID(ctx context.Context, id uint64) (Group, error)
	SettleAuction(ctx context.Context, groupID uint64) (TxResult, error)
}

// SessionCloser finalizes a group's off-chain session after its cycle
// settles. Best effort: a close failure never blocks or reverts the
// settlement itself.
type SessionCloser interface {
	CloseSession(ctx context.Context, groupID uint64) error
}

// SweeperConfig configures the settlement sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Default: 30s.
	Interval time.Duration
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned int // groups examined
	Settled int // settleAuction issued and mined
	Skipped int // due but precondition unmet (escrow incomplete)
	Errors  int // read or settle failures
}

// Sweeper periodically scans every group and settles auctions past
// their deadline.
//
// Each group is handled in isolation: one group's failure never stops
// the scan. The sweeper holds no settlement state of its own; deadline
// and settled-flag both come from the contract on every pass, so
// overlapping or repeated sweeps are harmless. At-most-once settlement
// is enforced by the contract's own settled guard, not here.
type Sweeper struct {
	backend  SettlementBackend
	sessions SessionCloser // optional
	interval time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	// OnSettled, when set, is called after each successful settlement.
	// Used for metrics and the activity feed.
	OnSettled func(group Group, result TxResult)
}

// NewSweeper creates a Sweeper. sessions may be nil when no off-chain
// layer is attached.
func NewSweeper(backend SettlementBackend, sessions SessionCloser, cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		backend:  backend,
		sessions: sessions,
		interval: interval,
		clock:    time.Now,
	}
}

// Start launches the periodic sweep loop. No-op if already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Warn("Settlement sweeper already running")
		return
	}
	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.run(ctx)

	slog.Info("Settlement sweeper started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
// Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("Settlement sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepAndLog(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	result, err := s.RunNow(ctx)
	if err != nil {
		slog.Error("Sweep pass failed", "error", err)
		return
	}
	if result.Settled > 0 || result.Errors > 0 {
		slog.Info("Sweep pass complete",
			"scanned", result.Scanned,
			"settled", result.Settled,
			"skipped", result.Skipped,
			"errors", result.Errors,
		)
	}
}

// RunNow executes one sweep pass immediately. It only fails outright
// when the group count itself cannot be read; everything per group is
// absorbed into the result counters.
func (s *Sweeper) RunNow(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	count, err := s.backend.GroupCount(ctx)
	if err != nil {
		return result, err
	}

	now := s.clock()
	for id := uint64(1); id <= count; id++ {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		s.sweepGroup(ctx, id, now, &result)
	}
	return result, nil
}

func (s *Sweeper) sweepGroup(ctx context.Context, id uint64, now time.Time, result *SweepResult) {
	group, err := s.backend.GroupByID(ctx, id)
	if err != nil {
		slog.Error("Sweep: unreadable group", "group_id", id, "error", err)
		result.Errors++
		return
	}
	result.Scanned++

	if !group.SettlementDue(now) {
		return
	}

	if !group.EscrowSufficient() {
		// Contributions still arriving; retry on a later pass.
		slog.Debug("Sweep: escrow incomplete, deferring",
			"group_id", id,
			"escrow", FormatUSDC(group.TotalEscrow),
			"required", FormatUSDC(group.RequiredEscrow()),
		)
		result.Skipped++
		return
	}

	tx, err := s.backend.SettleAuction(ctx, id)
	if err != nil {
		slog.Error("Sweep: settlement failed", "group_id", id, "error", err)
		result.Errors++
		return
	}
	result.Settled++

	slog.Info("Auction settled",
		"group_id", id,
		"cycle", group.CurrentCycle,
		"winner", group.HighestBidder.Hex(),
		"discount", FormatUSDC(group.HighestDiscount),
		"tx", tx.TxHash.Hex(),
	)

	if s.sessions != nil {
		if err := s.sessions.CloseSession(ctx, id); err != nil {
			slog.Warn("Sweep: session close failed after settlement",
				"group_id", id, "error", err)
		}
	}
	if s.OnSettled != nil {
		s.OnSettled(group, tx)
	}
}
