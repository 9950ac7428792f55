// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator executes validated intents against the
// settlement contract and the off-chain gateway, and serves the
// protocol's read surface.
//
// # Description
//
// The orchestrator is the single writer in the system. Voice and text
// input become typed intents (services/nlp), each intent maps to
// exactly one protocol action, and every action either completes with
// a mined transaction or returns a typed error. Bids additionally go
// through the off-chain gateway when it is available; losing the
// gateway degrades the orchestrator to basic mode where everything
// runs on-chain, it never stops service.
//
// # Inputs
//
// Typed nlp.Intent values, plus read requests from the HTTP handlers.
//
// # Outputs
//
// Result values describing what happened, suitable for direct JSON
// rendering.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Neurvinch/eth-global-hackmoney/services/chain"
	"github.com/Neurvinch/eth-global-hackmoney/services/nlp"
	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator/observability"
	"github.com/Neurvinch/eth-global-hackmoney/services/yellow"
)

// ChainBackend is the contract surface the orchestrator writes and
// reads. Satisfied by *chain.Client.
type ChainBackend interface {
	CreateGroup(ctx context.Context, spec chain.CreateGroupSpec) (chain.TxResult, error)
	JoinGroup(ctx context.Context, groupID uint64) (chain.TxResult, error)
	DepositContribution(ctx context.Context, groupID uint64) (chain.TxResult, error)
	PlaceBid(ctx context.Context, groupID uint64, discount *big.Int) (chain.TxResult, error)
	SettleAuction(ctx context.Context, groupID uint64) (chain.TxResult, error)
	WithdrawDividends(ctx context.Context) (chain.TxResult, error)

	GroupCount(ctx context.Context) (uint64, error)
	GroupByID(ctx context.Context, id uint64) (chain.Group, error)
	GetHighestBid(ctx context.Context, groupID uint64) (common.Address, *big.Int, error)
	IsMemberOf(ctx context.Context, groupID uint64, addr common.Address) (bool, error)
	PendingDividends(ctx context.Context, addr common.Address) (*big.Int, error)
	SignerAddress() common.Address
}

// TreasuryBackend is the USDC surface. Satisfied by *chain.Treasury.
type TreasuryBackend interface {
	EnsureAllowance(ctx context.Context, amount *big.Int) error
	BatchDistribute(ctx context.Context, payouts []chain.Payout) []chain.PayoutResult
	Status(ctx context.Context) (chain.TreasuryStatus, error)
}

// OffChainSessions is the gateway surface. Satisfied by
// *yellow.SessionManager.
type OffChainSessions interface {
	Ready() bool
	StartSession(ctx context.Context, groupID uint64) (string, error)
	SubmitBid(ctx context.Context, groupID uint64, bid yellow.BidState) error
	CloseSession(ctx context.Context, groupID uint64) error
	OpenSessions() []uint64
}

// Result describes one executed intent.
type Result struct {
	Intent     nlp.IntentType        `json:"intent"`
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Summary    string                `json:"summary,omitempty"`
	GroupID    uint64                `json:"group_id,omitempty"`
	TxHash     string                `json:"tx_hash,omitempty"`
	OffChain   bool                  `json:"off_chain,omitempty"`
	BasicMode  bool                  `json:"basic_mode,omitempty"`
	Fallback   bool                  `json:"fallback,omitempty"`
	Treasury   *chain.TreasuryStatus `json:"treasury,omitempty"`
	Transcript string                `json:"transcript,omitempty"`
}

// GroupSummary is the JSON rendering of one circle.
type GroupSummary struct {
	ID              uint64 `json:"id"`
	Name            string `json:"name"`
	Contribution    string `json:"contribution"`
	MaxMembers      uint64 `json:"max_members"`
	CurrentCycle    uint64 `json:"current_cycle"`
	TotalEscrow     string `json:"total_escrow"`
	HighestBidder   string `json:"highest_bidder,omitempty"`
	HighestDiscount string `json:"highest_discount"`
	AuctionEndsAt   string `json:"auction_ends_at"`
	AuctionSettled  bool   `json:"auction_settled"`
	IsActive        bool   `json:"is_active"`
}

// ProtocolStatus is the aggregate view served by the status endpoint.
type ProtocolStatus struct {
	Wallet       string                `json:"wallet"`
	TotalGroups  uint64                `json:"total_groups"`
	ActiveGroups int                   `json:"active_groups"`
	BasicMode    bool                  `json:"basic_mode"`
	OpenSessions int                   `json:"open_sessions"`
	Treasury     *chain.TreasuryStatus `json:"treasury,omitempty"`
}

// Orchestrator executes intents. Shared state (the degradation flag)
// is mutex guarded via basicMode's accessors; all backends are safe
// for concurrent use, so Orchestrator is too.
type Orchestrator struct {
	chain    ChainBackend
	treasury TreasuryBackend
	sessions OffChainSessions // nil when no gateway is configured
	feed     *chain.Feed
	metrics  *observability.Metrics // nil disables metrics

	basicMode basicModeFlag
}

// New wires an Orchestrator. sessions and metrics may be nil; a nil
// sessions starts in basic mode permanently.
func New(backend ChainBackend, treasury TreasuryBackend, sessions OffChainSessions, feed *chain.Feed, metrics *observability.Metrics) *Orchestrator {
	o := &Orchestrator{
		chain:    backend,
		treasury: treasury,
		sessions: sessions,
		feed:     feed,
		metrics:  metrics,
	}
	if sessions == nil || !sessions.Ready() {
		o.enterBasicMode("gateway unavailable at startup")
	}
	return o
}

// BasicMode reports whether off-chain operations are disabled.
func (o *Orchestrator) BasicMode() bool {
	return o.basicMode.get()
}

func (o *Orchestrator) enterBasicMode(reason string) {
	if o.basicMode.set() {
		slog.Warn("Degrading to basic mode, all operations on-chain", "reason", reason)
		if o.metrics != nil {
			o.metrics.SetBasicMode(true)
		}
	}
}

// ExecuteIntent runs one intent to completion.
func (o *Orchestrator) ExecuteIntent(ctx context.Context, intent nlp.Intent) (Result, error) {
	start := time.Now()
	result, err := o.execute(ctx, intent)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if o.metrics != nil {
		o.metrics.RecordIntent(string(intent.Type), status, time.Since(start))
	}

	result.Intent = intent.Type
	result.Summary = intent.Summary
	result.Transcript = intent.Transcript
	result.BasicMode = o.BasicMode()
	result.Fallback = intent.IsFallback
	result.Success = err == nil
	return result, err
}

func (o *Orchestrator) execute(ctx context.Context, intent nlp.Intent) (Result, error) {
	switch intent.Type {
	case nlp.IntentCreateGroup:
		return o.createGroup(ctx, intent.CreateGroup)
	case nlp.IntentJoinGroup:
		return o.joinGroup(ctx, intent.JoinGroup)
	case nlp.IntentContribute:
		return o.contribute(ctx, intent.Contribute)
	case nlp.IntentBid:
		return o.bid(ctx, intent.Bid)
	case nlp.IntentFinalize:
		return o.finalize(ctx, intent.Finalize)
	case nlp.IntentWithdrawDividends:
		return o.withdrawDividends(ctx)
	case nlp.IntentCheckTreasury:
		return o.checkTreasury(ctx)
	default:
		return Result{}, &UnknownIntentError{Type: intent.Type}
	}
}

// =============================================================================
// Intent Handlers
// =============================================================================

func (o *Orchestrator) createGroup(ctx context.Context, p *nlp.CreateGroupParams) (Result, error) {
	if p == nil {
		return Result{}, ErrMissingParams
	}

	spec := chain.CreateGroupSpec{
		Name:               p.Name,
		Contribution:       chain.ToUSDC(p.ContributionUSDC),
		MaxMembers:         p.MaxMembers,
		CycleDuration:      time.Duration(p.CycleDays) * 24 * time.Hour,
		AuctionDuration:    time.Duration(p.AuctionDays) * 24 * time.Hour,
		MinDefaultDiscount: chain.ToUSDC(p.MinDiscountUSDC),
	}

	tx, err := o.chain.CreateGroup(ctx, spec)
	if err != nil {
		return Result{}, err
	}

	// Group ids are dense, so the new circle is the last one.
	groupID, err := o.chain.GroupCount(ctx)
	if err != nil {
		slog.Warn("Created group but could not read its id", "error", err)
	}

	o.openSessionBestEffort(ctx, groupID)

	return Result{
		Message: "Circle \"" + p.Name + "\" created",
		GroupID: groupID,
		TxHash:  tx.TxHash.Hex(),
	}, nil
}

func (o *Orchestrator) joinGroup(ctx context.Context, p *nlp.JoinGroupParams) (Result, error) {
	if p == nil {
		return Result{}, ErrMissingParams
	}

	// Membership pre-check: joining twice reverts on-chain, so catch it
	// here where it costs a read instead of gas.
	member, err := o.chain.IsMemberOf(ctx, p.GroupID, o.chain.SignerAddress())
	if err != nil {
		return Result{}, err
	}
	if member {
		return Result{}, &chain.PreconditionError{
			Op:     "joinGroup",
			Reason: "wallet already belongs to this circle",
		}
	}

	tx, err := o.chain.JoinGroup(ctx, p.GroupID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Message: "Joined the circle",
		GroupID: p.GroupID,
		TxHash:  tx.TxHash.Hex(),
	}, nil
}

func (o *Orchestrator) contribute(ctx context.Context, p *nlp.ContributeParams) (Result, error) {
	if p == nil {
		return Result{}, ErrMissingParams
	}

	group, err := o.chain.GroupByID(ctx, p.GroupID)
	if err != nil {
		return Result{}, err
	}

	// Allowance pre-flight: the contract pulls via transferFrom and a
	// short allowance would revert after burning gas.
	if err := o.treasury.EnsureAllowance(ctx, group.Contribution); err != nil {
		return Result{}, err
	}

	tx, err := o.chain.DepositContribution(ctx, p.GroupID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Message: chain.FormatUSDC(group.Contribution) + " USDC contributed",
		GroupID: p.GroupID,
		TxHash:  tx.TxHash.Hex(),
	}, nil
}

// bid submits off-chain first when the gateway is up, then mirrors the
// bid on-chain only when it beats the current on-chain leader. In
// basic mode it goes straight to the contract.
func (o *Orchestrator) bid(ctx context.Context, p *nlp.BidParams) (Result, error) {
	if p == nil {
		return Result{}, ErrMissingParams
	}
	discount := chain.ToUSDC(p.DiscountUSDC)

	offChain := false
	if !o.BasicMode() && o.sessions != nil {
		err := o.submitOffChainBid(ctx, p.GroupID, discount)
		if err != nil {
			if errors.Is(err, yellow.ErrConnectionClosed) || errors.Is(err, yellow.ErrAuthenticationFailed) {
				o.enterBasicMode(err.Error())
			} else {
				slog.Warn("Off-chain bid failed, continuing on-chain",
					"group_id", p.GroupID, "error", err)
			}
		} else {
			offChain = true
			o.syncSessionGauge()
		}
	}

	_, onChainHighest, err := o.chain.GetHighestBid(ctx, p.GroupID)
	if err != nil {
		return Result{}, err
	}
	if offChain && onChainHighest != nil && discount.Cmp(onChainHighest) <= 0 {
		// Recorded off-chain; the contract already has an equal or
		// better bid, no transaction needed.
		return Result{
			Message:  "Bid of " + chain.FormatUSDC(discount) + " USDC recorded off-chain",
			GroupID:  p.GroupID,
			OffChain: true,
		}, nil
	}

	tx, err := o.chain.PlaceBid(ctx, p.GroupID, discount)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Message:  "Bid of " + chain.FormatUSDC(discount) + " USDC placed",
		GroupID:  p.GroupID,
		TxHash:   tx.TxHash.Hex(),
		OffChain: offChain,
	}, nil
}

func (o *Orchestrator) submitOffChainBid(ctx context.Context, groupID uint64, discount *big.Int) error {
	if _, err := o.sessions.StartSession(ctx, groupID); err != nil {
		return err
	}
	return o.sessions.SubmitBid(ctx, groupID, yellow.BidState{
		Bidder:   o.chain.SignerAddress().Hex(),
		Discount: discount.String(),
	})
}

func (o *Orchestrator) finalize(ctx context.Context, p *nlp.FinalizeParams) (Result, error) {
	if p == nil {
		return Result{}, ErrMissingParams
	}

	tx, err := o.chain.SettleAuction(ctx, p.GroupID)
	if err != nil {
		return Result{}, err
	}

	if o.sessions != nil {
		if err := o.sessions.CloseSession(ctx, p.GroupID); err != nil {
			slog.Warn("Session close failed after manual settlement",
				"group_id", p.GroupID, "error", err)
		}
		o.syncSessionGauge()
	}
	return Result{
		Message: "Auction settled",
		GroupID: p.GroupID,
		TxHash:  tx.TxHash.Hex(),
	}, nil
}

func (o *Orchestrator) withdrawDividends(ctx context.Context) (Result, error) {
	pending, err := o.chain.PendingDividends(ctx, o.chain.SignerAddress())
	if err != nil {
		return Result{}, err
	}
	if pending.Sign() == 0 {
		return Result{Message: "No dividends to withdraw"}, nil
	}

	tx, err := o.chain.WithdrawDividends(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Message: chain.FormatUSDC(pending) + " USDC withdrawn",
		TxHash:  tx.TxHash.Hex(),
	}, nil
}

// PayoutRequest is one recipient in a distribution request.
type PayoutRequest struct {
	Recipient  string  `json:"recipient"`
	AmountUSDC float64 `json:"amount_usdc"`
}

// PayoutOutcome is the JSON rendering of one payout attempt.
type PayoutOutcome struct {
	Recipient string `json:"recipient"`
	TxHash    string `json:"tx_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DistributeFunds pays each recipient from the orchestrator wallet.
// Input validation fails the whole batch up front; once on-chain,
// failures are isolated per recipient.
func (o *Orchestrator) DistributeFunds(ctx context.Context, requests []PayoutRequest) ([]PayoutOutcome, error) {
	if len(requests) == 0 {
		return nil, &chain.PreconditionError{Op: "distribute", Reason: "no recipients"}
	}

	payouts := make([]chain.Payout, 0, len(requests))
	for _, r := range requests {
		if !common.IsHexAddress(r.Recipient) {
			return nil, &chain.PreconditionError{
				Op:     "distribute",
				Reason: fmt.Sprintf("invalid recipient address %q", r.Recipient),
			}
		}
		if r.AmountUSDC <= 0 {
			return nil, &chain.PreconditionError{
				Op:     "distribute",
				Reason: fmt.Sprintf("non-positive amount for %s", r.Recipient),
			}
		}
		payouts = append(payouts, chain.Payout{
			Recipient: common.HexToAddress(r.Recipient),
			Amount:    chain.ToUSDC(r.AmountUSDC),
		})
	}

	outcomes := make([]PayoutOutcome, 0, len(payouts))
	for _, res := range o.treasury.BatchDistribute(ctx, payouts) {
		out := PayoutOutcome{Recipient: res.Recipient.Hex()}
		if res.Err != nil {
			out.Error = res.Err.Error()
		} else {
			out.TxHash = res.TxHash.Hex()
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (o *Orchestrator) checkTreasury(ctx context.Context) (Result, error) {
	status, err := o.treasury.Status(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Message:  "Treasury holds " + status.Balance + " USDC",
		Treasury: &status,
	}, nil
}

func (o *Orchestrator) openSessionBestEffort(ctx context.Context, groupID uint64) {
	if o.BasicMode() || o.sessions == nil || groupID == 0 {
		return
	}
	if _, err := o.sessions.StartSession(ctx, groupID); err != nil {
		slog.Warn("Could not open session for new circle",
			"group_id", groupID, "error", err)
		return
	}
	o.syncSessionGauge()
}

// syncSessionGauge refreshes the open session count after any
// open/close transition.
func (o *Orchestrator) syncSessionGauge() {
	if o.metrics == nil || o.sessions == nil {
		return
	}
	o.metrics.SetOpenSessions(len(o.sessions.OpenSessions()))
}

// =============================================================================
// Read Surface
// =============================================================================

// GetActiveCircles lists all active groups.
func (o *Orchestrator) GetActiveCircles(ctx context.Context) ([]GroupSummary, error) {
	count, err := o.chain.GroupCount(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]GroupSummary, 0, count)
	for id := uint64(1); id <= count; id++ {
		group, err := o.chain.GroupByID(ctx, id)
		if err != nil {
			slog.Warn("Skipping unreadable group in listing", "group_id", id, "error", err)
			continue
		}
		if !group.IsActive {
			continue
		}
		summaries = append(summaries, summarize(group))
	}

	if o.metrics != nil {
		o.metrics.SetActiveGroups(len(summaries))
	}
	return summaries, nil
}

// GetGroupInfo returns one circle's summary.
func (o *Orchestrator) GetGroupInfo(ctx context.Context, id uint64) (GroupSummary, error) {
	group, err := o.chain.GroupByID(ctx, id)
	if err != nil {
		return GroupSummary{}, err
	}
	return summarize(group), nil
}

// GetRecentActivity returns up to n feed entries, newest first.
func (o *Orchestrator) GetRecentActivity(n int) []chain.ActivityEntry {
	if o.feed == nil {
		return nil
	}
	return o.feed.Recent(n)
}

// GetProtocolStatus assembles the aggregate status view. Treasury
// lookup failures degrade to a partial status rather than an error.
func (o *Orchestrator) GetProtocolStatus(ctx context.Context) (ProtocolStatus, error) {
	count, err := o.chain.GroupCount(ctx)
	if err != nil {
		return ProtocolStatus{}, err
	}

	active := 0
	for id := uint64(1); id <= count; id++ {
		group, err := o.chain.GroupByID(ctx, id)
		if err == nil && group.IsActive {
			active++
		}
	}

	status := ProtocolStatus{
		Wallet:       o.chain.SignerAddress().Hex(),
		TotalGroups:  count,
		ActiveGroups: active,
		BasicMode:    o.BasicMode(),
	}
	if o.sessions != nil {
		status.OpenSessions = len(o.sessions.OpenSessions())
		o.syncSessionGauge()
	}
	if treasury, err := o.treasury.Status(ctx); err == nil {
		status.Treasury = &treasury
	} else {
		slog.Warn("Treasury status unavailable", "error", err)
	}
	return status, nil
}

func summarize(g chain.Group) GroupSummary {
	s := GroupSummary{
		ID:              g.ID,
		Name:            g.Name,
		Contribution:    chain.FormatUSDC(g.Contribution),
		MaxMembers:      g.MaxMembers,
		CurrentCycle:    g.CurrentCycle,
		TotalEscrow:     chain.FormatUSDC(g.TotalEscrow),
		HighestDiscount: chain.FormatUSDC(g.HighestDiscount),
		AuctionEndsAt:   g.AuctionEndTime().UTC().Format(time.RFC3339),
		AuctionSettled:  g.AuctionSettled,
		IsActive:        g.IsActive,
	}
	if g.HighestBidder != (common.Address{}) {
		s.HighestBidder = g.HighestBidder.Hex()
	}
	return s
}

// =============================================================================
// Basic Mode Flag
// =============================================================================

// basicModeFlag is a sticky boolean: once set it stays set for the
// process lifetime. Recovery is a restart with a healthy gateway.
type basicModeFlag struct {
	mu sync.Mutex
	on bool
}

func (f *basicModeFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// set returns true on the first transition only.
func (f *basicModeFlag) set() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.on {
		return false
	}
	f.on = true
	return true
}
