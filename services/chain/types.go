// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chain provides the on-chain half of the Bol-DeFi settlement
// orchestration layer: a typed client for the ROSCA settlement contract,
// a chunked event ingestor feeding the in-memory activity feed, the
// USDC treasury helpers, and the periodic settlement sweeper.
//
// All state mirrored from the contract is read-only to this package.
// The in-memory caches are best effort: nothing here persists across
// restarts, and the activity feed is rebuilt via Backfill on startup
// before reads are served.
package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// USDCDecimals is the fixed-point precision of all monetary amounts.
// Every amount crossing the contract boundary is an integer number of
// micro-USDC (10^-6 USDC).
const USDCDecimals = 6

// usdcUnit is 10^USDCDecimals.
var usdcUnit = big.NewInt(1_000_000)

// ToUSDC converts a human-readable USDC amount to its fixed-point
// on-chain representation (6 decimals).
func ToUSDC(amount float64) *big.Int {
	micro := new(big.Float).Mul(big.NewFloat(amount), new(big.Float).SetInt(usdcUnit))
	out, _ := micro.Int(nil)
	return out
}

// FormatUSDC renders a fixed-point amount as a decimal string, e.g.
// 2500000 -> "2.50".
func FormatUSDC(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(usdcUnit))
	return f.Text('f', 2)
}

// Group mirrors the settlement contract's per-group state.
//
// Instances are snapshots read from the contract; they are never
// mutated locally. AuctionSettled is monotonic per cycle (false to
// true, set only by the contract's settleAuction).
type Group struct {
	ID                 uint64
	Name               string
	Contribution       *big.Int
	MaxMembers         uint64
	CycleDuration      time.Duration
	AuctionDuration    time.Duration
	MinDefaultDiscount *big.Int
	CurrentCycle       uint64
	CycleStartTime     time.Time
	TotalEscrow        *big.Int
	Creator            common.Address
	HighestBidder      common.Address
	HighestDiscount    *big.Int
	AuctionSettled     bool
	IsActive           bool
}

// AuctionEndTime returns when the current cycle's auction closes.
func (g Group) AuctionEndTime() time.Time {
	return g.CycleStartTime.Add(g.AuctionDuration)
}

// RequiredEscrow returns the escrow needed before the cycle can settle:
// contribution * maxMembers.
func (g Group) RequiredEscrow() *big.Int {
	if g.Contribution == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(g.Contribution, new(big.Int).SetUint64(g.MaxMembers))
}

// SettlementDue reports whether the group is past its auction deadline
// and still unsettled. It does not check the escrow precondition; see
// EscrowSufficient.
func (g Group) SettlementDue(now time.Time) bool {
	if !g.IsActive || g.AuctionSettled {
		return false
	}
	return now.After(g.AuctionEndTime())
}

// EscrowSufficient reports whether the full round's contributions are
// escrowed. Contributions may still be arriving, so an insufficient
// escrow is a skip-and-retry-later condition, not an error.
func (g Group) EscrowSufficient() bool {
	if g.TotalEscrow == nil {
		return false
	}
	return g.TotalEscrow.Cmp(g.RequiredEscrow()) >= 0
}

// TxResult describes a mined transaction for a completed write
// operation. Every write blocks until its receipt is available, so a
// returned TxResult always refers to an included transaction.
type TxResult struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// CreateGroupSpec carries the parameters for a new savings circle.
type CreateGroupSpec struct {
	Name               string
	Contribution       *big.Int
	MaxMembers         uint64
	CycleDuration      time.Duration
	AuctionDuration    time.Duration
	MinDefaultDiscount *big.Int
}
