// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActivityType classifies a protocol activity entry.
type ActivityType string

const (
	ActivityGroupStarted   ActivityType = "group_started"
	ActivityContribution   ActivityType = "contribution"
	ActivityBidPlaced      ActivityType = "bid_placed"
	ActivityAuctionSettled ActivityType = "auction_settled"
)

// ActivityEntry is one human-readable protocol event for the activity
// feed. Entries are derived from contract logs and never mutated after
// insertion.
type ActivityEntry struct {
	Type        ActivityType   `json:"type"`
	Description string         `json:"description"`
	GroupID     uint64         `json:"group_id"`
	Actor       common.Address `json:"actor"`
	Amount      string         `json:"amount,omitempty"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	Timestamp   time.Time      `json:"timestamp"`
}

// DefaultFeedCapacity bounds the activity feed. Old entries are
// discarded; the feed answers "what happened recently", not "what
// happened ever".
const DefaultFeedCapacity = 10

// Feed is a fixed-capacity ring of recent activity entries.
//
// When full, adding a new entry overwrites the oldest. All methods are
// safe for concurrent use.
type Feed struct {
	mu       sync.RWMutex
	buffer   []ActivityEntry
	capacity int
	head     int
	size     int
}

// NewFeed creates a Feed with the given capacity. Non-positive
// capacities fall back to DefaultFeedCapacity.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{
		buffer:   make([]ActivityEntry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when full.
func (f *Feed) Add(entry ActivityEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buffer[f.head] = entry
	f.head = (f.head + 1) % f.capacity
	if f.size < f.capacity {
		f.size++
	}
}

// Recent returns up to n entries, newest first. n <= 0 or n > Len
// returns everything held.
func (f *Feed) Recent(n int) []ActivityEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || n > f.size {
		n = f.size
	}
	out := make([]ActivityEntry, n)
	for i := 0; i < n; i++ {
		idx := (f.head - 1 - i + f.capacity) % f.capacity
		out[i] = f.buffer[idx]
	}
	return out
}

// Len returns the number of entries currently held.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// Clear discards all entries.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = 0
	f.size = 0
}
