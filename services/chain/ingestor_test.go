// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLogSource serves canned events keyed by block number and records
// the ranges it was asked for.
type fakeLogSource struct {
	head     uint64
	events   map[uint64][]Event // block -> events
	failFrom map[uint64]error   // ranges starting here fail
	queries  [][2]uint64
}

func (f *fakeLogSource) HeadBlock(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeLogSource) FilterEvents(ctx context.Context, from, to uint64) ([]Event, error) {
	f.queries = append(f.queries, [2]uint64{from, to})
	if err, ok := f.failFrom[from]; ok {
		return nil, err
	}
	var out []Event
	for b := from; b <= to; b++ {
		out = append(out, f.events[b]...)
	}
	return out, nil
}

func eventAt(block uint64, groupID uint64) Event {
	return Event{
		Type:        ActivityContribution,
		GroupID:     groupID,
		Amount:      big.NewInt(50_000_000),
		BlockNumber: block,
	}
}

func TestIngestor_BackfillChunksTransparently(t *testing.T) {
	src := &fakeLogSource{
		head: 250,
		events: map[uint64][]Event{
			10:  {eventAt(10, 1)},
			120: {eventAt(120, 2)},
			240: {eventAt(240, 3)},
		},
	}
	feed := NewFeed(10)
	in := NewIngestor(src, feed, 0)
	in.chunkSize = 100

	require.NoError(t, in.Backfill(context.Background()))

	// Three chunks: [1,100] [101,200] [201,250].
	require.Equal(t, [][2]uint64{{1, 100}, {101, 200}, {201, 250}}, src.queries)
	assert.Equal(t, uint64(250), in.Cursor())

	// Feed order matches a single ascending scan: newest first.
	got := feed.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].GroupID)
	assert.Equal(t, uint64(2), got[1].GroupID)
	assert.Equal(t, uint64(1), got[2].GroupID)
}

func TestIngestor_BackfillSkipsFailedChunk(t *testing.T) {
	src := &fakeLogSource{
		head: 300,
		events: map[uint64][]Event{
			50:  {eventAt(50, 1)},
			150: {eventAt(150, 2)},
			250: {eventAt(250, 3)},
		},
		failFrom: map[uint64]error{101: errors.New("range too large")},
	}
	feed := NewFeed(10)
	in := NewIngestor(src, feed, 0)
	in.chunkSize = 100

	require.NoError(t, in.Backfill(context.Background()))

	// The middle chunk failed; its events are lost, the rest survive and
	// the cursor still reaches head.
	assert.Equal(t, uint64(300), in.Cursor())
	got := feed.Recent(0)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].GroupID)
	assert.Equal(t, uint64(1), got[1].GroupID)
}

func TestIngestor_BackfillNothingToDo(t *testing.T) {
	src := &fakeLogSource{head: 42}
	in := NewIngestor(src, NewFeed(10), 42)

	require.NoError(t, in.Backfill(context.Background()))
	assert.Empty(t, src.queries)
	assert.Equal(t, uint64(42), in.Cursor())
}

func TestIngestor_PollOnceAdvancesCursor(t *testing.T) {
	src := &fakeLogSource{
		head: 110,
		events: map[uint64][]Event{
			105: {eventAt(105, 9)},
		},
	}
	feed := NewFeed(10)
	in := NewIngestor(src, feed, 100)

	require.NoError(t, in.PollOnce(context.Background()))
	require.Equal(t, [][2]uint64{{101, 110}}, src.queries)
	assert.Equal(t, uint64(110), in.Cursor())
	assert.Equal(t, 1, feed.Len())

	// Head unchanged: next poll is a no-op.
	src.queries = nil
	require.NoError(t, in.PollOnce(context.Background()))
	assert.Empty(t, src.queries)
}

func TestIngestor_PollOnceAdvancesCursorOnFailure(t *testing.T) {
	src := &fakeLogSource{
		head:     200,
		failFrom: map[uint64]error{101: errors.New("node unavailable")},
	}
	in := NewIngestor(src, NewFeed(10), 100)

	err := in.PollOnce(context.Background())
	require.Error(t, err)

	// Cursor moved past the failed range so the poller never re-scans it.
	assert.Equal(t, uint64(200), in.Cursor())
}

func TestIngestor_PollOnceClampsToChunkSize(t *testing.T) {
	src := &fakeLogSource{
		head: 10_000,
		events: map[uint64][]Event{
			150:  {eventAt(150, 1)},
			5000: {eventAt(5000, 2)}, // beyond the first chunk
		},
	}
	feed := NewFeed(10)
	in := NewIngestor(src, feed, 100)
	in.chunkSize = 100

	// A poller far behind head queries one chunk, not the whole gap.
	require.NoError(t, in.PollOnce(context.Background()))
	require.Equal(t, [][2]uint64{{101, 200}}, src.queries)
	assert.Equal(t, uint64(200), in.Cursor())
	assert.Equal(t, 1, feed.Len())

	// The next tick picks up where the clamp stopped.
	src.queries = nil
	require.NoError(t, in.PollOnce(context.Background()))
	require.Equal(t, [][2]uint64{{201, 300}}, src.queries)
	assert.Equal(t, uint64(300), in.Cursor())
}

func TestIngestor_PollOnceFailureSkipsOnlyTheClampedRange(t *testing.T) {
	src := &fakeLogSource{
		head: 10_000,
		events: map[uint64][]Event{
			250: {eventAt(250, 7)},
		},
		failFrom: map[uint64]error{101: errors.New("range too large")},
	}
	feed := NewFeed(10)
	in := NewIngestor(src, feed, 100)
	in.chunkSize = 100

	// The failing tick forfeits one chunk, not every block up to head.
	require.Error(t, in.PollOnce(context.Background()))
	assert.Equal(t, uint64(200), in.Cursor())

	require.NoError(t, in.PollOnce(context.Background()))
	assert.Equal(t, uint64(300), in.Cursor())
	assert.Equal(t, 1, feed.Len())
}

func TestIngestor_OnEventsHook(t *testing.T) {
	src := &fakeLogSource{
		head: 10,
		events: map[uint64][]Event{
			5: {eventAt(5, 1), eventAt(5, 2)},
		},
	}
	in := NewIngestor(src, NewFeed(10), 0)

	var seen int
	in.OnEvents = func(events []Event) { seen += len(events) }

	require.NoError(t, in.PollOnce(context.Background()))
	assert.Equal(t, 2, seen)
}

func TestEvent_Describe(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "group started",
			ev:   Event{Type: ActivityGroupStarted, GroupID: 3, GroupName: "lunch club"},
			want: `Circle "lunch club" started (group 3)`,
		},
		{
			name: "contribution",
			ev:   Event{Type: ActivityContribution, GroupID: 3, Amount: big.NewInt(50_000_000)},
			want: "50.00 USDC contributed to group 3",
		},
		{
			name: "bid",
			ev:   Event{Type: ActivityBidPlaced, GroupID: 7, Amount: big.NewInt(125_500_000)},
			want: "Bid of 125.50 USDC discount on group 7",
		},
		{
			name: "settled",
			ev:   Event{Type: ActivityAuctionSettled, GroupID: 7, Amount: big.NewInt(100_000_000)},
			want: "Auction settled for group 7 at 100.00 USDC discount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Describe())
		})
	}
}
