// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryForGroup(id uint64) ActivityEntry {
	return ActivityEntry{
		Type:        ActivityContribution,
		Description: fmt.Sprintf("contribution to group %d", id),
		GroupID:     id,
	}
}

func TestFeed_Empty(t *testing.T) {
	f := NewFeed(10)
	assert.Equal(t, 0, f.Len())
	assert.Empty(t, f.Recent(5))
}

func TestFeed_NewestFirst(t *testing.T) {
	f := NewFeed(10)
	for i := uint64(1); i <= 3; i++ {
		f.Add(entryForGroup(i))
	}

	got := f.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].GroupID)
	assert.Equal(t, uint64(2), got[1].GroupID)
	assert.Equal(t, uint64(1), got[2].GroupID)
}

func TestFeed_EvictsOldest(t *testing.T) {
	f := NewFeed(10)
	for i := uint64(1); i <= 15; i++ {
		f.Add(entryForGroup(i))
	}

	require.Equal(t, 10, f.Len())
	got := f.Recent(0)
	require.Len(t, got, 10)

	// Newest entry at index 0, entries 1..5 evicted.
	assert.Equal(t, uint64(15), got[0].GroupID)
	assert.Equal(t, uint64(6), got[len(got)-1].GroupID)
}

func TestFeed_RecentBounded(t *testing.T) {
	f := NewFeed(10)
	for i := uint64(1); i <= 8; i++ {
		f.Add(entryForGroup(i))
	}

	got := f.Recent(3)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(8), got[0].GroupID)

	// Asking for more than held returns what is held.
	assert.Len(t, f.Recent(100), 8)
}

func TestFeed_Clear(t *testing.T) {
	f := NewFeed(4)
	f.Add(entryForGroup(1))
	f.Clear()
	assert.Equal(t, 0, f.Len())
	assert.Empty(t, f.Recent(0))

	// Usable after Clear.
	f.Add(entryForGroup(2))
	require.Equal(t, 1, f.Len())
	assert.Equal(t, uint64(2), f.Recent(0)[0].GroupID)
}

func TestFeed_ZeroCapacityFallsBack(t *testing.T) {
	f := NewFeed(0)
	for i := uint64(1); i <= 20; i++ {
		f.Add(entryForGroup(i))
	}
	assert.Equal(t, DefaultFeedCapacity, f.Len())
}

func TestFeed_ConcurrentAccess(t *testing.T) {
	f := NewFeed(10)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				f.Add(entryForGroup(uint64(w*100 + i)))
				f.Recent(5)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 10, f.Len())
}
