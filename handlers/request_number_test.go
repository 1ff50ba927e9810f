package handlers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p9e.in/incubator/testutil"
)

func TestNextRequestNumber(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	first, err := NextRequestNumber(db, now)
	require.NoError(t, err)
	assert.Equal(t, "REQ-2025-0001", first)

	second, err := NextRequestNumber(db, now)
	require.NoError(t, err)
	assert.Equal(t, "REQ-2025-0002", second)

	// A new year restarts the sequence.
	nextYear, err := NextRequestNumber(db, now.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "REQ-2026-0001", nextYear)
}

func TestNextRequestNumberConcurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	const n = 10
	var wg sync.WaitGroup
	numbers := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			number, err := NextRequestNumber(db, now)
			if err == nil {
				numbers[i] = number
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, number := range numbers {
		require.NotEmpty(t, number)
		assert.False(t, seen[number], fmt.Sprintf("duplicate request number %s", number))
		seen[number] = true
	}
	assert.Len(t, seen, n)
}
