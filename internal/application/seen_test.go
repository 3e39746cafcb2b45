package application_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/herald/internal/application"
)

func TestSeenSet_RecordsOnFirstSight(t *testing.T) {
	seen, err := application.NewSeenSet(8)
	require.NoError(t, err)

	assert.False(t, seen.Seen("a"))
	assert.True(t, seen.Seen("a"))
	assert.True(t, seen.Seen("a"))
}

func TestSeenSet_ContainsDoesNotRecord(t *testing.T) {
	seen, err := application.NewSeenSet(8)
	require.NoError(t, err)

	assert.False(t, seen.Contains("a"))
	assert.False(t, seen.Contains("a"), "a lookup must not insert")

	require.False(t, seen.Seen("a"))
	assert.True(t, seen.Contains("a"))
}

func TestSeenSet_EvictsOldestFirst(t *testing.T) {
	seen, err := application.NewSeenSet(3)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		require.False(t, seen.Seen(id))
	}

	// Re-checking does not refresh an entry's age, so "a" is still the
	// eviction candidate.
	require.True(t, seen.Seen("a"))

	require.False(t, seen.Seen("d"), "d is new")
	assert.False(t, seen.Seen("a"), "a was evicted as the oldest entry")
	assert.True(t, seen.Seen("c"))
	assert.True(t, seen.Seen("d"))
}

func TestSeenSet_StaysBounded(t *testing.T) {
	seen, err := application.NewSeenSet(16)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		seen.Seen(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, 16, seen.Len())
}

func TestNewSeenSet_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := application.NewSeenSet(0)
	assert.Error(t, err)
}
