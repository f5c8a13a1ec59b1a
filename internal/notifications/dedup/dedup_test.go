package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "-1001:42", Key("-1001", 42))
}

func TestMemoryStore_SeenAfterMark(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, "a"))
	require.NoError(t, s.Mark(ctx, "a"))

	seen, err = s.Seen(ctx, "a")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(10, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Mark(ctx, "a"))
	seen, err := s.Seen(ctx, "a")
	require.NoError(t, err)
	require.True(t, seen)

	assert.Eventually(t, func() bool {
		seen, err := s.Seen(ctx, "a")
		return err == nil && !seen
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_ZeroTTLKeepsKeys(t *testing.T) {
	s := NewMemoryStore(10, 0)
	ctx := context.Background()

	require.NoError(t, s.Mark(ctx, "a"))
	time.Sleep(10 * time.Millisecond)

	seen, err := s.Seen(ctx, "a")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	s := NewMemoryStore(2, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Mark(ctx, "a"))
	require.NoError(t, s.Mark(ctx, "b"))
	require.NoError(t, s.Mark(ctx, "c"))

	seenA, _ := s.Seen(ctx, "a")
	seenC, _ := s.Seen(ctx, "c")
	assert.False(t, seenA)
	assert.True(t, seenC)
	assert.Equal(t, 2, s.Len())
}
