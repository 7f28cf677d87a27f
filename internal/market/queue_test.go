package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryQueue_PopOrder(t *testing.T) {
	q := NewExpiryQueue()
	now := time.Now()

	q.Push("m10", now.Add(10*time.Second))
	q.Push("m30", now.Add(30*time.Second))
	q.Push("m5", now.Add(5*time.Second))

	id, _, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "m5", id)

	id, _, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "m10", id)

	id, _, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "m30", id)

	_, _, ok = q.Pop()
	assert.False(t, ok)
}

func TestExpiryQueue_TiesByInsertionOrder(t *testing.T) {
	q := NewExpiryQueue()
	expiry := time.Now().Add(time.Minute)

	q.Push("first", expiry)
	q.Push("second", expiry)

	id, _, _ := q.Pop()
	assert.Equal(t, "first", id)
	id, _, _ = q.Pop()
	assert.Equal(t, "second", id)
}

func TestExpiryQueue_RemoveSkipsOnPop(t *testing.T) {
	q := NewExpiryQueue()
	now := time.Now()

	q.Push("a", now.Add(1*time.Second))
	q.Push("b", now.Add(2*time.Second))
	q.Remove("a")

	id, _, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestExpiryQueue_RemoveIdempotent(t *testing.T) {
	q := NewExpiryQueue()
	q.Push("a", time.Now().Add(time.Second))
	q.Remove("a")
	q.Remove("a")
	q.Remove("never-pushed")
	assert.Equal(t, 0, q.Len())
}

func TestExpiryQueue_RepushReprioritizes(t *testing.T) {
	q := NewExpiryQueue()
	now := time.Now()

	q.Push("a", now.Add(10*time.Second))
	q.Push("b", now.Add(5*time.Second))
	// Move a ahead of b.
	q.Push("a", now.Add(1*time.Second))

	assert.Equal(t, 2, q.Len())

	id, _, _ := q.Pop()
	assert.Equal(t, "a", id)
	id, _, _ = q.Pop()
	assert.Equal(t, "b", id)
}

func TestExpiryQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewExpiryQueue()
	q.Push("a", time.Now().Add(time.Second))

	id, _, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, 1, q.Len())

	id, _, ok = q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestExpiryQueue_PeekCompactsStaleSlots(t *testing.T) {
	q := NewExpiryQueue()
	now := time.Now()

	q.Push("a", now.Add(1*time.Second))
	q.Push("b", now.Add(2*time.Second))
	q.Remove("a")

	live, stale := q.Stats()
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, stale)

	id, _, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "b", id)

	live, stale = q.Stats()
	assert.Equal(t, 1, live)
	assert.Equal(t, 0, stale)
}

func TestExpiryQueue_IDsInPriorityOrder(t *testing.T) {
	q := NewExpiryQueue()
	now := time.Now()

	q.Push("c", now.Add(3*time.Second))
	q.Push("a", now.Add(1*time.Second))
	q.Push("b", now.Add(2*time.Second))
	q.Remove("b")

	assert.Equal(t, []string{"a", "c"}, q.IDs())
	// IDs is non-destructive.
	assert.Equal(t, 2, q.Len())
}
