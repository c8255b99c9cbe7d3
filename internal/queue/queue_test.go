package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbot/internal/model"
)

func msg(n int) model.RawMessage {
	return model.RawMessage{
		From:    fmt.Sprintf("user%d@example.com", n),
		Subject: fmt.Sprintf("message %d", n),
		UID:     uint32(n),
	}
}

func TestNewRejectsInvalidCapacity(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(-5)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestFIFOOrder(t *testing.T) {
	q, err := New(10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(msg(i)))
	}
	assert.Equal(t, 5, q.Size())

	for i := 0; i < 5; i++ {
		item, ok := q.Dequeue(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, uint32(i), item.Msg.UID)
		assert.False(t, item.EnqueuedAt.IsZero())
	}
	assert.Equal(t, 0, q.Size())
}

func TestEnqueueFullReturnsError(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(msg(1)))
	require.NoError(t, q.Enqueue(msg(2)))

	err = q.Enqueue(msg(3))
	assert.ErrorIs(t, err, ErrQueueFull)

	// The rejected item must not overwrite queued ones.
	item, ok := q.Dequeue(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, uint32(1), item.Msg.UID)
}

func TestDequeueTimesOutWhenEmpty(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)

	start := time.Now()
	_, ok := q.Dequeue(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)

	done := make(chan Item, 1)
	go func() {
		item, ok := q.Dequeue(2 * time.Second)
		if ok {
			done <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(msg(7)))

	select {
	case item := <-done:
		assert.Equal(t, uint32(7), item.Msg.UID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestResizePreservesOrder(t *testing.T) {
	q, err := New(3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(msg(i)))
	}

	require.NoError(t, q.Resize(5))
	assert.Equal(t, 5, q.Capacity())
	require.NoError(t, q.Enqueue(msg(3)))
	require.NoError(t, q.Enqueue(msg(4)))
	assert.ErrorIs(t, q.Enqueue(msg(5)), ErrQueueFull)

	for i := 0; i < 5; i++ {
		item, ok := q.Dequeue(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, uint32(i), item.Msg.UID)
	}
}

func TestResizeShrinkRetainsItems(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(msg(i)))
	}

	require.NoError(t, q.Resize(2))
	assert.Equal(t, 4, q.Size())
	assert.ErrorIs(t, q.Enqueue(msg(9)), ErrQueueFull)

	// Drain below the new capacity; enqueue works again.
	for i := 0; i < 3; i++ {
		_, ok := q.Dequeue(time.Millisecond)
		require.True(t, ok)
	}
	assert.NoError(t, q.Enqueue(msg(9)))
}

func TestResizeRejectsInvalidCapacity(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Resize(0), ErrInvalidCapacity)
}
