package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueDropOldest(t *testing.T) {
	q := newEventQueue[int](3)
	for i := 1; i <= 5; i++ {
		q.push(i)
	}
	require.Equal(t, 3, q.len())
	require.Equal(t, uint64(2), q.droppedCount())

	// The retained items are the three most recently pushed.
	for _, want := range []int{3, 4, 5} {
		got, ok, err := q.popNow()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok, err := q.popNow()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueueMaxLenOne(t *testing.T) {
	q := newEventQueue[string](1)
	q.push("v1")
	q.push("v2")
	got, ok, err := q.popNow()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", got)
	require.False(t, q.ready())
}

func TestQueueUnbounded(t *testing.T) {
	q := newEventQueue[int](0)
	for i := 0; i < 1000; i++ {
		q.push(i)
	}
	require.Equal(t, 1000, q.len())
	require.Equal(t, uint64(0), q.droppedCount())
}

func TestQueuePendingErrorPriority(t *testing.T) {
	q := newEventQueue[int](4)
	q.push(1)
	boom := errors.New("boom")
	q.pushError(boom)

	// The error wins over the buffered value and pops exactly once.
	_, ok, err := q.popNow()
	require.False(t, ok)
	require.ErrorIs(t, err, boom)

	got, ok, err := q.popNow()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, got)
}

func TestQueueErrorOverwrite(t *testing.T) {
	q := newEventQueue[int](1)
	first := errors.New("first")
	second := errors.New("second")
	q.pushError(first)
	q.pushError(second)
	_, _, err := q.popNow()
	require.ErrorIs(t, err, second)
	_, ok, err := q.popNow()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueueClearDropsValuesAndError(t *testing.T) {
	q := newEventQueue[int](4)
	q.push(1)
	q.push(2)
	q.pushError(errors.New("stale"))
	q.clear()
	require.False(t, q.ready())
	_, ok, err := q.popNow()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueuePopWaitTimeout(t *testing.T) {
	q := newEventQueue[int](1)
	start := time.Now()
	_, err := q.popWait(50*time.Millisecond, nil, nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.False(t, q.ready())
}

func TestQueuePopWaitWakesOnPush(t *testing.T) {
	q := newEventQueue[int](1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.push(42)
	}()
	got, err := q.popWait(time.Second, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestQueuePopWaitWakesOnError(t *testing.T) {
	q := newEventQueue[int](1)
	boom := errors.New("boom")
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.pushError(boom)
	}()
	_, err := q.popWait(time.Second, nil, nil)
	require.ErrorIs(t, err, boom)
}

func TestQueuePopWaitCancelLeavesBuffer(t *testing.T) {
	q := newEventQueue[int](4)
	q.push(7)
	cancelled := errors.New("cancelled")
	cancel := make(chan struct{})
	close(cancel)

	// Cancellation wins even though a value is buffered, and the value
	// survives for a later pop.
	_, err := q.popWait(0, cancel, cancelled)
	require.ErrorIs(t, err, cancelled)
	got, ok, err := q.popNow()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, got)
}

func TestQueuePopWaitCancelDuringWait(t *testing.T) {
	q := newEventQueue[int](1)
	cancelled := errors.New("cancelled")
	cancel := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(cancel)
	}()
	start := time.Now()
	_, err := q.popWait(0, cancel, cancelled)
	require.ErrorIs(t, err, cancelled)
	require.Less(t, time.Since(start), time.Second)
}

func TestQueueStaleWakeTokenIsIgnored(t *testing.T) {
	q := newEventQueue[int](2)
	q.push(1)
	q.clear()
	// The wake channel still holds a token from the push; the waiter must
	// re-check the predicate and keep waiting.
	_, err := q.popWait(30*time.Millisecond, nil, nil)
	require.ErrorIs(t, err, ErrTimeout)
}
