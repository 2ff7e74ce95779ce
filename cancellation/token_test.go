package cancellation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFreshSourceIsArmed(t *testing.T) {
	source := NewSource()
	token := source.Token()
	require.False(t, token.Cancelled())
	require.NoError(t, token.Err())
	require.True(t, source.CanReset())
	select {
	case <-token.Done():
		t.Fatal("done channel of an armed source must stay open")
	default:
	}
}

func TestCancelClosesDone(t *testing.T) {
	source := NewSource()
	token := source.Token()
	source.Cancel()
	require.True(t, token.Cancelled())
	require.ErrorIs(t, token.Err(), ErrCancelled)
	select {
	case <-token.Done():
	default:
		t.Fatal("done channel must be closed after cancel")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	source := NewSource()
	source.Cancel()
	require.NotPanics(t, source.Cancel)
}

func TestTokenIsStable(t *testing.T) {
	source := NewSource()
	require.Same(t, source.Token(), source.Token())
}

func TestResetRequiresCompletion(t *testing.T) {
	source := NewSource()
	source.Cancel()
	require.False(t, source.CanReset())
	require.Error(t, source.Reset())

	source.Token().CompleteCancellation()
	require.True(t, source.Token().CancellationCompleted())
	require.True(t, source.CanReset())
	require.NoError(t, source.Reset())

	token := source.Token()
	require.False(t, token.Cancelled())
	require.False(t, token.CancellationCompleted())
	select {
	case <-token.Done():
		t.Fatal("done channel must be fresh after reset")
	default:
	}
}

func TestResetWithoutCancellationIsNoop(t *testing.T) {
	source := NewSource()
	require.NoError(t, source.Reset())
}

func TestCompleteCancellationBeforeCancelIsIgnored(t *testing.T) {
	source := NewSource()
	source.Token().CompleteCancellation()
	require.False(t, source.Token().CancellationCompleted())
}

func TestDoneReturnsFreshChannelAfterReset(t *testing.T) {
	source := NewSource()
	stale := source.Token().Done()
	source.Cancel()
	source.Token().CompleteCancellation()
	require.NoError(t, source.Reset())
	require.NotEqual(t, stale, source.Token().Done())
}

func TestCancelReleasesConcurrentWaiters(t *testing.T) {
	source := NewSource()
	token := source.Token()

	var wg sync.WaitGroup
	released := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-token.Done():
				released <- struct{}{}
			case <-time.After(time.Second):
			}
		}()
	}
	source.Cancel()
	wg.Wait()
	require.Len(t, released, 4)
}
