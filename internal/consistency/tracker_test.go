package consistency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/testutil"
)

func coord(doc, scope string, index int64) ir.ConsistencyCoordinate {
	return ir.ConsistencyCoordinate{DocumentID: doc, Scope: scope, Branch: "main", OperationIndex: index}
}

func TestTracker_UpdateKeepsMax(t *testing.T) {
	tr := New()

	tr.Update([]ir.ConsistencyCoordinate{coord("doc1", "global", 3)})
	tr.Update([]ir.ConsistencyCoordinate{coord("doc1", "global", 1)})

	v, ok := tr.GetLatest("doc1:global:main")
	require.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestTracker_UpdateDeduplicatesWithinCall(t *testing.T) {
	tr := New()
	tr.Update([]ir.ConsistencyCoordinate{
		coord("doc1", "global", 2),
		coord("doc1", "global", 7),
		coord("doc1", "global", 5),
		coord("doc2", "local", 1),
	})

	v, _ := tr.GetLatest("doc1:global:main")
	assert.Equal(t, int64(7), v)
	v, _ = tr.GetLatest("doc2:local:main")
	assert.Equal(t, int64(1), v)
}

func TestTracker_GetLatestUnknownKey(t *testing.T) {
	_, ok := New().GetLatest("nope:global:main")
	assert.False(t, ok)
}

func TestTracker_Monotonic(t *testing.T) {
	tr := New()
	prev := int64(-1)
	for _, idx := range []int64{4, 2, 9, 9, 0, 11, 3} {
		tr.Update([]ir.ConsistencyCoordinate{coord("d", "s", idx)})
		v, _ := tr.GetLatest("d:s:main")
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
	assert.Equal(t, int64(11), prev)
}

func TestTracker_WaitForAlreadySatisfied(t *testing.T) {
	tr := New()
	tr.Update([]ir.ConsistencyCoordinate{coord("doc1", "global", 5)})

	err := tr.WaitFor(context.Background(), []ir.ConsistencyCoordinate{coord("doc1", "global", 4)}, 0)
	require.NoError(t, err)
}

func TestTracker_WaitForEmptyCoordinates(t *testing.T) {
	require.NoError(t, New().WaitFor(context.Background(), nil, 0))
}

func TestTracker_WaitForResolvedByUpdate(t *testing.T) {
	tr := New()
	want := []ir.ConsistencyCoordinate{{DocumentID: "doc1", Scope: "scope1", Branch: "main", OperationIndex: 5}}

	done := make(chan error, 1)
	go func() {
		done <- tr.WaitFor(context.Background(), want, 5*time.Second)
	}()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.waiters) == 1
	}, time.Second, time.Millisecond)

	tr.Update(want)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not resolve")
	}
	assert.Empty(t, tr.waiters)
}

func TestTracker_WaitForPartialUpdateKeepsWaiting(t *testing.T) {
	tr := New()
	want := []ir.ConsistencyCoordinate{coord("a", "s", 2), coord("b", "s", 2)}

	done := make(chan error, 1)
	go func() { done <- tr.WaitFor(context.Background(), want, 0) }()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.waiters) == 1
	}, time.Second, time.Millisecond)

	tr.Update([]ir.ConsistencyCoordinate{coord("a", "s", 2), coord("b", "s", 1)})
	select {
	case <-done:
		t.Fatal("resolved before every coordinate was satisfied")
	case <-time.After(20 * time.Millisecond):
	}

	tr.Update([]ir.ConsistencyCoordinate{coord("b", "s", 3)})
	require.NoError(t, <-done)
}

func TestTracker_WaitForTimeout(t *testing.T) {
	tr := New()
	err := tr.WaitFor(context.Background(), []ir.ConsistencyCoordinate{coord("doc1", "global", 1)}, 10*time.Millisecond)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsAborted(err))

	var we *WaitError
	require.True(t, errors.As(err, &we))
	assert.Len(t, we.Pending, 1)
	assert.Empty(t, tr.waiters, "timed out waiter is deregistered")
}

func TestTracker_WaitForTimeoutFollowsClock(t *testing.T) {
	clk := testutil.NewFakeClock()
	tr := New(WithClock(clk))

	done := make(chan error, 1)
	go func() {
		done <- tr.WaitFor(context.Background(), []ir.ConsistencyCoordinate{coord("doc1", "global", 1)}, time.Hour)
	}()
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	clk.Advance(59 * time.Minute)
	select {
	case err := <-done:
		t.Fatalf("wait resolved before its timeout: %v", err)
	default:
	}

	clk.Advance(time.Minute)
	err := <-done
	assert.True(t, IsTimeout(err))
	assert.Empty(t, tr.waiters)
}

func TestTracker_WaitForStopsTimerWhenSatisfied(t *testing.T) {
	clk := testutil.NewFakeClock()
	tr := New(WithClock(clk))

	done := make(chan error, 1)
	go func() {
		done <- tr.WaitFor(context.Background(), []ir.ConsistencyCoordinate{coord("doc1", "global", 1)}, time.Hour)
	}()
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	tr.Update([]ir.ConsistencyCoordinate{coord("doc1", "global", 1)})
	require.NoError(t, <-done)
	assert.Equal(t, 0, clk.Pending())
}

func TestTracker_WaitForAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().WaitFor(ctx, []ir.ConsistencyCoordinate{coord("doc1", "global", 1)}, 0)
	require.Error(t, err)
	assert.True(t, IsAborted(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTracker_WaitForCancelledWhilePending(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- tr.WaitFor(ctx, []ir.ConsistencyCoordinate{coord("doc1", "global", 1)}, time.Minute)
	}()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.waiters) == 1
	}, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, IsAborted(err))
	assert.Empty(t, tr.waiters)
}

func TestTracker_ConcurrentWaitersEachResolveOnce(t *testing.T) {
	tr := New()
	want := []ir.ConsistencyCoordinate{coord("doc1", "global", 3)}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tr.WaitFor(context.Background(), want, 5*time.Second)
		}()
	}

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.waiters) == n
	}, time.Second, time.Millisecond)

	tr.Update(want)
	tr.Update(want)
	wg.Wait()
	close(errs)

	count := 0
	for err := range errs {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, n, count)
}

func TestTracker_SerializeHydrate(t *testing.T) {
	tr := New()
	tr.Update([]ir.ConsistencyCoordinate{coord("b", "s", 2), coord("a", "s", 9)})

	snapshot := tr.Serialize()
	assert.Equal(t, []Entry{{Key: "a:s:main", Index: 9}, {Key: "b:s:main", Index: 2}}, snapshot)

	other := New()
	other.Update([]ir.ConsistencyCoordinate{coord("stale", "s", 100)})
	other.Hydrate(snapshot)

	assert.Equal(t, snapshot, other.Serialize())
	_, ok := other.GetLatest("stale:s:main")
	assert.False(t, ok, "hydrate replaces state")
}

func TestTracker_HydrateReleasesWaiters(t *testing.T) {
	tr := New()
	done := make(chan error, 1)
	go func() {
		done <- tr.WaitFor(context.Background(), []ir.ConsistencyCoordinate{coord("a", "s", 1)}, 5*time.Second)
	}()
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.waiters) == 1
	}, time.Second, time.Millisecond)

	tr.Hydrate([]Entry{{Key: "a:s:main", Index: 1}})
	require.NoError(t, <-done)
}
