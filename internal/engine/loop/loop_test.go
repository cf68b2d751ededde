package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, clock clockwork.Clock) *Loop {
	t.Helper()
	l := New(clock)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestLoopRunsInOrder(t *testing.T) {
	l := startLoop(t, nil)
	var got []int
	for i := range 100 {
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Do(context.Background(), func() {}))
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopPostFromLoop(t *testing.T) {
	l := startLoop(t, nil)
	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoopStopped(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	require.NoError(t, l.Do(context.Background(), func() {}))
	cancel()
	<-l.Done()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrStopped)
	assert.ErrorIs(t, l.Run(context.Background()), ErrRunning)
}

func TestDoHonorsContext(t *testing.T) {
	l := New(nil) // never run
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Do(ctx, func() {}), context.DeadlineExceeded)
}

func TestAfterFuncUsesLoopClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := startLoop(t, clock)
	var fired atomic.Int32
	l.AfterFunc(5*time.Second, func() { fired.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(4 * time.Second)
	require.NoError(t, l.Do(ctx, func() {}))
	assert.Zero(t, fired.Load())

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTimerStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := startLoop(t, clock)
	var fired atomic.Int32
	tm := l.AfterFunc(time.Second, func() { fired.Add(1) })
	tm.Stop()

	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Zero(t, fired.Load())
}

func TestEvery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := startLoop(t, clock)
	var ticks atomic.Int32
	tk := l.Every(time.Second, func() { ticks.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	for i := int32(1); i <= 3; i++ {
		clock.Advance(time.Second)
		assert.Eventually(t, func() bool { return ticks.Load() == i }, 2*time.Second, 5*time.Millisecond)
	}

	tk.Stop()
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Do(ctx, func() {}))
	assert.Equal(t, int32(3), ticks.Load())
}
