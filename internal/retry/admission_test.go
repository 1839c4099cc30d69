package retry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmission_BoundsConcurrency(t *testing.T) {
	a := NewAdmission(2)
	var inFlight, maxSeen int32

	run := func() {
		release, err := a.Acquire(context.Background(), "dest-a")
		require.NoError(t, err)
		defer release()
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			run()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, maxSeen, int32(2))
}

func TestAdmission_IsolatedPerDestination(t *testing.T) {
	a := NewAdmission(1)
	releaseA, err := a.Acquire(context.Background(), "dest-a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	releaseB, err := a.Acquire(ctx, "dest-b")
	require.NoError(t, err)
	releaseB()
}

func TestAdmission_ZeroWidthIsUnbounded(t *testing.T) {
	a := NewAdmission(0)
	release, err := a.Acquire(context.Background(), "dest-a")
	require.NoError(t, err)
	release()
}

func TestAdmission_CtxCanceledWhileWaiting(t *testing.T) {
	a := NewAdmission(1)
	release, err := a.Acquire(context.Background(), "dest-a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx, "dest-a")
	require.Error(t, err)
}
