package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallRoundTrip(t *testing.T) {
	ch := New("test", 1024, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		return map[string]any{"echo": op}, bin, nil
	})
	meta, bin, err := ch.Call(context.Background(), "ping", nil, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ping", meta["echo"])
	assert.Equal(t, []byte("hi"), bin)
}

func TestCallRejectsOversizePayload(t *testing.T) {
	ch := New("test", 4, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		t.Fatal("handler should not run for an oversize payload")
		return nil, nil, nil
	})
	_, _, err := ch.Call(context.Background(), "op", nil, []byte("too long"))
	require.Error(t, err)
	berr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "E2BIG", berr.Code)
}

func TestCallTimesOut(t *testing.T) {
	ch := New("test", 1024, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	})
	ch.SetTimeout(10 * time.Millisecond)
	_, _, err := ch.Call(context.Background(), "slow", nil, nil)
	require.Error(t, err)
	berr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "timed_out", berr.Code)
}

func TestCallRecoversResponderPanic(t *testing.T) {
	ch := New("test", 1024, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		panic("boom")
	})
	_, _, err := ch.Call(context.Background(), "op", nil, nil)
	require.Error(t, err)
	berr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "responder_crashed", berr.Code)
}

func TestSingleOutstandingRequestPerChannel(t *testing.T) {
	var inFlight int32
	var maxSeen int32
	release := make(chan struct{})

	ch := New("test", 1024, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil, nil, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Call(context.Background(), "op", nil, nil)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

// TestChannelResetsAfterTimeout proves the semaphore slot is released even
// when a prior call timed out while its handler was still running, so a
// later call on the same channel is not permanently blocked.
func TestChannelResetsAfterTimeout(t *testing.T) {
	unblock := make(chan struct{})
	ch := New("test", 1024, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		<-unblock
		return nil, nil, nil
	})
	ch.SetTimeout(5 * time.Millisecond)

	_, _, err := ch.Call(context.Background(), "first", nil, nil)
	require.Error(t, err)
	close(unblock)

	time.Sleep(10 * time.Millisecond)
	_, _, err = ch.Call(context.Background(), "second", nil, nil)
	require.NoError(t, err)
}
