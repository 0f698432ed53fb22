package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool_AcquireTierSelection(t *testing.T) {
	p := New(4, 4)

	cases := []struct {
		hint int
		want Tier
	}{
		{1, Small},
		{1024, Small},
		{1025, Medium},
		{8192, Medium},
		{8193, Large},
		{65535, Large},
	}

	for _, c := range cases {
		buf, err := p.Acquire(context.Background(), c.hint)
		require.NoError(t, err)
		assert.Equal(t, c.want, buf.tier)
		assert.Equal(t, c.want.capacity(), buf.Cap())
		buf.Release()
	}
}

func TestBufferPool_ReleaseClearsAndReuses(t *testing.T) {
	p := New(4, 4)

	buf, err := p.Acquire(context.Background(), 1024)
	require.NoError(t, err)
	copy(buf.Bytes(), []byte("hello"))
	buf.Release()

	buf2, err := p.Acquire(context.Background(), 1024)
	require.NoError(t, err)
	for _, b := range buf2.Bytes()[:5] {
		assert.Equal(t, byte(0), b, "buffer must be cleared before reuse")
	}
}

func TestBufferPool_AdmissionBlocksUntilRelease(t *testing.T) {
	p := New(4, 1)

	first, err := p.Acquire(context.Background(), 1024)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := p.Acquire(context.Background(), 1024)
		require.NoError(t, err)
		close(acquired)
		second.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while admission is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestBufferPool_AcquireRespectsContextCancellation(t *testing.T) {
	p := New(4, 1)
	first, err := p.Acquire(context.Background(), 1024)
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx, 1024)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBufferPool_ConcurrentAcquireRelease(t *testing.T) {
	p := New(8, 8)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				buf, err := p.Acquire(context.Background(), 8192)
				assert.NoError(t, err)
				buf.Bytes()[0] = 1
				buf.Release()
			}
		}()
	}
	wg.Wait()
}

func TestBufferPool_TierOverflowDropsInsteadOfBlocking(t *testing.T) {
	p := New(1, 10)

	bufs := make([]*Buffer, 0, 5)
	for range 5 {
		b, err := p.Acquire(context.Background(), 1024)
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		b.Release()
	}

	assert.LessOrEqual(t, len(p.small), 1)
}
