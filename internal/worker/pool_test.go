package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(2, 8, time.Second)
	p.Start(context.Background())
	defer p.Stop()

	var n atomic.Int32
	var handles []*Handle
	for _, key := range []string{"a", "b", "c"} {
		h, err := p.Submit(key, func(ctx context.Context) error {
			n.Add(1)
			return nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Wait(context.Background()))
	}
	assert.Equal(t, int32(3), n.Load())
}

func TestPoolDedupInFlight(t *testing.T) {
	p := NewPool(1, 8, time.Second)
	p.Start(context.Background())
	defer p.Stop()

	release := make(chan struct{})
	var runs atomic.Int32
	task := func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	h1, err := p.Submit("doc-1", task)
	require.NoError(t, err)
	h2, err := p.Submit("doc-1", task)
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.True(t, p.InFlight("doc-1"))

	close(release)
	require.NoError(t, h1.Wait(context.Background()))
	assert.False(t, p.InFlight("doc-1"))

	h3, err := p.Submit("doc-1", func(ctx context.Context) error { runs.Add(1); return nil })
	require.NoError(t, err)
	require.NoError(t, h3.Wait(context.Background()))
	assert.Equal(t, int32(2), runs.Load())
}

func TestPoolTaskTimeoutAndPanic(t *testing.T) {
	p := NewPool(2, 8, 20*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	h, err := p.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.ErrorIs(t, h.Wait(context.Background()), context.DeadlineExceeded)

	h, err = p.Submit("boom", func(ctx context.Context) error { panic("bad input") })
	require.NoError(t, err)
	err = h.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestPoolQueueFullAndStop(t *testing.T) {
	p := NewPool(1, 1, time.Second)
	// 未启动时任务只会排队
	h, err := p.Submit("a", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, h.Err())

	_, err = p.Submit("b", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	assert.False(t, p.Closing())
	p.Stop()
	assert.True(t, p.Closing())
	assert.True(t, errors.Is(h.Wait(context.Background()), ErrPoolClosed))
	_, err = p.Submit("c", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
