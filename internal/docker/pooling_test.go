package docker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudankdk/aoc-runner/internal/model"
)

func TestPoolManagerRejectsWhenFull(t *testing.T) {
	pm := NewPoolManager(1, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, pm.Acquire(ctx))
	assert.Equal(t, 1, pm.Active())

	err := pm.Acquire(ctx)
	assert.ErrorIs(t, err, model.ErrBusy)

	pm.Release()
	assert.Equal(t, 0, pm.Active())
	require.NoError(t, pm.Acquire(ctx))
	pm.Release()
}

func TestPoolManagerZeroQueueTimeout(t *testing.T) {
	pm := NewPoolManager(1, 0)
	require.NoError(t, pm.Acquire(context.Background()))
	defer pm.Release()

	assert.ErrorIs(t, pm.Acquire(context.Background()), model.ErrBusy)
}

func TestPoolManagerWaitsForSlot(t *testing.T) {
	pm := NewPoolManager(1, time.Second)
	require.NoError(t, pm.Acquire(context.Background()))

	go func() {
		time.Sleep(30 * time.Millisecond)
		pm.Release()
	}()

	require.NoError(t, pm.Acquire(context.Background()))
	pm.Release()
}

func TestPoolManagerCancelled(t *testing.T) {
	pm := NewPoolManager(1, time.Minute)
	require.NoError(t, pm.Acquire(context.Background()))
	defer pm.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pm.Acquire(ctx), model.ErrCancelled)
}

func TestPoolManagerBoundsConcurrency(t *testing.T) {
	const size = 3
	pm := NewPoolManager(size, time.Second)

	var (
		mu      sync.Mutex
		running int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pm.Acquire(context.Background()); err != nil {
				return
			}
			defer pm.Release()
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, size)
	assert.Equal(t, size, pm.Size())
}
