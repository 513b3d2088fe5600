package docker

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sudankdk/aoc-runner/internal/metrics"
	"github.com/sudankdk/aoc-runner/internal/model"
)

// PoolManager bounds how many submission containers run at once. Callers
// past the bound wait up to the queue timeout and are then turned away.
type PoolManager struct {
	sem          *semaphore.Weighted
	size         int
	queueTimeout time.Duration
	active       atomic.Int64
}

func NewPoolManager(size int, queueTimeout time.Duration) *PoolManager {
	if size <= 0 {
		size = 1
	}
	return &PoolManager{
		sem:          semaphore.NewWeighted(int64(size)),
		size:         size,
		queueTimeout: queueTimeout,
	}
}

// Acquire takes a slot. It fails with model.ErrBusy when no slot frees up
// within the queue timeout and with model.ErrCancelled when ctx ends first.
// Every successful Acquire must be paired with Release.
func (pm *PoolManager) Acquire(ctx context.Context) error {
	if !pm.sem.TryAcquire(1) {
		if pm.queueTimeout <= 0 {
			metrics.AdmissionRejections.Inc()
			return model.Fail(model.ErrBusy, "admit")
		}
		waitCtx, cancel := context.WithTimeout(ctx, pm.queueTimeout)
		defer cancel()
		if err := pm.sem.Acquire(waitCtx, 1); err != nil {
			if ctx.Err() != nil {
				return model.Wrap(model.ErrCancelled, "admit", ctx.Err())
			}
			metrics.AdmissionRejections.Inc()
			return model.Fail(model.ErrBusy, "admit")
		}
	}
	pm.active.Add(1)
	metrics.ActiveSessions.Inc()
	return nil
}

func (pm *PoolManager) Release() {
	pm.active.Add(-1)
	metrics.ActiveSessions.Dec()
	pm.sem.Release(1)
}

func (pm *PoolManager) Active() int {
	return int(pm.active.Load())
}

func (pm *PoolManager) Size() int {
	return pm.size
}
