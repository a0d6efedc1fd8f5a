// internal/app/system/workers/grantsweep.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store"
	"go.uber.org/zap"
)

// GrantSweep is a background worker that deletes access grants which
// expired longer ago than the retention window. Expired grants already
// deny access; the sweep only keeps the collection from growing.
type GrantSweep struct {
	grants    store.Grants
	log       *zap.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewGrantSweep creates a new grant sweep worker.
//
// Parameters:
//   - grants: the grant store
//   - logger: zap logger for logging
//   - interval: how often to sweep (e.g., 1 hour)
//   - retention: how long expired grants are kept (e.g., 30 days)
func NewGrantSweep(grants store.Grants, logger *zap.Logger, interval, retention time.Duration) *GrantSweep {
	return &GrantSweep{
		grants:    grants,
		log:       logger,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *GrantSweep) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("grant sweep worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("retention", w.retention))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *GrantSweep) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("grant sweep worker stopped")
}

func (w *GrantSweep) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(context.Background())
		}
	}
}

// Sweep runs one pass and returns the number of grants deleted.
func (w *GrantSweep) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := w.now().UTC().Add(-w.retention)
	count, err := w.grants.DeleteGrantsExpiredBefore(ctx, cutoff)
	if err != nil {
		w.log.Error("failed to delete expired grants", zap.Error(err))
		return 0
	}
	if count > 0 {
		w.log.Info("deleted expired grants",
			zap.Int64("count", count),
			zap.Time("cutoff", cutoff))
	}
	return count
}

// WithClock overrides the time source.
func (w *GrantSweep) WithClock(now func() time.Time) *GrantSweep {
	w.now = now
	return w
}
