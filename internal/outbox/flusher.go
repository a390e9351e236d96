package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
)

// Flusher drives FlushOnce on a fixed period. Kick requests an early pass,
// e.g. right after a write was queued or a session was restored.
type Flusher struct {
	queue    *Queue
	interval time.Duration
	logger   aqm.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFlusher(queue *Queue, interval time.Duration, logger aqm.Logger) *Flusher {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if interval <= 0 {
		interval = DefaultConfig().FlushInterval
	}
	return &Flusher{
		queue:    queue,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

func (f *Flusher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.wg.Add(1)
	go f.run(runCtx)
	f.logger.Info("outbox flusher started", "interval", f.interval.String())
	return nil
}

func (f *Flusher) Stop(ctx context.Context) error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		f.logger.Info("outbox flusher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kick schedules a flush pass without waiting for the next tick.
func (f *Flusher) Kick() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *Flusher) run(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-f.kick:
		}
		f.flush(ctx)
	}
}

func (f *Flusher) flush(ctx context.Context) {
	res, err := f.queue.FlushOnce(ctx)
	if err != nil {
		f.logger.Errorf("outbox flush failed: %v", err)
		return
	}
	if res.Sent > 0 || res.Dropped > 0 {
		f.logger.Info("outbox flushed", "sent", res.Sent, "remaining", res.Remaining, "dropped", res.Dropped)
	}
}
