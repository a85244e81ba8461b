package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"golang.org/x/sync/errgroup"
)

// FinalizeWorker drains the finalize job queue with a fixed number of
// goroutines. Each goroutine polls on its own ticker and keeps claiming
// while jobs are available.
type FinalizeWorker struct {
	finalizer    services.FinalizeService
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewFinalizeWorker(finalizer services.FinalizeService, workers int, pollInterval time.Duration, logger *slog.Logger) *FinalizeWorker {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &FinalizeWorker{
		finalizer:    finalizer,
		workers:      workers,
		pollInterval: pollInterval,
		logger:       logger.With("component", "FinalizeWorker"),
	}
}

// Run blocks until ctx is cancelled.
func (w *FinalizeWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		id := i
		g.Go(func() error {
			w.loop(ctx, id)
			return nil
		})
	}
	w.logger.Info("Finalize workers started", "workers", w.workers, "poll_interval", w.pollInterval)
	return g.Wait()
}

func (w *FinalizeWorker) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for ctx.Err() == nil {
				claimed, err := w.drainOne(ctx)
				if err != nil {
					w.logger.Warn("Finalize job failed", "worker", id, "error", err)
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// drainOne processes at most one job. A panicking job is reported as an
// error so the loop survives it.
func (w *FinalizeWorker) drainOne(ctx context.Context) (claimed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Finalize job panic", "panic", r)
			claimed, err = true, fmt.Errorf("finalize job panic: %v", r)
		}
	}()
	return w.finalizer.ProcessNext(ctx)
}
