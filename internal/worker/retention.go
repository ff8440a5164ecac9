package worker

import (
	"context"
	"log/slog"
	"time"
)

const retentionSweepEvery = time.Hour

// RetentionStore is the persistence interface consumed by RetentionWorker.
type RetentionStore interface {
	DeleteUsageBefore(ctx context.Context, cutoff string) (int64, error)
}

// RetentionWorker periodically deletes usage records older than the
// configured retention window.
type RetentionWorker struct {
	store  RetentionStore
	maxAge time.Duration
}

// NewRetentionWorker creates a retention worker keeping records for maxAge.
func NewRetentionWorker(store RetentionStore, maxAge time.Duration) *RetentionWorker {
	return &RetentionWorker{store: store, maxAge: maxAge}
}

// Name returns the worker identifier.
func (w *RetentionWorker) Name() string { return "usage_retention" }

// Run prunes expired usage records on a periodic schedule.
func (w *RetentionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(retentionSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.maxAge).Format(time.RFC3339)
	n, err := w.store.DeleteUsageBefore(ctx, cutoff)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "usage retention sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.Info("usage retention sweep completed", "deleted", n, "cutoff", cutoff)
	}
}
