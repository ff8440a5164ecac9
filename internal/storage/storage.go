// Package storage defines persistence interfaces for the bridge daemon.
package storage

import (
	"context"

	bridge "github.com/eugener/radagast/internal"
)

// UsageStore manages usage record persistence.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []bridge.UsageRecord) error
	QueryUsage(ctx context.Context, f bridge.UsageFilter) ([]bridge.UsageRecord, error)
	CountUsage(ctx context.Context, f bridge.UsageFilter) (int, error)
	DeleteUsageBefore(ctx context.Context, cutoff string) (int64, error)
}

// Store combines the storage interfaces with lifecycle hooks.
type Store interface {
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}
