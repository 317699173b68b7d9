package audit

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// Store persists audit events append-only. Implementations must be safe
// under concurrent writers.
type Store interface {
	Append(ctx context.Context, event Event) error
	QueryWindow(ctx context.Context, filter Filter, from, to time.Time) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, c domain.Classification) (int64, error)
}
