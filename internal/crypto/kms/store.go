package kms

import (
	"context"
	"time"
)

// Store persists wrapped key records. Implementations return sentinel errors
// for infrastructure facts; the service translates them into domain errors.
type Store interface {
	Save(ctx context.Context, rec *record) error
	Get(ctx context.Context, id string) (*record, error)
	// ActiveByPurpose returns the single active key for a purpose, or
	// sentinel.ErrNotFound when none exists yet.
	ActiveByPurpose(ctx context.Context, purpose Purpose) (*record, error)
	UpdateStatus(ctx context.Context, id string, status Status, retiredAt time.Time) error
	List(ctx context.Context, purpose Purpose) ([]*record, error)
}
