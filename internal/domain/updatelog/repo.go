package updatelog

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the append-only update log.
type Repository interface {
	// Append stores e. When e.EventID is uuid.Nil a fresh id is assigned
	// that orders after every entry committed before e.
	Append(ctx context.Context, e *Entry) error
	// NextAfter returns the first entry strictly after marker, or the very
	// first entry when marker is uuid.Nil. It returns nil when there is none.
	NextAfter(ctx context.Context, marker uuid.UUID) (*Entry, error)
}
