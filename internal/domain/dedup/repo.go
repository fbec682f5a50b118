package dedup

import (
	"context"

	"github.com/google/uuid"
)

// DuplicateRepository is the catchment-partitioned duplicate store. Every
// row write is atomic on its own; a fan-out is not written as a unit.
type DuplicateRepository interface {
	// FindByCatchmentAndHealthID returns the rows of one partition that
	// reference healthID on either side.
	FindByCatchmentAndHealthID(ctx context.Context, catchmentID, healthID string) ([]DuplicatePatient, error)
	// ListByCatchment scans a partition newest first. after and before are
	// exclusive created_at bounds; uuid.Nil leaves a bound open.
	ListByCatchment(ctx context.Context, catchmentID string, after, before uuid.UUID, limit int) ([]DuplicatePatient, error)
	// CatchmentsReferencing returns the partitions holding at least one row
	// that mentions healthID.
	CatchmentsReferencing(ctx context.Context, healthID string) ([]string, error)
	Insert(ctx context.Context, rows ...DuplicatePatient) error
	Delete(ctx context.Context, rows ...DuplicatePatient) error
}

// IgnoredRepository stores Retain-All decisions per ordered pair.
type IgnoredRepository interface {
	// Find returns nil when the pair has no suppression.
	Find(ctx context.Context, healthID1, healthID2 string) (*IgnoredDuplicate, error)
	// Save adds reasons to the pair's suppression.
	Save(ctx context.Context, ig IgnoredDuplicate) error
}
