package patient

import (
	"context"
)

// Repository is the record store. FindAllMatching returns every record,
// retired or not, that satisfies the predicate.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	FindByHealthID(ctx context.Context, healthID string) (*Record, error)
	FindAllMatching(ctx context.Context, p Predicate) ([]*Record, error)
}

// ChangeRecorder appends the update-log entry describing a record change.
// It runs in the same transaction as the record write.
type ChangeRecorder interface {
	RecordCreated(ctx context.Context, healthID string, cs ChangeSet) error
	RecordUpdated(ctx context.Context, healthID string, cs ChangeSet) error
}

// Transactor runs fn inside a transaction carried by the context.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
