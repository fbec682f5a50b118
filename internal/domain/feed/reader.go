package feed

import (
	"context"

	"github.com/google/uuid"

	"github.com/mci/mci/internal/domain/updatelog"
)

// Reader walks the update log once per entry, in event-id order, resuming
// from the consumer's marker.
type Reader struct {
	log      updatelog.Repository
	markers  MarkerRepository
	consumer string
}

func NewReader(log updatelog.Repository, markers MarkerRepository, consumer string) *Reader {
	if consumer == "" {
		consumer = DefaultConsumer
	}
	return &Reader{log: log, markers: markers, consumer: consumer}
}

// Next returns the first entry after the marker, or nil when caught up.
func (r *Reader) Next(ctx context.Context) (*updatelog.Entry, error) {
	marker, ok, err := r.markers.Read(ctx, r.consumer)
	if err != nil {
		return nil, err
	}
	if !ok {
		marker = uuid.Nil
	}
	return r.log.NextAfter(ctx, marker)
}

// Commit advances the marker to e. Call only after e was processed.
func (r *Reader) Commit(ctx context.Context, e *updatelog.Entry) error {
	return r.markers.Write(ctx, r.consumer, e.EventID)
}

func (r *Reader) Consumer() string {
	return r.consumer
}
