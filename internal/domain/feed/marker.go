package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultConsumer is the marker key of the duplicate-detection consumer.
const DefaultConsumer = "DUPLICATE_PATIENT_MARKER"

// MarkerRepository persists one cursor per consumer. Read reports ok=false
// before the first successful write.
type MarkerRepository interface {
	Read(ctx context.Context, consumer string) (marker uuid.UUID, ok bool, err error)
	Write(ctx context.Context, consumer string, marker uuid.UUID) error
}

type markerRepoPG struct {
	pool *pgxpool.Pool
}

func NewMarkerRepo(pool *pgxpool.Pool) MarkerRepository {
	return &markerRepoPG{pool: pool}
}

func (r *markerRepoPG) Read(ctx context.Context, consumer string) (uuid.UUID, bool, error) {
	var marker uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT event_id FROM feed_marker WHERE consumer = $1`, consumer).Scan(&marker)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("read marker %s: %w", consumer, err)
	}
	return marker, true, nil
}

func (r *markerRepoPG) Write(ctx context.Context, consumer string, marker uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO feed_marker (consumer, event_id, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (consumer) DO UPDATE SET event_id = EXCLUDED.event_id, updated_at = NOW()`,
		consumer, marker)
	if err != nil {
		return fmt.Errorf("write marker %s: %w", consumer, err)
	}
	return nil
}
