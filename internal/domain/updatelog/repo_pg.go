package updatelog

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mci/mci/internal/platform/db"
)

// appendLockKey names the advisory lock that serialises appends. It is held
// until the appending transaction ends, so event ids are handed out in
// commit order and a reader walking by event id never passes an entry that
// commits later.
const appendLockKey int64 = 0x6d63695f6c6f67

type logRepoPG struct {
	pool *pgxpool.Pool
	tx   *db.Transactor
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &logRepoPG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *logRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *logRepoPG) Append(ctx context.Context, e *Entry) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		return r.append(ctx, e)
	})
}

func (r *logRepoPG) append(ctx context.Context, e *Entry) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return fmt.Errorf("lock update log: %w", err)
	}
	if e.EventID == uuid.Nil {
		var last uuid.UUID
		if err := q.QueryRow(ctx, `SELECT coalesce(max(event_id), '00000000-0000-0000-0000-000000000000'::uuid) FROM patient_update_log`).Scan(&last); err != nil {
			return fmt.Errorf("read last event id: %w", err)
		}
		id, err := nextEventID(last)
		if err != nil {
			return err
		}
		e.EventID = id
	}

	err := q.QueryRow(ctx, `
		INSERT INTO patient_update_log (event_id, health_id, event_type, change_set, requested_by, approved_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		RETURNING created_at`,
		e.EventID, e.HealthID, string(e.EventType), string(e.ChangeSet), e.RequestedBy, e.ApprovedBy,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append update log entry %s: %w", e.EventID, err)
	}
	return nil
}

func (r *logRepoPG) NextAfter(ctx context.Context, marker uuid.UUID) (*Entry, error) {
	var (
		e         Entry
		eventType string
		changeSet string
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT event_id, health_id, event_type, change_set::text,
			coalesce(requested_by, ''), coalesce(approved_by, ''), created_at
		FROM patient_update_log
		WHERE event_id > $1
		ORDER BY event_id
		LIMIT 1`, marker,
	).Scan(&e.EventID, &e.HealthID, &eventType, &changeSet, &e.RequestedBy, &e.ApprovedBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read update log after %s: %w", marker, err)
	}
	e.EventType = EventType(eventType)
	e.ChangeSet = []byte(changeSet)
	return &e, nil
}

// nextEventID returns a fresh v7 id, or the successor of last when the local
// clock is behind the newest stored id.
func nextEventID(last uuid.UUID) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate event id: %w", err)
	}
	if bytes.Compare(id[:], last[:]) > 0 {
		return id, nil
	}
	id = last
	// Bytes 9..15 hold random bits only; byte 8 carries the variant.
	for i := 15; i > 8; i-- {
		id[i]++
		if id[i] != 0 {
			break
		}
	}
	return id, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
