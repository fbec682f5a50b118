package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mci/mci/internal/platform/db"
)

type duplicateRepoPG struct {
	pool *pgxpool.Pool
}

func NewDuplicateRepo(pool *pgxpool.Pool) DuplicateRepository {
	return &duplicateRepoPG{pool: pool}
}

func (r *duplicateRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const duplicateCols = `catchment_id, created_at, health_id1, health_id2, reasons`

func (r *duplicateRepoPG) FindByCatchmentAndHealthID(ctx context.Context, catchmentID, healthID string) ([]DuplicatePatient, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+duplicateCols+` FROM duplicate_patient
		WHERE catchment_id = $1 AND health_id1 = $2
		UNION ALL
		SELECT `+duplicateCols+` FROM duplicate_patient
		WHERE catchment_id = $1 AND health_id2 = $2 AND health_id1 <> $2
		ORDER BY created_at DESC`,
		catchmentID, healthID)
	if err != nil {
		return nil, fmt.Errorf("find duplicates of %s in %s: %w", healthID, catchmentID, err)
	}
	return scanDuplicates(rows)
}

func (r *duplicateRepoPG) ListByCatchment(ctx context.Context, catchmentID string, after, before uuid.UUID, limit int) ([]DuplicatePatient, error) {
	query := `SELECT ` + duplicateCols + ` FROM duplicate_patient WHERE catchment_id = $1`
	args := []interface{}{catchmentID}
	if after != uuid.Nil {
		args = append(args, after)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	if before != uuid.Nil {
		args = append(args, before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, health_id1, health_id2 LIMIT $%d", len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list duplicates in %s: %w", catchmentID, err)
	}
	return scanDuplicates(rows)
}

func (r *duplicateRepoPG) CatchmentsReferencing(ctx context.Context, healthID string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT catchment_id FROM duplicate_patient WHERE health_id1 = $1
		UNION
		SELECT catchment_id FROM duplicate_patient WHERE health_id2 = $1
		ORDER BY catchment_id`, healthID)
	if err != nil {
		return nil, fmt.Errorf("find catchments of %s: %w", healthID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan catchments of %s: %w", healthID, err)
	}
	return ids, nil
}

// Insert writes each row on its own. An existing row with the same key is
// overwritten.
func (r *duplicateRepoPG) Insert(ctx context.Context, rows ...DuplicatePatient) error {
	for _, d := range rows {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO duplicate_patient (`+duplicateCols+`) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (catchment_id, created_at, health_id1, health_id2) DO UPDATE SET reasons = EXCLUDED.reasons`,
			d.CatchmentID, d.CreatedAt, d.HealthID1, d.HealthID2, d.Reasons.Strings())
		if err != nil {
			return fmt.Errorf("insert duplicate %s/%s-%s: %w", d.CatchmentID, d.HealthID1, d.HealthID2, err)
		}
	}
	return nil
}

func (r *duplicateRepoPG) Delete(ctx context.Context, rows ...DuplicatePatient) error {
	for _, d := range rows {
		_, err := r.conn(ctx).Exec(ctx, `
			DELETE FROM duplicate_patient
			WHERE catchment_id = $1 AND created_at = $2 AND health_id1 = $3 AND health_id2 = $4`,
			d.CatchmentID, d.CreatedAt, d.HealthID1, d.HealthID2)
		if err != nil {
			return fmt.Errorf("delete duplicate %s/%s-%s: %w", d.CatchmentID, d.HealthID1, d.HealthID2, err)
		}
	}
	return nil
}

func scanDuplicates(rows pgx.Rows) ([]DuplicatePatient, error) {
	defer rows.Close()
	var out []DuplicatePatient
	for rows.Next() {
		var (
			d       DuplicatePatient
			reasons []string
		)
		if err := rows.Scan(&d.CatchmentID, &d.CreatedAt, &d.HealthID1, &d.HealthID2, &reasons); err != nil {
			return nil, fmt.Errorf("scan duplicate: %w", err)
		}
		d.Reasons = ReasonsFromStrings(reasons)
		out = append(out, d)
	}
	return out, rows.Err()
}

type ignoredRepoPG struct {
	pool *pgxpool.Pool
}

func NewIgnoredRepo(pool *pgxpool.Pool) IgnoredRepository {
	return &ignoredRepoPG{pool: pool}
}

func (r *ignoredRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *ignoredRepoPG) Find(ctx context.Context, healthID1, healthID2 string) (*IgnoredDuplicate, error) {
	var reasons []string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT reasons FROM duplicate_patient_ignored WHERE health_id1 = $1 AND health_id2 = $2`,
		healthID1, healthID2).Scan(&reasons)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ignored %s-%s: %w", healthID1, healthID2, err)
	}
	return &IgnoredDuplicate{HealthID1: healthID1, HealthID2: healthID2, Reasons: ReasonsFromStrings(reasons)}, nil
}

func (r *ignoredRepoPG) Save(ctx context.Context, ig IgnoredDuplicate) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO duplicate_patient_ignored (health_id1, health_id2, reasons) VALUES ($1, $2, $3)
		ON CONFLICT (health_id1, health_id2) DO UPDATE SET reasons = ARRAY(
			SELECT DISTINCT unnest(duplicate_patient_ignored.reasons || EXCLUDED.reasons) ORDER BY 1
		)`,
		ig.HealthID1, ig.HealthID2, ig.Reasons.Strings())
	if err != nil {
		return fmt.Errorf("save ignored %s-%s: %w", ig.HealthID1, ig.HealthID2, err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
