package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mci/mci/internal/platform/db"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `health_id, coalesce(national_id, ''), coalesce(uid, ''), coalesce(birth_registration_number, ''),
	given_name, coalesce(sur_name, ''), coalesce(gender, ''), coalesce(date_of_birth, ''),
	coalesce(address_line, ''), coalesce(division_id, ''), coalesce(district_id, ''), coalesce(upazila_id, ''),
	coalesce(city_corporation_id, ''), coalesce(union_or_urban_ward_id, ''), coalesce(rural_ward_id, ''), coalesce(country_code, ''),
	coalesce(phone_country_code, ''), coalesce(phone_area_code, ''), coalesce(phone_number, ''), coalesce(phone_extension, ''),
	relations, active, coalesce(merged_with, ''), created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Record) error {
	a, ph := p.PresentAddress, p.PhoneNumber
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (
			health_id, national_id, uid, birth_registration_number,
			given_name, sur_name, gender, date_of_birth,
			address_line, division_id, district_id, upazila_id,
			city_corporation_id, union_or_urban_ward_id, rural_ward_id, country_code,
			phone_country_code, phone_area_code, phone_number, phone_extension,
			relations, active, merged_with
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''),
			$5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
			NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''), NULLIF($16, ''),
			NULLIF($17, ''), NULLIF($18, ''), NULLIF($19, ''), NULLIF($20, ''),
			$21, $22, NULLIF($23, '')
		) RETURNING created_at, updated_at`,
		p.HealthID, p.NationalID, p.UID, p.BirthRegistrationNumber,
		p.GivenName, p.SurName, p.Gender, p.DateOfBirth,
		a.AddressLine, a.DivisionID, a.DistrictID, a.UpazilaID,
		a.CityCorporationID, a.UnionOrUrbanWardID, a.RuralWardID, a.CountryCode,
		ph.CountryCode, ph.AreaCode, ph.Number, ph.Extension,
		relationsOrEmpty(p.Relations), p.Active, p.MergedWith,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient %s: %w", p.HealthID, err)
	}
	return nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Record) error {
	a, ph := p.PresentAddress, p.PhoneNumber
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			national_id=NULLIF($2, ''), uid=NULLIF($3, ''), birth_registration_number=NULLIF($4, ''),
			given_name=$5, sur_name=NULLIF($6, ''), gender=NULLIF($7, ''), date_of_birth=NULLIF($8, ''),
			address_line=NULLIF($9, ''), division_id=NULLIF($10, ''), district_id=NULLIF($11, ''), upazila_id=NULLIF($12, ''),
			city_corporation_id=NULLIF($13, ''), union_or_urban_ward_id=NULLIF($14, ''), rural_ward_id=NULLIF($15, ''), country_code=NULLIF($16, ''),
			phone_country_code=NULLIF($17, ''), phone_area_code=NULLIF($18, ''), phone_number=NULLIF($19, ''), phone_extension=NULLIF($20, ''),
			relations=$21, active=$22, merged_with=NULLIF($23, ''), updated_at=NOW()
		WHERE health_id = $1
		RETURNING updated_at`,
		p.HealthID, p.NationalID, p.UID, p.BirthRegistrationNumber,
		p.GivenName, p.SurName, p.Gender, p.DateOfBirth,
		a.AddressLine, a.DivisionID, a.DistrictID, a.UpazilaID,
		a.CityCorporationID, a.UnionOrUrbanWardID, a.RuralWardID, a.CountryCode,
		ph.CountryCode, ph.AreaCode, ph.Number, ph.Extension,
		relationsOrEmpty(p.Relations), p.Active, p.MergedWith,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update patient %s: %w", p.HealthID, err)
	}
	return nil
}

func (r *patientRepoPG) FindByHealthID(ctx context.Context, healthID string) (*Record, error) {
	p, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE health_id = $1`, healthID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find patient %s: %w", healthID, err)
	}
	return p, nil
}

func (r *patientRepoPG) FindAllMatching(ctx context.Context, pred Predicate) ([]*Record, error) {
	if pred.IsEmpty() {
		return nil, nil
	}
	var (
		where []string
		args  []interface{}
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("national_id", pred.NationalID)
	add("uid", pred.UID)
	add("birth_registration_number", pred.BirthRegistrationNumber)
	add("given_name", pred.GivenName)
	add("sur_name", pred.SurName)
	add("address_hierarchy", pred.AddressHierarchy)

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("find matching patients: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		p, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var p Record
	a, ph := &p.PresentAddress, &p.PhoneNumber
	err := row.Scan(
		&p.HealthID, &p.NationalID, &p.UID, &p.BirthRegistrationNumber,
		&p.GivenName, &p.SurName, &p.Gender, &p.DateOfBirth,
		&a.AddressLine, &a.DivisionID, &a.DistrictID, &a.UpazilaID,
		&a.CityCorporationID, &a.UnionOrUrbanWardID, &a.RuralWardID, &a.CountryCode,
		&ph.CountryCode, &ph.AreaCode, &ph.Number, &ph.Extension,
		&p.Relations, &p.Active, &p.MergedWith, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func relationsOrEmpty(rel []Relation) []Relation {
	if rel == nil {
		return []Relation{}
	}
	return rel
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
