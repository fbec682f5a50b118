package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mci/mci/internal/domain/patient"
)

// Mapper converts between candidates and their catchment-partitioned rows.
type Mapper struct {
	finder RecordFinder
	newID  func() (uuid.UUID, error)
}

func NewMapper(finder RecordFinder) *Mapper {
	return &Mapper{finder: finder, newID: uuid.NewV7}
}

// Expand loads both sides of c and fans it out.
func (m *Mapper) Expand(ctx context.Context, c Candidate) ([]DuplicatePatient, error) {
	subject, err := findRecord(ctx, m.finder, c.HealthID1)
	if err != nil {
		return nil, err
	}
	other, err := findRecord(ctx, m.finder, c.HealthID2)
	if err != nil {
		return nil, err
	}
	createdAt, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("generate created_at: %w", err)
	}
	return expand(subject.PresentAddress.Catchment(), other.PresentAddress.Catchment(), c, createdAt), nil
}

// expand emits one row per catchment id. When the two sides live in
// different catchments each side's fan-out is written with that side as
// health_id1, so the pair is found from either geography.
func expand(subject, other patient.Catchment, c Candidate, createdAt uuid.UUID) []DuplicatePatient {
	rows := fanOut(subject, c.HealthID1, c.HealthID2, c.Reasons, createdAt)
	if !subject.Equal(other) {
		rows = append(rows, fanOut(other, c.HealthID2, c.HealthID1, c.Reasons, createdAt)...)
	}
	return rows
}

func fanOut(c patient.Catchment, hid1, hid2 string, reasons Reasons, createdAt uuid.UUID) []DuplicatePatient {
	ids := c.AllIDs()
	rows := make([]DuplicatePatient, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, DuplicatePatient{
			CatchmentID: id,
			CreatedAt:   createdAt,
			HealthID1:   hid1,
			HealthID2:   hid2,
			Reasons:     reasons,
		})
	}
	return rows
}

// Collapse folds rows into one report per unordered pair, in first-seen
// order, with the union of their reasons and fresh record summaries.
func (m *Mapper) Collapse(ctx context.Context, rows []DuplicatePatient) ([]Report, error) {
	var (
		reports []Report
		index   = map[pair]int{}
	)
	for _, row := range rows {
		if at, ok := index[row.pair()]; ok {
			reports[at].Reasons = reports[at].Reasons.Union(row.Reasons)
			continue
		}
		p1, err := findRecord(ctx, m.finder, row.HealthID1)
		if err != nil {
			return nil, err
		}
		p2, err := findRecord(ctx, m.finder, row.HealthID2)
		if err != nil {
			return nil, err
		}
		index[row.pair()] = len(reports)
		reports = append(reports, Report{
			Patient1:    p1.Summary(),
			Patient2:    p2.Summary(),
			Reasons:     NewReasons(row.Reasons...),
			CatchmentID: row.CatchmentID,
			Cursor:      row.CreatedAt,
			CreatedAt:   timeOf(row.CreatedAt),
		})
	}
	return reports, nil
}

// timeOf reads the millisecond timestamp of a UUIDv7.
func timeOf(id uuid.UUID) time.Time {
	return time.Unix(id.Time().UnixTime()).UTC()
}
