package dedup

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/metrics"
)

// Processors holds the Create, Update and Retire handlers of the feed.
// Each is idempotent under redelivery of the same entry.
type Processors struct {
	finder  RecordFinder
	engine  *Engine
	mapper  *Mapper
	dups    DuplicateRepository
	ignored IgnoredRepository
	logger  zerolog.Logger
}

func NewProcessors(finder RecordFinder, engine *Engine, mapper *Mapper, dups DuplicateRepository, ignored IgnoredRepository, logger zerolog.Logger) *Processors {
	return &Processors{
		finder:  finder,
		engine:  engine,
		mapper:  mapper,
		dups:    dups,
		ignored: ignored,
		logger:  logger.With().Str("component", "dedup").Logger(),
	}
}

// Create persists the candidates of a new record. A row is skipped when an
// identical finding (same pair in either orientation, same reasons) is
// already stored in its partition, so reprocessing writes nothing and a
// half-written fan-out is completed. A candidate that gained a reason is
// not identical and is stored as an additional row.
func (p *Processors) Create(ctx context.Context, healthID string, _ patient.ChangeSet) error {
	candidates, err := p.candidates(ctx, healthID)
	if err != nil {
		return err
	}

	partitions := partitionCache{}
	inserted := 0
	for _, c := range candidates {
		rows, err := p.mapper.Expand(ctx, c)
		if err != nil {
			return err
		}
		var missing []DuplicatePatient
		for _, row := range rows {
			existing, err := partitions.load(ctx, p.dups, row.CatchmentID, healthID)
			if err != nil {
				return err
			}
			if !containsIdentical(existing, row) {
				missing = append(missing, row)
			}
		}
		if err := p.insert(ctx, missing); err != nil {
			return err
		}
		inserted += len(missing)
	}

	p.logger.Debug().Str("health_id", healthID).Int("candidates", len(candidates)).Int("rows", inserted).Msg("create processed")
	return nil
}

// Update rebuilds the subject's findings and converges the stored rows to
// them: stale rows go, missing rows are added, unchanged rows keep their
// created_at. Rows filed under an earlier address are found even when the
// record changed again before this entry was processed.
func (p *Processors) Update(ctx context.Context, healthID string, cs patient.ChangeSet) error {
	subject, err := findRecord(ctx, p.finder, healthID)
	if err != nil {
		return err
	}
	found, err := p.engine.ApplyTo(ctx, subject)
	if err != nil {
		return err
	}
	candidates, err := p.filterIgnored(ctx, found)
	if err != nil {
		return err
	}

	var desired []DuplicatePatient
	for _, c := range candidates {
		rows, err := p.mapper.Expand(ctx, c)
		if err != nil {
			return err
		}
		desired = append(desired, rows...)
	}

	oldCatchment := cs.OldAddress(subject.PresentAddress).Catchment()
	current, err := p.currentRows(ctx, subject, candidates, oldCatchment)
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(desired))
	for _, d := range desired {
		want[d.key()] = true
	}
	have := make(map[string]bool, len(current))
	var stale []DuplicatePatient
	for _, row := range current {
		k := row.key()
		if want[k] && !have[k] {
			have[k] = true
			continue
		}
		stale = append(stale, row)
	}
	var missing []DuplicatePatient
	for _, d := range desired {
		if !have[d.key()] {
			have[d.key()] = true
			missing = append(missing, d)
		}
	}

	if err := p.delete(ctx, stale); err != nil {
		return err
	}
	if err := p.insert(ctx, missing); err != nil {
		return err
	}
	p.logger.Debug().Str("health_id", healthID).Int("removed", len(stale)).Int("added", len(missing)).Msg("update processed")
	return nil
}

// Retire removes every row that references the retired record. Matching
// is not run.
func (p *Processors) Retire(ctx context.Context, healthID string, cs patient.ChangeSet) error {
	subject, err := findRecord(ctx, p.finder, healthID)
	if err != nil {
		return err
	}
	oldCatchment := cs.OldAddress(subject.PresentAddress).Catchment()
	rows, err := p.currentRows(ctx, subject, nil, oldCatchment)
	if err != nil {
		return err
	}
	if err := p.delete(ctx, rows); err != nil {
		return err
	}
	p.logger.Debug().Str("health_id", healthID).Int("removed", len(rows)).Msg("retire processed")
	return nil
}

func (p *Processors) candidates(ctx context.Context, healthID string) ([]Candidate, error) {
	found, err := p.engine.Apply(ctx, healthID)
	if err != nil {
		return nil, err
	}
	return p.filterIgnored(ctx, found)
}

// filterIgnored subtracts Retain-All suppressions and drops candidates left
// without reasons.
func (p *Processors) filterIgnored(ctx context.Context, candidates []Candidate) ([]Candidate, error) {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		ig, err := p.ignored.Find(ctx, c.HealthID1, c.HealthID2)
		if err != nil {
			return nil, storeError("find ignored duplicates", err)
		}
		if ig != nil {
			c.Reasons = c.Reasons.Minus(ig.Reasons)
		}
		if len(c.Reasons) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

// currentRows collects the stored rows referencing subject from its current
// and previous catchments, from every partition the store still files it
// under, and from the catchments of every counterpart.
func (p *Processors) currentRows(ctx context.Context, subject *patient.Record, candidates []Candidate, previous patient.Catchment) ([]DuplicatePatient, error) {
	hid := subject.HealthID
	partitions := partitionCache{}
	scan := func(c patient.Catchment) error {
		for _, id := range c.AllIDs() {
			if _, err := partitions.load(ctx, p.dups, id, hid); err != nil {
				return err
			}
		}
		return nil
	}

	if err := scan(subject.PresentAddress.Catchment()); err != nil {
		return nil, err
	}
	if err := scan(previous); err != nil {
		return nil, err
	}
	filed, err := p.dups.CatchmentsReferencing(ctx, hid)
	if err != nil {
		return nil, storeError("find catchments", err)
	}
	for _, id := range filed {
		if _, err := partitions.load(ctx, p.dups, id, hid); err != nil {
			return nil, err
		}
	}

	counterparts := map[string]bool{}
	for _, c := range candidates {
		counterparts[c.HealthID2] = true
	}
	for _, rows := range partitions {
		for _, row := range rows {
			counterparts[row.Other(hid)] = true
		}
	}
	for other := range counterparts {
		rec, err := findRecord(ctx, p.finder, other)
		if err != nil {
			return nil, err
		}
		if err := scan(rec.PresentAddress.Catchment()); err != nil {
			return nil, err
		}
	}
	return partitions.rows(), nil
}

func (p *Processors) insert(ctx context.Context, rows []DuplicatePatient) error {
	if len(rows) == 0 {
		return nil
	}
	if err := p.dups.Insert(ctx, rows...); err != nil {
		return storeError("insert duplicates", err)
	}
	metrics.DuplicatesInserted.Add(float64(len(rows)))
	return nil
}

func (p *Processors) delete(ctx context.Context, rows []DuplicatePatient) error {
	if len(rows) == 0 {
		return nil
	}
	if err := p.dups.Delete(ctx, rows...); err != nil {
		return storeError("delete duplicates", err)
	}
	metrics.DuplicatesDeleted.Add(float64(len(rows)))
	return nil
}

// partitionCache memoises the rows of one health id per catchment id.
type partitionCache map[string][]DuplicatePatient

func (pc partitionCache) load(ctx context.Context, dups DuplicateRepository, catchmentID, healthID string) ([]DuplicatePatient, error) {
	if rows, ok := pc[catchmentID]; ok {
		return rows, nil
	}
	rows, err := dups.FindByCatchmentAndHealthID(ctx, catchmentID, healthID)
	if err != nil {
		return nil, storeError("find duplicates", err)
	}
	pc[catchmentID] = rows
	return rows, nil
}

func (pc partitionCache) rows() []DuplicatePatient {
	var out []DuplicatePatient
	for _, rows := range pc {
		out = append(out, rows...)
	}
	return out
}

func containsIdentical(rows []DuplicatePatient, d DuplicatePatient) bool {
	for _, row := range rows {
		if row.Identical(d) {
			return true
		}
	}
	return false
}
