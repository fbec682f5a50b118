package testutil

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mci/mci/internal/domain/dedup"
)

type rowKey struct {
	catchmentID string
	createdAt   uuid.UUID
	healthID1   string
	healthID2   string
}

func keyOf(d dedup.DuplicatePatient) rowKey {
	return rowKey{d.CatchmentID, d.CreatedAt, d.HealthID1, d.HealthID2}
}

// Duplicates is an in-memory dedup.DuplicateRepository.
type Duplicates struct {
	mu   sync.Mutex
	rows map[rowKey]dedup.DuplicatePatient

	FindErr   error
	ListErr   error
	DeleteErr error
	InsertErr error
	// insertBudget, when non-negative, is the number of rows Insert still
	// accepts before failing with InsertErr.
	insertBudget int
}

func NewDuplicates(rows ...dedup.DuplicatePatient) *Duplicates {
	d := &Duplicates{rows: map[rowKey]dedup.DuplicatePatient{}, insertBudget: -1}
	for _, r := range rows {
		d.rows[keyOf(r)] = r
	}
	return d
}

// FailInsertAfter lets n more rows through, then fails every insert with err.
func (d *Duplicates) FailInsertAfter(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertBudget = n
	d.InsertErr = err
}

// Heal clears every injected error.
func (d *Duplicates) Heal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FindErr, d.ListErr, d.DeleteErr, d.InsertErr = nil, nil, nil, nil
	d.insertBudget = -1
}

func (d *Duplicates) FindByCatchmentAndHealthID(_ context.Context, catchmentID, healthID string) ([]dedup.DuplicatePatient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FindErr != nil {
		return nil, d.FindErr
	}
	var out []dedup.DuplicatePatient
	for k, r := range d.rows {
		if k.catchmentID == catchmentID && r.References(healthID) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (d *Duplicates) ListByCatchment(_ context.Context, catchmentID string, after, before uuid.UUID, limit int) ([]dedup.DuplicatePatient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	var out []dedup.DuplicatePatient
	for k, r := range d.rows {
		if k.catchmentID != catchmentID {
			continue
		}
		if after != uuid.Nil && bytes.Compare(r.CreatedAt[:], after[:]) <= 0 {
			continue
		}
		if before != uuid.Nil && bytes.Compare(r.CreatedAt[:], before[:]) >= 0 {
			continue
		}
		out = append(out, r)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Duplicates) CatchmentsReferencing(_ context.Context, healthID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FindErr != nil {
		return nil, d.FindErr
	}
	seen := map[string]bool{}
	var out []string
	for k, r := range d.rows {
		if r.HealthID1 != healthID && r.HealthID2 != healthID {
			continue
		}
		if !seen[k.catchmentID] {
			seen[k.catchmentID] = true
			out = append(out, k.catchmentID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *Duplicates) Insert(_ context.Context, rows ...dedup.DuplicatePatient) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range rows {
		if d.InsertErr != nil && d.insertBudget == 0 {
			return d.InsertErr
		}
		if d.insertBudget > 0 {
			d.insertBudget--
		}
		d.rows[keyOf(r)] = r
	}
	return nil
}

func (d *Duplicates) Delete(_ context.Context, rows ...dedup.DuplicatePatient) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DeleteErr != nil {
		return d.DeleteErr
	}
	for _, r := range rows {
		delete(d.rows, keyOf(r))
	}
	return nil
}

// All returns every stored row, newest first.
func (d *Duplicates) All() []dedup.DuplicatePatient {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dedup.DuplicatePatient, 0, len(d.rows))
	for _, r := range d.rows {
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out
}

// InCatchment returns the rows of one partition, newest first.
func (d *Duplicates) InCatchment(catchmentID string) []dedup.DuplicatePatient {
	var out []dedup.DuplicatePatient
	for _, r := range d.All() {
		if r.CatchmentID == catchmentID {
			out = append(out, r)
		}
	}
	return out
}

func sortNewestFirst(rows []dedup.DuplicatePatient) {
	sort.Slice(rows, func(i, j int) bool {
		if c := bytes.Compare(rows[i].CreatedAt[:], rows[j].CreatedAt[:]); c != 0 {
			return c > 0
		}
		if rows[i].HealthID1 != rows[j].HealthID1 {
			return rows[i].HealthID1 < rows[j].HealthID1
		}
		return rows[i].HealthID2 < rows[j].HealthID2
	})
}

// Ignored is an in-memory dedup.IgnoredRepository.
type Ignored struct {
	mu      sync.Mutex
	ignored map[[2]string]dedup.Reasons

	FindErr error
	SaveErr error
}

func NewIgnored() *Ignored {
	return &Ignored{ignored: map[[2]string]dedup.Reasons{}}
}

func (i *Ignored) Find(_ context.Context, healthID1, healthID2 string) (*dedup.IgnoredDuplicate, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.FindErr != nil {
		return nil, i.FindErr
	}
	reasons, ok := i.ignored[[2]string{healthID1, healthID2}]
	if !ok {
		return nil, nil
	}
	return &dedup.IgnoredDuplicate{HealthID1: healthID1, HealthID2: healthID2, Reasons: reasons}, nil
}

func (i *Ignored) Save(_ context.Context, ig dedup.IgnoredDuplicate) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.SaveErr != nil {
		return i.SaveErr
	}
	k := [2]string{ig.HealthID1, ig.HealthID2}
	i.ignored[k] = i.ignored[k].Union(ig.Reasons)
	return nil
}
