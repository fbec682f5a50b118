package patient

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError is a rejected write. Nothing was stored.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Service is the write path of the record store. Every write appends the
// matching update-log entry in the same transaction, which is what the
// deduplication feed consumes.
type Service struct {
	records Repository
	changes ChangeRecorder
	tx      Transactor
}

func NewService(records Repository, changes ChangeRecorder, tx Transactor) *Service {
	return &Service{records: records, changes: changes, tx: tx}
}

func (s *Service) GetPatient(ctx context.Context, healthID string) (*Record, error) {
	return s.records.FindByHealthID(ctx, healthID)
}

func (s *Service) CreatePatient(ctx context.Context, p *Record) error {
	if p.HealthID == "" {
		return invalidf("hid is required")
	}
	if p.GivenName == "" {
		return invalidf("given_name is required")
	}
	p.Active = true
	p.MergedWith = ""
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, p); err != nil {
			return err
		}
		return s.changes.RecordCreated(ctx, p.HealthID, Diff(nil, p))
	})
}

// UpdatePatient replaces the stored record. Retirement goes through
// RetirePatient; Active and MergedWith are carried over from the store.
func (s *Service) UpdatePatient(ctx context.Context, p *Record) error {
	if p.GivenName == "" {
		return invalidf("given_name is required")
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.records.FindByHealthID(ctx, p.HealthID)
		if err != nil {
			return err
		}
		if current.Retired() {
			return invalidf("patient %s is retired", p.HealthID)
		}
		p.Active = current.Active
		p.MergedWith = current.MergedWith
		p.CreatedAt = current.CreatedAt
		return s.write(ctx, current, p)
	})
}

// RetirePatient deactivates a record, optionally pointing it at the record
// it was merged into.
func (s *Service) RetirePatient(ctx context.Context, healthID, mergedWith string) error {
	if mergedWith == healthID {
		return invalidf("patient %s cannot be merged with itself", healthID)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.records.FindByHealthID(ctx, healthID)
		if err != nil {
			return err
		}
		if current.Retired() {
			return invalidf("patient %s is already retired", healthID)
		}
		if mergedWith != "" {
			target, err := s.records.FindByHealthID(ctx, mergedWith)
			if errors.Is(err, ErrNotFound) {
				return invalidf("merge target %s not found", mergedWith)
			}
			if err != nil {
				return err
			}
			if target.Retired() {
				return invalidf("merge target %s is retired", mergedWith)
			}
		}
		next := *current
		next.Active = false
		next.MergedWith = mergedWith
		return s.write(ctx, current, &next)
	})
}

func (s *Service) write(ctx context.Context, current, next *Record) error {
	cs := Diff(current, next)
	if cs.IsEmpty() {
		return nil
	}
	if err := s.records.Update(ctx, next); err != nil {
		return err
	}
	return s.changes.RecordUpdated(ctx, next.HealthID, cs)
}
