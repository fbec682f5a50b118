package dedup

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/metrics"
)

// RecordFinder is the read side of the record store.
type RecordFinder interface {
	FindByHealthID(ctx context.Context, healthID string) (*patient.Record, error)
	FindAllMatching(ctx context.Context, pred patient.Predicate) ([]*patient.Record, error)
}

// Engine runs every registered rule against a subject and merges the
// matches into one candidate per pair.
type Engine struct {
	finder RecordFinder
	rules  []Rule
}

func NewEngine(finder RecordFinder, rules ...Rule) *Engine {
	return &Engine{finder: finder, rules: rules}
}

func (e *Engine) Rules() []Rule {
	return e.rules
}

// Apply loads the subject and matches it.
func (e *Engine) Apply(ctx context.Context, healthID string) ([]Candidate, error) {
	subject, err := findRecord(ctx, e.finder, healthID)
	if err != nil {
		return nil, err
	}
	return e.ApplyTo(ctx, subject)
}

// ApplyTo queries all rules concurrently. Results land in one slot per rule
// and are merged in registration order once every query is back, so the
// candidate order and reason sets do not depend on scheduling. A single
// failed query fails the whole build. A retired subject has no candidates.
func (e *Engine) ApplyTo(ctx context.Context, subject *patient.Record) ([]Candidate, error) {
	if subject.Retired() {
		return nil, nil
	}

	slots := make([][]*patient.Record, len(e.rules))
	g, gctx := errgroup.WithContext(ctx)
	for i, rule := range e.rules {
		pred, ok := rule.Predicate(subject)
		if !ok || pred.IsEmpty() {
			continue
		}
		g.Go(func() error {
			matches, err := e.finder.FindAllMatching(gctx, pred)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrRuleQuery, rule.Name, err)
			}
			slots[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		candidates []Candidate
		index      = map[pair]int{}
	)
	for i, rule := range e.rules {
		for _, m := range slots[i] {
			if m.HealthID == subject.HealthID || m.Retired() {
				continue
			}
			metrics.RuleMatches.WithLabelValues(rule.Name).Inc()
			c := Candidate{HealthID1: subject.HealthID, HealthID2: m.HealthID, Reasons: NewReasons(rule.Reason)}
			if at, ok := index[c.pair()]; ok {
				candidates[at].Reasons = candidates[at].Reasons.Union(c.Reasons)
				continue
			}
			index[c.pair()] = len(candidates)
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// findRecord maps store failures to ErrTransientStore and keeps
// patient.ErrNotFound visible.
func findRecord(ctx context.Context, finder RecordFinder, healthID string) (*patient.Record, error) {
	r, err := finder.FindByHealthID(ctx, healthID)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, fmt.Errorf("patient %s: %w", healthID, err)
	}
	if err != nil {
		return nil, storeError("find patient "+healthID, err)
	}
	return r, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, ErrTransientStore) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}
