package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/metrics"
)

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

// ResolveRequest is an operator decision on the pair (HealthID1, HealthID2).
// For MERGE, HealthID1 is the retired record and HealthID2 the survivor.
type ResolveRequest struct {
	HealthID1 string `json:"health_id1" validate:"required,max=64"`
	HealthID2 string `json:"health_id2" validate:"required,max=64,nefield=HealthID1"`
	Action    Action `json:"action" validate:"required,oneof=RETAIN_ALL MERGE"`
}

// ListQuery selects one page of a catchment's duplicates, newest first.
type ListQuery struct {
	Catchment string `validate:"required"`
	After     uuid.UUID
	Before    uuid.UUID
	Limit     int `validate:"gte=0,lte=100"`
}

// Page is one listing of a catchment. Next is the created_at of the oldest
// stored row the page consumed, so passing it as Before resumes after every
// pair shown here; it is uuid.Nil when the page is empty.
type Page struct {
	Reports []Report
	Next    uuid.UUID
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validationError flattens validator errors into kind.
func validationError(kind, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", kind, err)
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		}
	}
	return fmt.Errorf("%w: %s", kind, strings.Join(msgs, "; "))
}

// ResolutionService lists duplicate pairs and applies operator decisions.
// It may run concurrently with feed ticks; writes are last-write-wins.
type ResolutionService struct {
	finder  RecordFinder
	mapper  *Mapper
	dups    DuplicateRepository
	ignored IgnoredRepository
	logger  zerolog.Logger
}

func NewResolutionService(finder RecordFinder, mapper *Mapper, dups DuplicateRepository, ignored IgnoredRepository, logger zerolog.Logger) *ResolutionService {
	return &ResolutionService{
		finder:  finder,
		mapper:  mapper,
		dups:    dups,
		ignored: ignored,
		logger:  logger.With().Str("component", "resolution").Logger(),
	}
}

// ListDuplicates returns one page of the catchment's pairs, newest first.
// Rows of a pair seen earlier on the page fold into its report.
func (s *ResolutionService) ListDuplicates(ctx context.Context, q ListQuery) (Page, error) {
	if err := getValidator().Struct(q); err != nil {
		return Page{}, validationError(ErrInvalidCatchment, err)
	}
	c, err := patient.ParseCatchment(q.Catchment)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrInvalidCatchment, err)
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultPageLimit
	}
	rows, err := s.dups.ListByCatchment(ctx, c.ID(), q.After, q.Before, limit)
	if err != nil {
		return Page{}, storeError("list duplicates", err)
	}
	reports, err := s.mapper.Collapse(ctx, rows)
	if err != nil {
		return Page{}, err
	}
	page := Page{Reports: reports}
	if len(rows) > 0 {
		page.Next = rows[len(rows)-1].CreatedAt
	}
	return page, nil
}

// Resolve applies a RETAIN_ALL or MERGE decision. Preconditions are checked
// before anything is written; a violation returns ErrInvalidResolution.
func (s *ResolutionService) Resolve(ctx context.Context, req ResolveRequest) error {
	err := s.resolve(ctx, req)
	result := "ok"
	if err != nil {
		result = "rejected"
		if !errors.Is(err, ErrInvalidResolution) {
			result = "error"
		}
	}
	metrics.Resolutions.WithLabelValues(string(req.Action), result).Inc()
	return err
}

func (s *ResolutionService) resolve(ctx context.Context, req ResolveRequest) error {
	if err := getValidator().Struct(req); err != nil {
		return validationError(ErrInvalidResolution, err)
	}
	p1, err := findRecord(ctx, s.finder, req.HealthID1)
	if err != nil {
		return err
	}
	p2, err := findRecord(ctx, s.finder, req.HealthID2)
	if err != nil {
		return err
	}

	switch req.Action {
	case ActionRetainAll:
		return s.retainAll(ctx, p1, p2)
	case ActionMerge:
		return s.merge(ctx, p1, p2)
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidResolution, req.Action)
}

// retainAll suppresses the pair's reasons in both orientations and clears
// its rows. Neither record is touched.
func (s *ResolutionService) retainAll(ctx context.Context, p1, p2 *patient.Record) error {
	if p1.Retired() || p2.Retired() {
		return fmt.Errorf("%w: cannot retain retired patients %s, %s", ErrInvalidResolution, p1.HealthID, p2.HealthID)
	}
	rows, err := s.pairRows(ctx, p1, p2)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s and %s", ErrDuplicateNotFound, p1.HealthID, p2.HealthID)
	}
	var reasons Reasons
	for _, row := range rows {
		reasons = reasons.Union(row.Reasons)
	}

	for _, ig := range []IgnoredDuplicate{
		{HealthID1: p1.HealthID, HealthID2: p2.HealthID, Reasons: reasons},
		{HealthID1: p2.HealthID, HealthID2: p1.HealthID, Reasons: reasons},
	} {
		if err := s.ignored.Save(ctx, ig); err != nil {
			return storeError("save ignored duplicate", err)
		}
	}
	if err := s.dups.Delete(ctx, rows...); err != nil {
		return storeError("delete duplicates", err)
	}
	s.logger.Info().Str("health_id1", p1.HealthID).Str("health_id2", p2.HealthID).Strs("reasons", reasons.Strings()).Msg("duplicates retained")
	return nil
}

// merge confirms that p1 was already retired into p2 and clears the pair.
// The records themselves are merged by the patient store, not here.
func (s *ResolutionService) merge(ctx context.Context, p1, p2 *patient.Record) error {
	switch {
	case !p1.Retired():
		return fmt.Errorf("%w: patient %s must be retired before merge", ErrInvalidResolution, p1.HealthID)
	case p1.MergedWith != p2.HealthID:
		return fmt.Errorf("%w: patient %s is not merged with %s", ErrInvalidResolution, p1.HealthID, p2.HealthID)
	case p2.Retired():
		return fmt.Errorf("%w: merge target %s is retired", ErrInvalidResolution, p2.HealthID)
	}
	rows, err := s.pairRows(ctx, p1, p2)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		if err := s.dups.Delete(ctx, rows...); err != nil {
			return storeError("delete duplicates", err)
		}
	}
	s.logger.Info().Str("health_id1", p1.HealthID).Str("health_id2", p2.HealthID).Int("rows", len(rows)).Msg("duplicates merged")
	return nil
}

// pairRows finds the rows of the pair in both records' partitions.
func (s *ResolutionService) pairRows(ctx context.Context, p1, p2 *patient.Record) ([]DuplicatePatient, error) {
	want := pairOf(p1.HealthID, p2.HealthID)
	seen := map[string]bool{}
	var out []DuplicatePatient
	for _, c := range []patient.Catchment{p1.PresentAddress.Catchment(), p2.PresentAddress.Catchment()} {
		for _, id := range c.AllIDs() {
			if seen[id] {
				continue
			}
			seen[id] = true
			rows, err := s.dups.FindByCatchmentAndHealthID(ctx, id, p1.HealthID)
			if err != nil {
				return nil, storeError("find duplicates", err)
			}
			for _, row := range rows {
				if row.pair() == want {
					out = append(out, row)
				}
			}
		}
	}
	return out, nil
}
