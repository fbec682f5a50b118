package dedup

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mci/mci/internal/domain/patient"
)

var (
	// ErrTransientStore marks store failures and timeouts. The feed retries
	// the entry on the next tick.
	ErrTransientStore = errors.New("transient store error")
	// ErrRuleQuery is a failed rule lookup. It is a transient store error.
	ErrRuleQuery = fmt.Errorf("rule query failed: %w", ErrTransientStore)
	// ErrInvalidResolution is a resolution request whose preconditions do
	// not hold. Nothing is written.
	ErrInvalidResolution = errors.New("invalid resolution request")
	ErrInvalidCatchment  = errors.New("invalid catchment")
	ErrDuplicateNotFound = errors.New("duplicate not found")
)

// Reason tags why two records were flagged.
type Reason string

const (
	ReasonNationalID  Reason = "DUPLICATE_REASON_NID"
	ReasonUID         Reason = "DUPLICATE_REASON_UID"
	ReasonBRN         Reason = "DUPLICATE_REASON_BRN"
	ReasonNameAddress Reason = "DUPLICATE_REASON_NAME_ADDRESS"
)

// Reasons is a set of reason tags kept sorted and without repeats.
type Reasons []Reason

func NewReasons(rs ...Reason) Reasons {
	return Reasons(nil).Union(rs)
}

func (r Reasons) Contains(reason Reason) bool {
	i := sort.Search(len(r), func(i int) bool { return r[i] >= reason })
	return i < len(r) && r[i] == reason
}

func (r Reasons) Union(o Reasons) Reasons {
	seen := make(map[Reason]struct{}, len(r)+len(o))
	out := make(Reasons, 0, len(r)+len(o))
	for _, list := range []Reasons{r, o} {
		for _, reason := range list {
			if _, ok := seen[reason]; ok {
				continue
			}
			seen[reason] = struct{}{}
			out = append(out, reason)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r Reasons) Minus(o Reasons) Reasons {
	out := make(Reasons, 0, len(r))
	for _, reason := range r {
		if !o.Contains(reason) {
			out = append(out, reason)
		}
	}
	return out
}

func (r Reasons) Equal(o Reasons) bool {
	a, b := NewReasons(r...), NewReasons(o...)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r Reasons) Strings() []string {
	out := make([]string, len(r))
	for i, reason := range r {
		out[i] = string(reason)
	}
	return out
}

func ReasonsFromStrings(ss []string) Reasons {
	rs := make(Reasons, len(ss))
	for i, s := range ss {
		rs[i] = Reason(s)
	}
	return NewReasons(rs...)
}

// pair is an unordered pair of health ids.
type pair struct{ lo, hi string }

func pairOf(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

// Candidate is a probable duplicate found for a subject record.
// HealthID1 is the subject.
type Candidate struct {
	HealthID1 string
	HealthID2 string
	Reasons   Reasons
}

func (c Candidate) pair() pair {
	return pairOf(c.HealthID1, c.HealthID2)
}

// DuplicatePatient is one stored row of a candidate, fanned out per
// catchment id. CreatedAt is a UUIDv7 shared by all rows of one detection.
type DuplicatePatient struct {
	CatchmentID string    `json:"catchment_id"`
	CreatedAt   uuid.UUID `json:"created_at"`
	HealthID1   string    `json:"health_id1"`
	HealthID2   string    `json:"health_id2"`
	Reasons     Reasons   `json:"reasons"`
}

func (d DuplicatePatient) pair() pair {
	return pairOf(d.HealthID1, d.HealthID2)
}

// Identical reports whether o records the same finding: the same pair in
// either orientation with the same reasons.
func (d DuplicatePatient) Identical(o DuplicatePatient) bool {
	return d.pair() == o.pair() && d.Reasons.Equal(o.Reasons)
}

func (d DuplicatePatient) References(healthID string) bool {
	return d.HealthID1 == healthID || d.HealthID2 == healthID
}

// Other returns the side of the row that is not healthID.
func (d DuplicatePatient) Other(healthID string) string {
	if d.HealthID1 == healthID {
		return d.HealthID2
	}
	return d.HealthID1
}

// key identifies a row by partition, orientation and reasons; created_at
// is ignored so that re-detected rows compare equal.
func (d DuplicatePatient) key() string {
	return d.CatchmentID + "|" + d.HealthID1 + "|" + d.HealthID2 + "|" + strings.Join(d.Reasons.Strings(), ",")
}

// IgnoredDuplicate suppresses reasons for an ordered pair.
type IgnoredDuplicate struct {
	HealthID1 string  `json:"health_id1"`
	HealthID2 string  `json:"health_id2"`
	Reasons   Reasons `json:"reasons"`
}

// Report is a duplicate pair as shown to an operator.
type Report struct {
	Patient1    patient.Summary `json:"patient1"`
	Patient2    patient.Summary `json:"patient2"`
	Reasons     Reasons         `json:"reasons"`
	CatchmentID string          `json:"catchment_id"`
	Cursor      uuid.UUID       `json:"cursor"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Action is an operator decision on a duplicate pair.
type Action string

const (
	ActionRetainAll Action = "RETAIN_ALL"
	ActionMerge     Action = "MERGE"
)
