package patient

import (
	"fmt"
	"strings"
)

// levelTags prefix each administrative level in a catchment id.
// Order: division, district, upazila, city corporation, union/urban ward, rural ward.
const levelTags = "ABCDEF"

// minCatchmentLevels is the coarsest level duplicates are fanned out to
// (district).
const minCatchmentLevels = 2

// Catchment is a hierarchical geographic key derived from an address.
type Catchment struct {
	parts []string // tag+code for each non-empty level, most general first
}

// NewCatchment builds a catchment from level codes in hierarchy order.
// Empty levels are skipped so that, e.g., a rural address without a city
// corporation still yields a union-level id.
func NewCatchment(codes ...string) Catchment {
	var c Catchment
	for i, code := range codes {
		if i >= len(levelTags) {
			break
		}
		if code == "" {
			continue
		}
		c.parts = append(c.parts, levelTags[i:i+1]+code)
	}
	return c
}

// ParseCatchment accepts either a tagged id ("A10B20C30") or a positional
// code of two-digit pairs ("1020", "102030").
func ParseCatchment(code string) (Catchment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Catchment{}, fmt.Errorf("catchment code is required")
	}
	if strings.HasPrefix(code, levelTags[:1]) {
		return parseTagged(code)
	}
	if len(code)%2 != 0 || len(code)/2 > len(levelTags) {
		return Catchment{}, fmt.Errorf("invalid catchment code %q", code)
	}
	codes := make([]string, 0, len(code)/2)
	for i := 0; i < len(code); i += 2 {
		pair := code[i : i+2]
		if !isDigits(pair) {
			return Catchment{}, fmt.Errorf("invalid catchment code %q", code)
		}
		codes = append(codes, pair)
	}
	c := NewCatchment(codes...)
	if c.Level() < minCatchmentLevels {
		return Catchment{}, fmt.Errorf("catchment %q must include at least a district", code)
	}
	return c, nil
}

func parseTagged(id string) (Catchment, error) {
	codes := make([]string, len(levelTags))
	rest := id
	last := -1
	for rest != "" {
		idx := strings.IndexByte(levelTags, rest[0])
		if idx <= last || len(rest) < 3 || !isDigits(rest[1:3]) {
			return Catchment{}, fmt.Errorf("invalid catchment id %q", id)
		}
		codes[idx] = rest[1:3]
		last = idx
		rest = rest[3:]
	}
	if codes[0] == "" || codes[1] == "" {
		return Catchment{}, fmt.Errorf("catchment %q must include at least a district", id)
	}
	return NewCatchment(codes...), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Level is the number of non-empty levels.
func (c Catchment) Level() int {
	return len(c.parts)
}

// ID is the full derived path. Two catchments are equal iff their ids are.
func (c Catchment) ID() string {
	return strings.Join(c.parts, "")
}

func (c Catchment) Equal(o Catchment) bool {
	return c.ID() == o.ID()
}

// AllIDs expands the catchment to its ids at decreasing specificity, from
// the full path down to the district. A catchment without a district has none.
func (c Catchment) AllIDs() []string {
	if len(c.parts) < minCatchmentLevels {
		return nil
	}
	ids := make([]string, 0, len(c.parts)-minCatchmentLevels+1)
	for n := len(c.parts); n >= minCatchmentLevels; n-- {
		ids = append(ids, strings.Join(c.parts[:n], ""))
	}
	return ids
}

func (c Catchment) String() string {
	return c.ID()
}
