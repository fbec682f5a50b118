package patient

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// EmptyValue marks an absent field in a change set. It is never JSON null,
// so presence and absence compare unambiguously.
const EmptyValue = ""

var ErrMalformedChangeSet = errors.New("malformed change set")

// FieldChange holds the before and after value of one field path.
type FieldChange struct {
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

// ChangeSet maps dotted field paths to their change. Encoding sorts keys,
// so the persisted form is ordered.
type ChangeSet map[string]FieldChange

// Paths returns the changed paths in sorted order.
func (cs ChangeSet) Paths() []string {
	paths := make([]string, 0, len(cs))
	for p := range cs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (cs ChangeSet) IsEmpty() bool {
	return len(cs) == 0
}

// Has reports whether any path starts with prefix.
func (cs ChangeSet) Has(prefix string) bool {
	for p := range cs {
		if p == prefix || strings.HasPrefix(p, prefix+".") {
			return true
		}
	}
	return false
}

// BoolChange returns the change of a boolean field. ok is false when the
// path is missing or either side is not a boolean.
func (cs ChangeSet) BoolChange(path string) (oldValue, newValue bool, ok bool) {
	fc, found := cs[path]
	if !found {
		return false, false, false
	}
	o, okOld := fc.OldValue.(bool)
	n, okNew := fc.NewValue.(bool)
	if !okOld || !okNew {
		return false, false, false
	}
	return o, n, true
}

// OldAddress rebuilds the present address as it was before the change,
// starting from current. Fields the change set does not carry keep their
// current value, so the result is exact only when current is the state the
// change produced.
func (cs ChangeSet) OldAddress(current Address) Address {
	old := current
	fields := map[string]*string{
		"present_address.address_line":           &old.AddressLine,
		"present_address.division_id":            &old.DivisionID,
		"present_address.district_id":            &old.DistrictID,
		"present_address.upazila_id":             &old.UpazilaID,
		"present_address.city_corporation_id":    &old.CityCorporationID,
		"present_address.union_or_urban_ward_id": &old.UnionOrUrbanWardID,
		"present_address.rural_ward_id":          &old.RuralWardID,
		"present_address.country_code":           &old.CountryCode,
	}
	for path, dst := range fields {
		fc, ok := cs[path]
		if !ok {
			continue
		}
		s, _ := fc.OldValue.(string)
		*dst = s
	}
	return old
}

func (cs ChangeSet) Marshal() ([]byte, error) {
	if cs == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]FieldChange(cs))
}

// ParseChangeSet decodes a persisted change set. Empty input is an empty set.
func ParseChangeSet(data []byte) (ChangeSet, error) {
	if len(data) == 0 {
		return ChangeSet{}, nil
	}
	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChangeSet, err)
	}
	cs := make(ChangeSet, len(raw))
	for path, entry := range raw {
		oldValue, okOld := entry["old_value"]
		newValue, okNew := entry["new_value"]
		if !okOld && !okNew {
			return nil, fmt.Errorf("%w: entry %q has neither old_value nor new_value", ErrMalformedChangeSet, path)
		}
		cs[path] = FieldChange{OldValue: normalize(oldValue), NewValue: normalize(newValue)}
	}
	return cs, nil
}

func normalize(v interface{}) interface{} {
	if v == nil {
		return EmptyValue
	}
	return v
}
