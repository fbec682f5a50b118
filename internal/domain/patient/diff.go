package patient

import (
	"fmt"
	"reflect"
)

// Diff computes the field-level change set that turns lhs into rhs. A nil
// side diffs as a record with every field absent.
//
// Nested value objects are expanded to dotted paths, string fields compare
// in their empty-normalized form and relation lists compare as sets, so
// reordering relations never yields an entry.
func Diff(lhs, rhs *Record) ChangeSet {
	if lhs == rhs || (lhs != nil && rhs != nil && reflect.DeepEqual(lhs, rhs)) {
		return ChangeSet{}
	}
	return diffMaps(lhs.flatten(), rhs.flatten())
}

// diffMaps compares two flattened records. Both sides of a path must hold
// the same type; a mismatch is a programming error and panics.
func diffMaps(left, right map[string]interface{}) ChangeSet {
	cs := ChangeSet{}
	for path := range union(left, right) {
		lv, rv := left[path], right[path]
		if isEmpty(lv) && isEmpty(rv) {
			continue
		}
		if lv != nil && rv != nil && reflect.TypeOf(lv) != reflect.TypeOf(rv) {
			panic(fmt.Sprintf("patient: diff type mismatch at %s: %T vs %T", path, lv, rv))
		}
		if equalValues(lv, rv) {
			continue
		}
		cs[path] = FieldChange{OldValue: defaultValue(lv), NewValue: defaultValue(rv)}
	}
	return cs
}

// flatten returns the comparable fields of the record keyed by dotted path.
// Values are string, bool or []Relation.
func (r *Record) flatten() map[string]interface{} {
	if r == nil {
		return map[string]interface{}{}
	}
	m := map[string]interface{}{
		"hid":                       r.HealthID,
		"nid":                       r.NationalID,
		"uid":                       r.UID,
		"bin_brn":                   r.BirthRegistrationNumber,
		"given_name":                r.GivenName,
		"sur_name":                  r.SurName,
		"gender":                    r.Gender,
		"date_of_birth":             r.DateOfBirth,
		"active":                    r.Active,
		"merged_with":               r.MergedWith,
		"relations":                 r.Relations,
		"phone_number.country_code": r.PhoneNumber.CountryCode,
		"phone_number.area_code":    r.PhoneNumber.AreaCode,
		"phone_number.number":       r.PhoneNumber.Number,
		"phone_number.extension":    r.PhoneNumber.Extension,
	}
	a := r.PresentAddress
	m["present_address.address_line"] = a.AddressLine
	m["present_address.division_id"] = a.DivisionID
	m["present_address.district_id"] = a.DistrictID
	m["present_address.upazila_id"] = a.UpazilaID
	m["present_address.city_corporation_id"] = a.CityCorporationID
	m["present_address.union_or_urban_ward_id"] = a.UnionOrUrbanWardID
	m["present_address.rural_ward_id"] = a.RuralWardID
	m["present_address.country_code"] = a.CountryCode
	return m
}

func union(a, b map[string]interface{}) map[string]struct{} {
	keys := make(map[string]struct{}, len(a))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == EmptyValue
	case []Relation:
		return len(val) == 0
	}
	return false
}

func equalValues(lv, rv interface{}) bool {
	if isEmpty(lv) || isEmpty(rv) {
		return isEmpty(lv) == isEmpty(rv)
	}
	switch l := lv.(type) {
	case []Relation:
		return sameSet(l, rv.([]Relation))
	default:
		return lv == rv
	}
}

// sameSet compares two slices ignoring order: equal size and each side
// contains every element of the other.
func sameSet[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	return containsAll(a, b) && containsAll(b, a)
}

func containsAll[T comparable](haystack, needles []T) bool {
	set := make(map[T]struct{}, len(haystack))
	for _, v := range haystack {
		set[v] = struct{}{}
	}
	for _, v := range needles {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

// defaultValue maps an absent field to EmptyValue. Booleans and relation
// lists keep their JSON shape; other values become their string form.
func defaultValue(v interface{}) interface{} {
	if isEmpty(v) {
		return EmptyValue
	}
	switch val := v.(type) {
	case string, bool, []Relation:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
