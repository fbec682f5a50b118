package patient

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("patient not found")

// Record maps to the patient table. Empty strings mean the field is absent.
type Record struct {
	HealthID                string      `db:"health_id" json:"hid"`
	NationalID              string      `db:"national_id" json:"nid,omitempty"`
	UID                     string      `db:"uid" json:"uid,omitempty"`
	BirthRegistrationNumber string      `db:"birth_registration_number" json:"bin_brn,omitempty"`
	GivenName               string      `db:"given_name" json:"given_name"`
	SurName                 string      `db:"sur_name" json:"sur_name,omitempty"`
	Gender                  string      `db:"gender" json:"gender,omitempty"`
	DateOfBirth             string      `db:"date_of_birth" json:"date_of_birth,omitempty"`
	PresentAddress          Address     `json:"present_address"`
	PhoneNumber             PhoneNumber `json:"phone_number"`
	Relations               []Relation  `db:"relations" json:"relations,omitempty"`
	Active                  bool        `db:"active" json:"active"`
	MergedWith              string      `db:"merged_with" json:"merged_with,omitempty"`
	CreatedAt               time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time   `db:"updated_at" json:"updated_at"`
}

// Retired reports whether the record has been deactivated.
func (r *Record) Retired() bool {
	return !r.Active
}

// Address is the present address of a patient. The id fields form the
// administrative hierarchy a catchment is derived from.
type Address struct {
	AddressLine        string `db:"address_line" json:"address_line,omitempty"`
	DivisionID         string `db:"division_id" json:"division_id,omitempty"`
	DistrictID         string `db:"district_id" json:"district_id,omitempty"`
	UpazilaID          string `db:"upazila_id" json:"upazila_id,omitempty"`
	CityCorporationID  string `db:"city_corporation_id" json:"city_corporation_id,omitempty"`
	UnionOrUrbanWardID string `db:"union_or_urban_ward_id" json:"union_or_urban_ward_id,omitempty"`
	RuralWardID        string `db:"rural_ward_id" json:"rural_ward_id,omitempty"`
	CountryCode        string `db:"country_code" json:"country_code,omitempty"`
}

// Catchment derives the catchment the address belongs to.
func (a Address) Catchment() Catchment {
	return NewCatchment(a.DivisionID, a.DistrictID, a.UpazilaID, a.CityCorporationID, a.UnionOrUrbanWardID, a.RuralWardID)
}

// Hierarchy concatenates the address ids from division down to rural ward.
func (a Address) Hierarchy() string {
	return a.DivisionID + a.DistrictID + a.UpazilaID + a.CityCorporationID + a.UnionOrUrbanWardID + a.RuralWardID
}

type PhoneNumber struct {
	CountryCode string `db:"phone_country_code" json:"country_code,omitempty"`
	AreaCode    string `db:"phone_area_code" json:"area_code,omitempty"`
	Number      string `db:"phone_number" json:"number,omitempty"`
	Extension   string `db:"phone_extension" json:"extension,omitempty"`
}

// Relation links a patient to a family member. Order within
// Record.Relations carries no meaning.
type Relation struct {
	Type      string `json:"type"`
	HealthID  string `json:"hid,omitempty"`
	GivenName string `json:"given_name,omitempty"`
	SurName   string `json:"sur_name,omitempty"`
}

// Summary is the subset of a record shown to operators reviewing duplicates.
type Summary struct {
	HealthID                string  `json:"hid"`
	NationalID              string  `json:"nid,omitempty"`
	UID                     string  `json:"uid,omitempty"`
	BirthRegistrationNumber string  `json:"bin_brn,omitempty"`
	GivenName               string  `json:"given_name"`
	SurName                 string  `json:"sur_name,omitempty"`
	Gender                  string  `json:"gender,omitempty"`
	DateOfBirth             string  `json:"date_of_birth,omitempty"`
	PresentAddress          Address `json:"present_address"`
	Active                  bool    `json:"active"`
}

func (r *Record) Summary() Summary {
	return Summary{
		HealthID:                r.HealthID,
		NationalID:              r.NationalID,
		UID:                     r.UID,
		BirthRegistrationNumber: r.BirthRegistrationNumber,
		GivenName:               r.GivenName,
		SurName:                 r.SurName,
		Gender:                  r.Gender,
		DateOfBirth:             r.DateOfBirth,
		PresentAddress:          r.PresentAddress,
		Active:                  r.Active,
	}
}

// Predicate selects records by exact equality on every non-empty field.
// An all-empty predicate matches nothing.
type Predicate struct {
	NationalID              string
	UID                     string
	BirthRegistrationNumber string
	GivenName               string
	SurName                 string
	AddressHierarchy        string
}

func (p Predicate) IsEmpty() bool {
	return p == Predicate{}
}

// Matches evaluates the predicate against a record in memory.
func (p Predicate) Matches(r *Record) bool {
	if p.IsEmpty() {
		return false
	}
	checks := []struct{ want, got string }{
		{p.NationalID, r.NationalID},
		{p.UID, r.UID},
		{p.BirthRegistrationNumber, r.BirthRegistrationNumber},
		{p.GivenName, r.GivenName},
		{p.SurName, r.SurName},
		{p.AddressHierarchy, r.PresentAddress.Hierarchy()},
	}
	for _, c := range checks {
		if c.want != "" && c.want != c.got {
			return false
		}
	}
	return true
}
