package testutil

import "github.com/mci/mci/internal/domain/patient"

// NewRecord returns an active record in division 10, district 20, with
// mods applied in order.
func NewRecord(healthID string, mods ...func(*patient.Record)) *patient.Record {
	r := &patient.Record{
		HealthID:       healthID,
		GivenName:      "Given " + healthID,
		Active:         true,
		PresentAddress: patient.Address{DivisionID: "10", DistrictID: "20"},
	}
	for _, m := range mods {
		m(r)
	}
	return r
}

func WithNationalID(nid string) func(*patient.Record) {
	return func(r *patient.Record) { r.NationalID = nid }
}

func WithUID(uid string) func(*patient.Record) {
	return func(r *patient.Record) { r.UID = uid }
}

func WithBRN(brn string) func(*patient.Record) {
	return func(r *patient.Record) { r.BirthRegistrationNumber = brn }
}

func WithName(given, sur string) func(*patient.Record) {
	return func(r *patient.Record) { r.GivenName, r.SurName = given, sur }
}

// WithAddress sets the address ids from division downward.
func WithAddress(ids ...string) func(*patient.Record) {
	return func(r *patient.Record) {
		a := patient.Address{}
		fields := []*string{&a.DivisionID, &a.DistrictID, &a.UpazilaID, &a.CityCorporationID, &a.UnionOrUrbanWardID, &a.RuralWardID}
		for i, id := range ids {
			if i < len(fields) {
				*fields[i] = id
			}
		}
		r.PresentAddress = a
	}
}

func Retired(mergedWith string) func(*patient.Record) {
	return func(r *patient.Record) { r.Active, r.MergedWith = false, mergedWith }
}
