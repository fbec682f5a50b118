package dedup

import (
	"github.com/mci/mci/internal/domain/patient"
)

// Rule is one matching strategy: it turns a subject record into a store
// predicate. ok is false when the subject lacks the fields the rule needs,
// in which case the rule does not query at all.
type Rule struct {
	Name      string
	Reason    Reason
	Predicate func(subject *patient.Record) (pred patient.Predicate, ok bool)
}

// DefaultRules returns the built-in rules in registration order.
func DefaultRules() []Rule {
	return []Rule{
		NationalIDRule(),
		UIDRule(),
		BirthRegistrationRule(),
		NameAddressRule(),
	}
}

func NationalIDRule() Rule {
	return Rule{
		Name:   "national-id",
		Reason: ReasonNationalID,
		Predicate: func(s *patient.Record) (patient.Predicate, bool) {
			return patient.Predicate{NationalID: s.NationalID}, s.NationalID != ""
		},
	}
}

func UIDRule() Rule {
	return Rule{
		Name:   "internal-uid",
		Reason: ReasonUID,
		Predicate: func(s *patient.Record) (patient.Predicate, bool) {
			return patient.Predicate{UID: s.UID}, s.UID != ""
		},
	}
}

func BirthRegistrationRule() Rule {
	return Rule{
		Name:   "birth-registration",
		Reason: ReasonBRN,
		Predicate: func(s *patient.Record) (patient.Predicate, bool) {
			return patient.Predicate{BirthRegistrationNumber: s.BirthRegistrationNumber}, s.BirthRegistrationNumber != ""
		},
	}
}

// NameAddressRule needs both names and an address; a partial predicate
// would match far too widely.
func NameAddressRule() Rule {
	return Rule{
		Name:   "name-address",
		Reason: ReasonNameAddress,
		Predicate: func(s *patient.Record) (patient.Predicate, bool) {
			p := patient.Predicate{
				GivenName:        s.GivenName,
				SurName:          s.SurName,
				AddressHierarchy: s.PresentAddress.Hierarchy(),
			}
			return p, p.GivenName != "" && p.SurName != "" && p.AddressHierarchy != ""
		},
	}
}
