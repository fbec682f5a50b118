package dedup_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mci/mci/internal/domain/dedup"
	"github.com/mci/mci/internal/domain/patient"
	tu "github.com/mci/mci/internal/testutil"
)

type fixture struct {
	store   *tu.Patients
	dups    *tu.Duplicates
	ignored *tu.Ignored
	procs   *dedup.Processors
	svc     *dedup.ResolutionService
}

func newFixture(records ...*patient.Record) *fixture {
	f := &fixture{
		store:   tu.NewPatients(records...),
		dups:    tu.NewDuplicates(),
		ignored: tu.NewIgnored(),
	}
	engine := dedup.NewEngine(f.store, dedup.DefaultRules()...)
	mapper := dedup.NewMapper(f.store)
	f.procs = dedup.NewProcessors(f.store, engine, mapper, f.dups, f.ignored, zerolog.Nop())
	f.svc = dedup.NewResolutionService(f.store, mapper, f.dups, f.ignored, zerolog.Nop())
	return f
}

func (f *fixture) create(t *testing.T, healthIDs ...string) {
	t.Helper()
	for _, hid := range healthIDs {
		require.NoError(t, f.procs.Create(context.Background(), hid, patient.ChangeSet{}))
	}
}

// pairsIn returns "h1>h2" for every row of a partition.
func (f *fixture) pairsIn(catchmentID string) []string {
	var out []string
	for _, r := range f.dups.InCatchment(catchmentID) {
		out = append(out, r.HealthID1+">"+r.HealthID2)
	}
	return out
}

// referencing counts the rows that mention healthID anywhere.
func (f *fixture) referencing(healthID string) int {
	n := 0
	for _, r := range f.dups.All() {
		if r.References(healthID) {
			n++
		}
	}
	return n
}
