package patient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/db"
	"github.com/mci/mci/internal/testutil"
)

func TestPatientRepoPG(t *testing.T) {
	pool := testutil.StartPostgres(t, testutil.PortPatient)
	repo := patient.NewRepo(pool)
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		rec := testutil.NewRecord("h-create", testutil.WithNationalID("nid-1"), testutil.WithAddress("10", "20", "30"))
		rec.Relations = []patient.Relation{{Type: "FTH", GivenName: "Karim"}}
		require.NoError(t, repo.Create(ctx, rec))
		assert.False(t, rec.CreatedAt.IsZero())

		got, err := repo.FindByHealthID(ctx, "h-create")
		require.NoError(t, err)
		assert.Equal(t, "nid-1", got.NationalID)
		assert.Equal(t, "30", got.PresentAddress.UpazilaID)
		assert.Equal(t, rec.Relations, got.Relations)
		assert.True(t, got.Active)
		assert.Empty(t, got.UID)
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := repo.FindByHealthID(ctx, "nobody")
		assert.ErrorIs(t, err, patient.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		rec := testutil.NewRecord("h-update", testutil.WithUID("uid-1"))
		require.NoError(t, repo.Create(ctx, rec))

		rec.UID = ""
		rec.SurName = "Hossain"
		rec.Active = false
		rec.MergedWith = "h-create"
		require.NoError(t, repo.Update(ctx, rec))

		got, err := repo.FindByHealthID(ctx, "h-update")
		require.NoError(t, err)
		assert.Empty(t, got.UID)
		assert.Equal(t, "Hossain", got.SurName)
		assert.True(t, got.Retired())
		assert.Equal(t, "h-create", got.MergedWith)
	})

	t.Run("update missing", func(t *testing.T) {
		err := repo.Update(ctx, testutil.NewRecord("ghost"))
		assert.ErrorIs(t, err, patient.ErrNotFound)
	})

	t.Run("find all matching", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, testutil.NewRecord("m1", testutil.WithBRN("brn-9"), testutil.WithName("Rahim", "Uddin"), testutil.WithAddress("10", "20", "30", "", "40"))))
		require.NoError(t, repo.Create(ctx, testutil.NewRecord("m2", testutil.WithBRN("brn-9"), testutil.WithName("Rahim", "Uddin"), testutil.WithAddress("10", "20", "30", "", "40"))))
		require.NoError(t, repo.Create(ctx, testutil.NewRecord("m3", testutil.WithName("Rahim", "Uddin"), testutil.WithAddress("10", "20", "31"))))

		byBRN, err := repo.FindAllMatching(ctx, patient.Predicate{BirthRegistrationNumber: "brn-9"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"m1", "m2"}, healthIDs(byBRN))

		byNameAddress, err := repo.FindAllMatching(ctx, patient.Predicate{
			GivenName:        "Rahim",
			SurName:          "Uddin",
			AddressHierarchy: "10203040",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"m1", "m2"}, healthIDs(byNameAddress))

		none, err := repo.FindAllMatching(ctx, patient.Predicate{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("writes join the context transaction", func(t *testing.T) {
		tx := db.NewTransactor(pool)
		boom := errors.New("boom")
		err := tx.WithinTx(ctx, func(ctx context.Context) error {
			require.NoError(t, repo.Create(ctx, testutil.NewRecord("h-rolled-back")))
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = repo.FindByHealthID(ctx, "h-rolled-back")
		assert.ErrorIs(t, err, patient.ErrNotFound)
	})
}

func healthIDs(records []*patient.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.HealthID)
	}
	return out
}
