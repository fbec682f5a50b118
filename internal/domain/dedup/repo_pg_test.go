package dedup_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mci/mci/internal/domain/dedup"
	"github.com/mci/mci/internal/domain/feed"
	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/domain/updatelog"
	"github.com/mci/mci/internal/platform/db"
	tu "github.com/mci/mci/internal/testutil"
)

func TestDuplicateStorePG(t *testing.T) {
	pool := tu.StartPostgres(t, tu.PortDedup)

	t.Run("duplicates", func(t *testing.T) { testDuplicateRepo(t, dedup.NewDuplicateRepo(pool)) })
	t.Run("ignored", func(t *testing.T) { testIgnoredRepo(t, dedup.NewIgnoredRepo(pool)) })
	t.Run("pipeline", func(t *testing.T) { testPipelinePG(t, pool) })
}

func testDuplicateRepo(t *testing.T, repo dedup.DuplicateRepository) {
	ctx := context.Background()
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.Must(uuid.NewV7())
	}
	rows := []dedup.DuplicatePatient{
		{CatchmentID: "A10B20", CreatedAt: ids[0], HealthID1: "h1", HealthID2: "h2", Reasons: dedup.NewReasons(dedup.ReasonNationalID)},
		{CatchmentID: "A10B20", CreatedAt: ids[1], HealthID1: "h3", HealthID2: "h1", Reasons: dedup.NewReasons(dedup.ReasonUID)},
		{CatchmentID: "A10B20", CreatedAt: ids[2], HealthID1: "h4", HealthID2: "h5", Reasons: dedup.NewReasons(dedup.ReasonBRN)},
		{CatchmentID: "A10B21", CreatedAt: ids[2], HealthID1: "h1", HealthID2: "h6", Reasons: dedup.NewReasons(dedup.ReasonBRN)},
	}
	require.NoError(t, repo.Insert(ctx, rows...))

	found, err := repo.FindByCatchmentAndHealthID(ctx, "A10B20", "h1")
	require.NoError(t, err)
	require.Len(t, found, 2, "either side, one partition only")
	assert.Equal(t, ids[1], found[0].CreatedAt, "newest first")

	page, err := repo.ListByCatchment(ctx, "A10B20", uuid.Nil, uuid.Nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].CreatedAt)
	assert.Equal(t, ids[1], page[1].CreatedAt)

	older, err := repo.ListByCatchment(ctx, "A10B20", uuid.Nil, ids[1], 10)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, ids[0], older[0].CreatedAt)

	newer, err := repo.ListByCatchment(ctx, "A10B20", ids[1], uuid.Nil, 10)
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, "h4", newer[0].HealthID1)

	filed, err := repo.CatchmentsReferencing(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A10B20", "A10B21"}, filed)
	filed, err = repo.CatchmentsReferencing(ctx, "h9")
	require.NoError(t, err)
	assert.Empty(t, filed)

	upsert := rows[0]
	upsert.Reasons = dedup.NewReasons(dedup.ReasonNationalID, dedup.ReasonUID)
	require.NoError(t, repo.Insert(ctx, upsert))
	found, err = repo.FindByCatchmentAndHealthID(ctx, "A10B20", "h2")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, upsert.Reasons, found[0].Reasons)

	require.NoError(t, repo.Delete(ctx, rows[0], rows[1]))
	found, err = repo.FindByCatchmentAndHealthID(ctx, "A10B20", "h1")
	require.NoError(t, err)
	assert.Empty(t, found)

	other, err := repo.FindByCatchmentAndHealthID(ctx, "A10B21", "h1")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func testIgnoredRepo(t *testing.T, repo dedup.IgnoredRepository) {
	ctx := context.Background()

	none, err := repo.Find(ctx, "h1", "h2")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repo.Save(ctx, dedup.IgnoredDuplicate{HealthID1: "h1", HealthID2: "h2", Reasons: dedup.NewReasons(dedup.ReasonUID)}))
	require.NoError(t, repo.Save(ctx, dedup.IgnoredDuplicate{HealthID1: "h1", HealthID2: "h2", Reasons: dedup.NewReasons(dedup.ReasonNationalID, dedup.ReasonUID)}))

	got, err := repo.Find(ctx, "h1", "h2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dedup.NewReasons(dedup.ReasonNationalID, dedup.ReasonUID), got.Reasons)

	reversed, err := repo.Find(ctx, "h2", "h1")
	require.NoError(t, err)
	assert.Nil(t, reversed, "pairs are ordered")
}

// testPipelinePG runs the create-detect-retain flow on the real stores.
func testPipelinePG(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	records := patient.NewRepo(pool)
	logRepo := updatelog.NewRepo(pool)
	dups := dedup.NewDuplicateRepo(pool)
	ignored := dedup.NewIgnoredRepo(pool)
	mapper := dedup.NewMapper(records)
	procs := dedup.NewProcessors(records, dedup.NewEngine(records, dedup.DefaultRules()...), mapper, dups, ignored, zerolog.Nop())
	resolution := dedup.NewResolutionService(records, mapper, dups, ignored, zerolog.Nop())

	patients := patient.NewService(records, updatelog.NewRecorder(logRepo), db.NewTransactor(pool))
	feeds := feed.NewService(
		feed.NewReader(logRepo, feed.NewMarkerRepo(pool), feed.DefaultConsumer),
		feed.Processors{
			Create: feed.ProcessorFunc(procs.Create),
			Update: feed.ProcessorFunc(procs.Update),
			Retire: feed.ProcessorFunc(procs.Retire),
		},
		zerolog.Nop(),
	)

	require.NoError(t, patients.CreatePatient(ctx, tu.NewRecord("P1", tu.WithNationalID("N-PG"), tu.WithAddress("30", "40"))))
	require.NoError(t, patients.CreatePatient(ctx, tu.NewRecord("P2", tu.WithNationalID("N-PG"), tu.WithAddress("30", "40"))))
	for {
		processed, err := feeds.ProcessNextFeedEntry(ctx)
		require.NoError(t, err)
		if !processed {
			break
		}
	}

	page, err := resolution.ListDuplicates(ctx, dedup.ListQuery{Catchment: "3040"})
	require.NoError(t, err)
	reports := page.Reports
	require.Len(t, reports, 1)
	assert.ElementsMatch(t, []string{"P1", "P2"}, []string{reports[0].Patient1.HealthID, reports[0].Patient2.HealthID})
	assert.Equal(t, dedup.NewReasons(dedup.ReasonNationalID), reports[0].Reasons)

	require.NoError(t, resolution.Resolve(ctx, dedup.ResolveRequest{HealthID1: "P1", HealthID2: "P2", Action: dedup.ActionRetainAll}))
	page, err = resolution.ListDuplicates(ctx, dedup.ListQuery{Catchment: "3040"})
	require.NoError(t, err)
	assert.Empty(t, page.Reports)
	kept, err := ignored.Find(ctx, "P1", "P2")
	require.NoError(t, err)
	require.NotNil(t, kept)

	marker, ok, err := feed.NewMarkerRepo(pool).Read(ctx, feed.DefaultConsumer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, marker)
}
