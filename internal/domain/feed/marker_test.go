package feed

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mci/mci/internal/testutil"
)

func TestMarkerRepoPG(t *testing.T) {
	pool := testutil.StartPostgres(t, testutil.PortFeed)
	markers := NewMarkerRepo(pool)
	ctx := context.Background()

	_, ok, err := markers.Read(ctx, DefaultConsumer)
	require.NoError(t, err)
	assert.False(t, ok, "no marker before the first write")

	first := uuid.Must(uuid.NewV7())
	second := uuid.Must(uuid.NewV7())

	require.NoError(t, markers.Write(ctx, DefaultConsumer, first))
	got, ok, err := markers.Read(ctx, DefaultConsumer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, got)

	require.NoError(t, markers.Write(ctx, DefaultConsumer, second))
	got, _, err = markers.Read(ctx, DefaultConsumer)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, ok, err = markers.Read(ctx, "OTHER_CONSUMER")
	require.NoError(t, err)
	assert.False(t, ok, "consumers keep separate markers")
}
