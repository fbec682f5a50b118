package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/domain/updatelog"
	"github.com/mci/mci/internal/platform/lock"
	"github.com/mci/mci/internal/testutil"
)

type call struct {
	kind     EventKind
	healthID string
}

// recordingProcessors captures every call and fails on demand.
type recordingProcessors struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (r *recordingProcessors) processors() Processors {
	mk := func(kind EventKind) Processor {
		return ProcessorFunc(func(_ context.Context, healthID string, _ patient.ChangeSet) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls = append(r.calls, call{kind: kind, healthID: healthID})
			return r.fail[healthID]
		})
	}
	return Processors{Create: mk(KindCreate), Update: mk(KindUpdate), Retire: mk(KindRetire)}
}

func appendEntry(t *testing.T, log *testutil.UpdateLog, healthID string, eventType updatelog.EventType, cs patient.ChangeSet) uuid.UUID {
	t.Helper()
	data, err := cs.Marshal()
	require.NoError(t, err)
	id, err := uuid.NewV7()
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), &updatelog.Entry{
		EventID: id, HealthID: healthID, EventType: eventType, ChangeSet: data,
	}))
	return id
}

func newFeed(log *testutil.UpdateLog, markers *testutil.Markers, procs Processors, opts ...Option) *Service {
	return NewService(NewReader(log, markers, ""), procs, zerolog.Nop(), opts...)
}

func TestProcessNextFeedEntry_EmptyLog(t *testing.T) {
	markers := testutil.NewMarkers()
	rp := &recordingProcessors{}
	svc := newFeed(testutil.NewUpdateLog(), markers, rp.processors())

	processed, err := svc.ProcessNextFeedEntry(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, rp.calls)
	assert.Zero(t, markers.Writes)
}

func TestProcessNextFeedEntry_WalksLogInOrder(t *testing.T) {
	log := testutil.NewUpdateLog()
	markers := testutil.NewMarkers()
	rp := &recordingProcessors{}

	appendEntry(t, log, "h1", updatelog.EventCreated, patient.ChangeSet{"hid": {NewValue: "h1"}})
	appendEntry(t, log, "h1", updatelog.EventUpdated, patient.ChangeSet{"given_name": {OldValue: "A", NewValue: "B"}})
	last := appendEntry(t, log, "h1", updatelog.EventUpdated, patient.ChangeSet{"active": {OldValue: true, NewValue: false}})

	svc := newFeed(log, markers, rp.processors())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		processed, err := svc.ProcessNextFeedEntry(ctx)
		require.NoError(t, err)
		assert.True(t, processed, "tick %d", i)
	}
	processed, err := svc.ProcessNextFeedEntry(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	assert.Equal(t, []call{{KindCreate, "h1"}, {KindUpdate, "h1"}, {KindRetire, "h1"}}, rp.calls)
	marker, ok, err := markers.Read(ctx, DefaultConsumer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, last, marker)
}

func TestProcessNextFeedEntry_FailureKeepsMarker(t *testing.T) {
	log := testutil.NewUpdateLog()
	markers := testutil.NewMarkers()
	rp := &recordingProcessors{fail: map[string]error{"h2": errors.New("store down")}}

	first := appendEntry(t, log, "h1", updatelog.EventCreated, patient.ChangeSet{})
	appendEntry(t, log, "h2", updatelog.EventCreated, patient.ChangeSet{})
	appendEntry(t, log, "h3", updatelog.EventCreated, patient.ChangeSet{})

	svc := newFeed(log, markers, rp.processors())
	ctx := context.Background()

	processed, err := svc.ProcessNextFeedEntry(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	for i := 0; i < 3; i++ {
		processed, err = svc.ProcessNextFeedEntry(ctx)
		require.Error(t, err)
		assert.False(t, processed)
		marker, _, _ := markers.Read(ctx, DefaultConsumer)
		assert.Equal(t, first, marker, "marker must stay on the last processed entry")
	}

	rp.mu.Lock()
	delete(rp.fail, "h2")
	rp.mu.Unlock()

	for i := 0; i < 2; i++ {
		processed, err = svc.ProcessNextFeedEntry(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
	}

	var order []string
	for _, c := range rp.calls {
		order = append(order, c.healthID)
	}
	assert.Equal(t, []string{"h1", "h2", "h2", "h2", "h2", "h3"}, order)
}

func TestProcessNextFeedEntry_MarkerWriteFailureRedelivers(t *testing.T) {
	log := testutil.NewUpdateLog()
	markers := testutil.NewMarkers()
	rp := &recordingProcessors{}
	appendEntry(t, log, "h1", updatelog.EventCreated, patient.ChangeSet{})

	svc := newFeed(log, markers, rp.processors())
	ctx := context.Background()

	markers.WriteErr = errors.New("marker store down")
	_, err := svc.ProcessNextFeedEntry(ctx)
	require.Error(t, err)

	markers.WriteErr = nil
	processed, err := svc.ProcessNextFeedEntry(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Len(t, rp.calls, 2, "entry is processed again after a failed marker write")
}

func TestProcessNextFeedEntry_MalformedEntryBlocks(t *testing.T) {
	log := testutil.NewUpdateLog()
	markers := testutil.NewMarkers()
	rp := &recordingProcessors{}
	ctx := context.Background()

	id, err := uuid.NewV7()
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, &updatelog.Entry{EventID: id, HealthID: "h1", EventType: updatelog.EventCreated, ChangeSet: []byte("{")}))
	appendEntry(t, log, "h2", updatelog.EventCreated, patient.ChangeSet{})

	svc := newFeed(log, markers, rp.processors())
	for i := 0; i < 2; i++ {
		_, err := svc.ProcessNextFeedEntry(ctx)
		require.ErrorIs(t, err, patient.ErrMalformedChangeSet)
	}
	assert.Empty(t, rp.calls)
	_, ok, _ := markers.Read(ctx, DefaultConsumer)
	assert.False(t, ok)
}

func TestProcessNextFeedEntry_UnknownEventType(t *testing.T) {
	log := testutil.NewUpdateLog()
	rp := &recordingProcessors{}
	appendEntry(t, log, "h1", "purged", patient.ChangeSet{})

	svc := newFeed(log, testutil.NewMarkers(), rp.processors())
	_, err := svc.ProcessNextFeedEntry(context.Background())
	require.ErrorIs(t, err, ErrUnknownEventType)
	assert.Empty(t, rp.calls)
}

func TestProcessNextFeedEntry_ResumesFromStoredMarker(t *testing.T) {
	log := testutil.NewUpdateLog()
	markers := testutil.NewMarkers()
	rp := &recordingProcessors{}
	ctx := context.Background()

	first := appendEntry(t, log, "h1", updatelog.EventCreated, patient.ChangeSet{})
	appendEntry(t, log, "h2", updatelog.EventCreated, patient.ChangeSet{})
	require.NoError(t, markers.Write(ctx, DefaultConsumer, first))

	svc := newFeed(log, markers, rp.processors())
	processed, err := svc.ProcessNextFeedEntry(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []call{{KindCreate, "h2"}}, rp.calls)
}

func TestProcessNextFeedEntry_ConsumersAreIndependent(t *testing.T) {
	log := testutil.NewUpdateLog()
	markers := testutil.NewMarkers()
	ctx := context.Background()
	appendEntry(t, log, "h1", updatelog.EventCreated, patient.ChangeSet{})

	a := NewService(NewReader(log, markers, "A"), (&recordingProcessors{}).processors(), zerolog.Nop())
	b := NewService(NewReader(log, markers, "B"), (&recordingProcessors{}).processors(), zerolog.Nop())

	for _, svc := range []*Service{a, b} {
		processed, err := svc.ProcessNextFeedEntry(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
	}
}

type stubLocker struct {
	err      error
	acquired int
}

func (s *stubLocker) Acquire(context.Context) error {
	s.acquired++
	return s.err
}

func (s *stubLocker) Release(context.Context) error { return nil }

func TestProcessNextFeedEntry_LockHeldElsewhereSkips(t *testing.T) {
	log := testutil.NewUpdateLog()
	rp := &recordingProcessors{}
	appendEntry(t, log, "h1", updatelog.EventCreated, patient.ChangeSet{})

	locker := &stubLocker{err: lock.ErrNotHeld}
	svc := newFeed(log, testutil.NewMarkers(), rp.processors(), WithLocker(locker))

	processed, err := svc.ProcessNextFeedEntry(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, rp.calls)
	assert.Equal(t, 1, locker.acquired)
}

func TestProcessNextFeedEntry_LockErrorFails(t *testing.T) {
	locker := &stubLocker{err: errors.New("redis down")}
	svc := newFeed(testutil.NewUpdateLog(), testutil.NewMarkers(), (&recordingProcessors{}).processors(), WithLocker(locker))

	_, err := svc.ProcessNextFeedEntry(context.Background())
	require.Error(t, err)
}

func TestProcessNextFeedEntry_ConcurrentCallsProcessEachEntryOnce(t *testing.T) {
	log := testutil.NewUpdateLog()
	rp := &recordingProcessors{}
	const n = 20
	for i := 0; i < n; i++ {
		appendEntry(t, log, uuid.NewString(), updatelog.EventCreated, patient.ChangeSet{})
	}
	svc := newFeed(log, testutil.NewMarkers(), rp.processors())

	var wg sync.WaitGroup
	for i := 0; i < n+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessNextFeedEntry(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[string]int{}
	for _, c := range rp.calls {
		seen[c.healthID]++
	}
	assert.Len(t, seen, n)
	for hid, count := range seen {
		assert.Equal(t, 1, count, hid)
	}
}

func TestProcessors_ForMissing(t *testing.T) {
	_, err := Processors{}.For(KindCreate)
	assert.Error(t, err)
}
