package route

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/state"
	"github.com/rotblauer/tripd/types/mode"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/rotblauer/tripd/types/trip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 10, 15, 30, 0, time.UTC)

func newTestRecorder(t *testing.T, batch int) (*Recorder, *state.MemStore) {
	t.Helper()
	cfg := params.DefaultRecorderConfig()
	cfg.BatchSize = batch
	store := state.NewMemStore()
	r := NewRecorder(cfg, store)
	r.Clock = func() time.Time { return t0 }
	t.Cleanup(r.Close)
	return r, store
}

// line returns n points heading north, ~111 m apart, 10 s apart.
func line(n int) []trip.GpsPoint {
	out := make([]trip.GpsPoint, n)
	for i := range out {
		out[i] = trip.GpsPoint{
			Lat:      45 + float64(i)*0.001,
			Lng:      -93,
			Time:     t0.Add(time.Duration(i) * 10 * time.Second),
			Accuracy: 8,
		}
	}
	return out
}

func TestRecorder_StartTwice(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))
	err := r.Start(ctx, "t1", "u1")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestRecorder_UnknownTrip(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()

	_, err := r.AddPoint(ctx, "nope", line(1)[0])
	assert.ErrorIs(t, err, trip.ErrNoActiveTrip)

	_, err = r.Stop(ctx, "nope")
	assert.ErrorIs(t, err, trip.ErrNoActiveTrip)

	_, err = r.Status("nope")
	assert.ErrorIs(t, err, trip.ErrNoActiveTrip)
}

func TestRecorder_AddPoint_Invalid(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))

	bad := []trip.GpsPoint{
		{Lat: 91, Lng: 0, Time: t0, Accuracy: 5},
		{Lat: 0, Lng: -181, Time: t0, Accuracy: 5},
		{Lat: 0, Lng: 0, Time: t0, Accuracy: 51},
		{Lat: 0, Lng: 0, Time: t0, Accuracy: -1},
	}
	for _, p := range bad {
		ok, err := r.AddPoint(ctx, "t1", p)
		assert.False(t, ok)
		assert.ErrorIs(t, err, sample.ErrInvalidInput)
	}
	st, err := r.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.PointCount)
}

func TestRecorder_AddPoint_OutOfOrder(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))

	pts := line(2)
	ok, err := r.AddPoint(ctx, "t1", pts[1])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.AddPoint(ctx, "t1", pts[0])
	assert.False(t, ok)
	assert.ErrorIs(t, err, sample.ErrInvalidInput)
}

func TestRecorder_MinDistanceFilter(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))

	first := trip.GpsPoint{Lat: 45, Lng: -93, Time: t0, Accuracy: 5}
	ok, err := r.AddPoint(ctx, "t1", first)
	require.NoError(t, err)
	assert.True(t, ok, "first point is always retained")

	// ~5.5 m north at most, all within 10 m of the first point.
	for i := 1; i <= 50; i++ {
		p := trip.GpsPoint{
			Lat:      45 + float64(i%6)*0.00001,
			Lng:      -93,
			Time:     t0.Add(time.Duration(i) * time.Second),
			Accuracy: 5,
		}
		require.Less(t, common.HaversineMeters(first.Lat, first.Lng, p.Lat, p.Lng), 10.0)
		ok, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	points, err := r.Points("t1")
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestRecorder_StopDistanceDiscardsJump(t *testing.T) {
	r, store := newTestRecorder(t, 100)
	ctx := context.Background()

	pts := line(6)
	want := 0.0
	for i := 1; i < len(pts); i++ {
		want += pts[i-1].DistanceKm(pts[i])
	}

	// Same route with a 2 km excursion after the third point.
	jump := trip.GpsPoint{Lat: pts[2].Lat + 0.018, Lng: pts[2].Lng, Accuracy: 8}
	route := append([]trip.GpsPoint{}, pts[:3]...)
	route = append(route, jump)
	route = append(route, pts[2:]...)
	for i := range route {
		route[i].Time = t0.Add(time.Duration(i) * 10 * time.Second)
	}

	for _, id := range []conceptual.TripID{"plain", "jumpy"} {
		require.NoError(t, r.Start(ctx, id, conceptual.UserID("u-"+id)))
	}
	for _, p := range pts {
		_, err := r.AddPoint(ctx, "plain", p)
		require.NoError(t, err)
	}
	for _, p := range route {
		ok, err := r.AddPoint(ctx, "jumpy", p)
		require.NoError(t, err)
		require.True(t, ok)
	}

	r.Clock = func() time.Time { return t0.Add(30*time.Minute + 59*time.Second) }
	plain, err := r.Stop(ctx, "plain")
	require.NoError(t, err)
	jumpy, err := r.Stop(ctx, "jumpy")
	require.NoError(t, err)

	assert.Equal(t, trip.RoundKm(want), plain.TotalDistanceKm)
	assert.Equal(t, plain.TotalDistanceKm, jumpy.TotalDistanceKm)
	assert.Equal(t, 30, plain.DurationMinutes)
	assert.Equal(t, trip.StatusCompleted, plain.Status)
	assert.Equal(t, "TRIP-20240601-101530", plain.TripNumber)
	assert.Equal(t, "CHAIN-20240601-10", plain.ChainID)
	assert.NotEmpty(t, plain.OriginCell)
	assert.Equal(t, pts[0].Lat, plain.StartLat)
	assert.Equal(t, pts[5].Lat, plain.EndLat)

	// Unflushed points land under the persisted id.
	require.NotEmpty(t, plain.PersistedID)
	assert.Len(t, store.Points(plain.PersistedID), len(pts))
	assert.Len(t, store.Trips(), 2)

	_, err = r.Status("plain")
	assert.ErrorIs(t, err, trip.ErrNoActiveTrip)
	assert.Empty(t, r.Statuses())
}

func TestRecorder_BatchFlush(t *testing.T) {
	r, store := newTestRecorder(t, 3)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))

	for _, p := range line(7) {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	rc, err := r.get("t1")
	require.NoError(t, err)
	rc.flushes.Wait()

	st, err := r.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, 6, st.Flushed)
	assert.Len(t, store.Points("t1"), 6)

	summary, err := r.Stop(ctx, "t1")
	require.NoError(t, err)
	// The whole route ends up under the persisted id.
	require.NotEmpty(t, summary.PersistedID)
	assert.Equal(t, line(7), store.Points(summary.PersistedID))
	assert.Empty(t, store.Points("t1"))
}

func TestRecorder_LongTripStoredUnderPersistedID(t *testing.T) {
	store, err := state.OpenBoltStore(filepath.Join(t.TempDir(), "tripd.db"), false)
	require.NoError(t, err)
	defer store.Close()

	cfg := params.DefaultRecorderConfig()
	cfg.BatchSize = 100
	r := NewRecorder(cfg, store)
	r.Clock = func() time.Time { return t0 }
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))
	pts := line(150)
	for _, p := range pts {
		ok, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
		require.True(t, ok)
	}

	summary, err := r.Stop(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 150, summary.PointCount)
	require.NotEmpty(t, summary.PersistedID)

	got, err := store.ReadPoints(summary.PersistedID)
	require.NoError(t, err)
	require.Len(t, got, 150)
	assert.True(t, got[0].Time.Equal(pts[0].Time))
	assert.True(t, got[149].Time.Equal(pts[149].Time))

	interim, err := store.ReadPoints("t1")
	require.NoError(t, err)
	assert.Empty(t, interim)
}

func TestRecorder_FlushFailureRetried(t *testing.T) {
	r, store := newTestRecorder(t, 3)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))
	rc, err := r.get("t1")
	require.NoError(t, err)

	pts := line(6)
	store.SetFailPoints(true)
	for _, p := range pts[:3] {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	rc.flushes.Wait()
	assert.Equal(t, 0, rc.flushedCount())
	assert.Empty(t, store.Batches())

	store.SetFailPoints(false)
	for _, p := range pts[3:] {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	rc.flushes.Wait()
	assert.Equal(t, 6, rc.flushedCount())

	batches := store.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, pts, batches[0].Points)
}

// gatedStore blocks point batches until released.
type gatedStore struct {
	*state.MemStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) PersistGpsPointsBatch(ctx context.Context, batch state.PointsBatch) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.MemStore.PersistGpsPointsBatch(ctx, batch)
}

func TestRecorder_StopWaitsForFlush(t *testing.T) {
	store := &gatedStore{
		MemStore: state.NewMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	cfg := params.DefaultRecorderConfig()
	cfg.BatchSize = 2
	r := NewRecorder(cfg, store)
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Start(ctx, "t1", "u1"))
	for _, p := range line(2) {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	<-store.entered
	// Cancelling the caller's context must not abort the issued flush.
	cancel()

	done := make(chan *trip.Summary)
	go func() {
		s, err := r.Stop(context.Background(), "t1")
		assert.NoError(t, err)
		done <- s
	}()

	select {
	case <-done:
		t.Fatal("stop returned before in-flight flush finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)

	summary := <-done
	assert.Len(t, store.Points(summary.PersistedID), 2)
	assert.Empty(t, store.Points("t1"))
	assert.Equal(t, 2, summary.PointCount)
}

type fakeSnapper struct{ err error }

func (f fakeSnapper) SnapToRoads(ctx context.Context, points []trip.GpsPoint) ([]trip.GpsPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return points[:1], nil
}

type fakeClassifier struct {
	m     mode.TransportMode
	panic bool
}

func (f fakeClassifier) ClassifyRoute(userID conceptual.UserID, points []trip.GpsPoint) (mode.TransportMode, error) {
	if f.panic {
		panic("classifier exploded")
	}
	return f.m, nil
}

type fakeArchiver struct {
	mu     sync.Mutex
	routes map[string]int
}

func (f *fakeArchiver) ArchiveRoute(ctx context.Context, summary *trip.Summary, points []trip.GpsPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[summary.TripNumber] = len(points)
	return nil
}

func TestRecorder_StopEnrichment(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()
	archive := &fakeArchiver{routes: map[string]int{}}
	r.Snapper = fakeSnapper{}
	r.Classifier = fakeClassifier{m: mode.Car}
	r.Archiver = archive

	require.NoError(t, r.Start(ctx, "t1", "u1"))
	for _, p := range line(4) {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	summary, err := r.Stop(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, mode.Car, summary.Mode)
	assert.Len(t, summary.Snapped, 1)
	assert.Equal(t, 4, archive.routes[summary.TripNumber])
}

func TestRecorder_StopSnapFailureIgnored(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()
	r.Snapper = fakeSnapper{err: errors.New("quota")}

	require.NoError(t, r.Start(ctx, "t1", "u1"))
	for _, p := range line(3) {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	summary, err := r.Stop(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, trip.StatusCompleted, summary.Status)
	assert.Nil(t, summary.Snapped)
}

func TestRecorder_StopPanicIsError(t *testing.T) {
	r, store := newTestRecorder(t, 100)
	ctx := context.Background()
	r.Classifier = fakeClassifier{panic: true}

	require.NoError(t, r.Start(ctx, "t1", "u1"))
	for _, p := range line(3) {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	summary, err := r.Stop(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, trip.StatusError, summary.Status)
	require.Len(t, store.Trips(), 1)
	assert.Equal(t, trip.StatusError, store.Trips()[0].Status)
}

func TestRecorder_PersistenceFailureDoesNotFailStop(t *testing.T) {
	r, store := newTestRecorder(t, 100)
	ctx := context.Background()
	store.FailTrips = true

	require.NoError(t, r.Start(ctx, "t1", "u1"))
	_, err := r.AddPoint(ctx, "t1", line(1)[0])
	require.NoError(t, err)

	summary, err := r.Stop(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, summary.PersistedID)
	// Falls back to the trip id for the final flush.
	assert.Len(t, store.Points("t1"), 1)
}

func TestRecorder_StatusLive(t *testing.T) {
	r, _ := newTestRecorder(t, 100)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx, "t1", "u1"))
	require.NoError(t, r.Start(ctx, "t2", "u2"))
	for _, p := range line(3) {
		_, err := r.AddPoint(ctx, "t1", p)
		require.NoError(t, err)
	}
	r.Clock = func() time.Time { return t0.Add(90 * time.Second) }

	st, err := r.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.PointCount)
	assert.Equal(t, trip.StatusRecording, st.Status)
	assert.Equal(t, 90*time.Second, st.Elapsed)
	assert.InDelta(t, 0.222, st.DistanceKm, 0.001)

	all := r.Statuses()
	require.Len(t, all, 2)
	assert.Equal(t, conceptual.TripID("t1"), all[0].TripID)
}

func TestRecorder_ConcurrentTrips(t *testing.T) {
	r, store := newTestRecorder(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := conceptual.TripID(string(rune('a' + i)))
			user := conceptual.UserID("user-" + string(id))
			assert.NoError(t, r.Start(ctx, id, user))
			for _, p := range line(12) {
				_, err := r.AddPoint(ctx, id, p)
				assert.NoError(t, err)
			}
			s, err := r.Stop(ctx, id)
			assert.NoError(t, err)
			assert.Equal(t, 12, s.PointCount)
		}(i)
	}
	wg.Wait()
	assert.Len(t, store.Trips(), 8)
	assert.Empty(t, r.Statuses())
}
