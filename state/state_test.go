package state

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/trip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func testSummary(user string) *trip.Summary {
	return &trip.Summary{
		TripID:          "x",
		UserID:          conceptual.UserID(user),
		TripNumber:      trip.Number(t0),
		ChainID:         trip.ChainID(t0),
		Start:           t0,
		End:             t0.Add(10 * time.Minute),
		DurationMinutes: 10,
		TotalDistanceKm: 1.2,
		Status:          trip.StatusCompleted,
	}
}

func testPoints(n int) []trip.GpsPoint {
	out := []trip.GpsPoint{}
	for i := 0; i < n; i++ {
		out = append(out, trip.GpsPoint{Lat: 46.87 + float64(i)*0.001, Lng: -113.99, Time: t0.Add(time.Duration(i) * time.Second), Accuracy: 5})
	}
	return out
}

func testPersister(t *testing.T, p Persister) {
	ctx := context.Background()
	s := testSummary("rye")

	_, ok, err := p.LookupPersistedTripID(ctx, "rye", s.TripNumber)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.PersistTripRecord(ctx, s))
	id, ok, err := p.LookupPersistedTripID(ctx, "rye", s.TripNumber)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, id)
	assert.Empty(t, s.PersistedID, "caller's summary is not mutated")

	// Same trip number, other user: no collision.
	_, ok, err = p.LookupPersistedTripID(ctx, "ia", s.TripNumber)
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-persisting keeps the id.
	require.NoError(t, p.PersistTripRecord(ctx, s))
	id2, _, _ := p.LookupPersistedTripID(ctx, "rye", s.TripNumber)
	assert.Equal(t, id, id2)

	pts := testPoints(5)
	require.NoError(t, p.PersistGpsPointsBatch(ctx, PointsBatch{TripID: id, UserID: "rye", Points: pts[:3]}))
	require.NoError(t, p.PersistGpsPointsBatch(ctx, PointsBatch{TripID: id, UserID: "rye", Points: pts[3:]}))
}

func TestMemStore(t *testing.T) {
	m := NewMemStore()
	testPersister(t, m)
	require.Len(t, m.Trips(), 1)
	id := m.Trips()[0].PersistedID
	assert.Len(t, m.Points(id), 5)
	assert.Len(t, m.Batches(), 2)

	require.NoError(t, m.DiscardPoints(context.Background(), id))
	assert.Empty(t, m.Points(id))

	m.SetFailPoints(true)
	err := m.PersistGpsPointsBatch(context.Background(), PointsBatch{TripID: id, Points: testPoints(1)})
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestBoltStore(t *testing.T) {
	target := filepath.Join(t.TempDir(), "sub", "tripd.db")
	s, err := OpenBoltStore(target, false)
	require.NoError(t, err)
	defer s.Close()

	testPersister(t, s)

	id, ok, err := s.LookupPersistedTripID(context.Background(), "rye", trip.Number(t0))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.ReadTrip(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.PersistedID)
	assert.Equal(t, 1.2, got.TotalDistanceKm)
	assert.True(t, got.Start.Equal(t0))

	pts, err := s.ReadPoints(id)
	require.NoError(t, err)
	require.Len(t, pts, 5)
	assert.Equal(t, testPoints(5)[4].Lat, pts[4].Lat)

	n := 0
	require.NoError(t, s.ForEachTrip(func(*trip.Summary) error { n++; return nil }))
	assert.Equal(t, 1, n)

	assert.Error(t, s.PersistGpsPointsBatch(context.Background(), PointsBatch{Points: pts}))

	require.NoError(t, s.DiscardPoints(context.Background(), id))
	pts, err = s.ReadPoints(id)
	require.NoError(t, err)
	assert.Empty(t, pts)
	assert.NoError(t, s.DiscardPoints(context.Background(), "never-stored"))
}

func TestRouteFeatureCollection(t *testing.T) {
	s := testSummary("rye")
	s.Snapped = testPoints(3)
	fc := RouteFeatureCollection(s, testPoints(20), DefaultDouglasPeuckerThreshold)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "route", fc.Features[0].Properties["kind"])
	assert.Equal(t, "snapped", fc.Features[1].Properties["kind"])
	// Collinear points simplify to the endpoints.
	ls, ok := fc.Features[0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, ls, 2)
}

type fakeUploader struct {
	s3manageriface.UploaderAPI
	inputs []*s3manager.UploadInput
	bodies [][]byte
}

func (f *fakeUploader) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &s3manager.UploadOutput{}, nil
}

func TestS3Archiver(t *testing.T) {
	up := &fakeUploader{}
	a := &S3Archiver{Uploader: up, Bucket: "routes-bucket"}
	s := testSummary("rye")
	require.NoError(t, a.ArchiveRoute(context.Background(), s, testPoints(4)))
	require.Len(t, up.inputs, 1)
	assert.Equal(t, "routes-bucket", aws.StringValue(up.inputs[0].Bucket))
	assert.Equal(t, "routes/rye/2024/06/TRIP-20240601-100000.geojson.gz", aws.StringValue(up.inputs[0].Key))

	gz, err := gzip.NewReader(bytes.NewReader(up.bodies[0]))
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
}

func TestDirArchiver(t *testing.T) {
	a := &DirArchiver{Dir: t.TempDir()}
	s := testSummary("rye")
	require.NoError(t, a.ArchiveRoute(context.Background(), s, testPoints(4)))
	assert.FileExists(t, a.Path(s))
}
