package roads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotblauer/tripd/types/trip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

type fakeRoads struct {
	requests []*maps.SnapToRoadRequest
	err      error
}

func (f *fakeRoads) SnapToRoad(ctx context.Context, r *maps.SnapToRoadRequest) (*maps.SnapToRoadResponse, error) {
	f.requests = append(f.requests, r)
	if f.err != nil {
		return nil, f.err
	}
	res := &maps.SnapToRoadResponse{}
	for i, ll := range r.Path {
		i := i
		res.SnappedPoints = append(res.SnappedPoints, maps.SnappedPoint{
			Location:      maps.LatLng{Lat: ll.Lat + 0.00001, Lng: ll.Lng},
			OriginalIndex: &i,
		})
		if r.Interpolate {
			res.SnappedPoints = append(res.SnappedPoints, maps.SnappedPoint{
				Location: maps.LatLng{Lat: ll.Lat + 0.00002, Lng: ll.Lng},
			})
		}
	}
	return res, nil
}

func points(n int) []trip.GpsPoint {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	out := []trip.GpsPoint{}
	for i := 0; i < n; i++ {
		out = append(out, trip.GpsPoint{Lat: float64(i) * 0.001, Lng: 1, Time: t0.Add(time.Duration(i) * time.Second), Accuracy: float64(i)})
	}
	return out
}

func TestGoogleSnapper_Chunks(t *testing.T) {
	f := &fakeRoads{}
	g := &GoogleSnapper{client: f}
	got, err := g.SnapToRoads(context.Background(), points(250))
	require.NoError(t, err)
	require.Len(t, f.requests, 3)
	assert.Len(t, f.requests[0].Path, 100)
	assert.Len(t, f.requests[2].Path, 50)
	require.Len(t, got, 250)
	assert.Equal(t, points(250)[123].Time, got[123].Time)
	assert.Equal(t, 123.0, got[123].Accuracy)
}

func TestGoogleSnapper_Interpolated(t *testing.T) {
	f := &fakeRoads{}
	g := &GoogleSnapper{client: f, Interpolate: true}
	got, err := g.SnapToRoads(context.Background(), points(3))
	require.NoError(t, err)
	require.Len(t, got, 6)
	// Interpolated points inherit from the preceding original.
	assert.Equal(t, got[2].Time, got[3].Time)
}

func TestGoogleSnapper_Error(t *testing.T) {
	f := &fakeRoads{err: errors.New("quota")}
	g := &GoogleSnapper{client: f}
	_, err := g.SnapToRoads(context.Background(), points(3))
	assert.Error(t, err)
}
