// Package roads snaps recorded routes onto the road network.
package roads

import (
	"context"
	"fmt"

	"github.com/rotblauer/tripd/types/trip"
	"googlemaps.github.io/maps"
)

// Snapper returns a road-snapped version of a route.
// Snapping is best-effort; callers ignore errors.
type Snapper interface {
	SnapToRoads(ctx context.Context, points []trip.GpsPoint) ([]trip.GpsPoint, error)
}

// MaxPathLength is the most points the Roads API accepts per request.
const MaxPathLength = 100

type snapToRoadClient interface {
	SnapToRoad(ctx context.Context, r *maps.SnapToRoadRequest) (*maps.SnapToRoadResponse, error)
}

// GoogleSnapper snaps routes with the Google Maps Roads API.
type GoogleSnapper struct {
	client      snapToRoadClient
	Interpolate bool
}

func NewGoogleSnapper(apiKey string) (*GoogleSnapper, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleSnapper{client: c}, nil
}

// SnapToRoads snaps points in chunks of MaxPathLength.
// Snapped points inherit the time and accuracy of the original point they
// correspond to; interpolated points inherit them from the preceding original.
func (g *GoogleSnapper) SnapToRoads(ctx context.Context, points []trip.GpsPoint) ([]trip.GpsPoint, error) {
	out := make([]trip.GpsPoint, 0, len(points))
	for start := 0; start < len(points); start += MaxPathLength {
		end := start + MaxPathLength
		if end > len(points) {
			end = len(points)
		}
		chunk := points[start:end]
		req := &maps.SnapToRoadRequest{
			Path:        make([]maps.LatLng, 0, len(chunk)),
			Interpolate: g.Interpolate,
		}
		for _, p := range chunk {
			req.Path = append(req.Path, maps.LatLng{Lat: p.Lat, Lng: p.Lng})
		}
		res, err := g.client.SnapToRoad(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("snap to road [%d:%d]: %w", start, end, err)
		}
		ref := chunk[0]
		for _, sp := range res.SnappedPoints {
			if sp.OriginalIndex != nil && *sp.OriginalIndex >= 0 && *sp.OriginalIndex < len(chunk) {
				ref = chunk[*sp.OriginalIndex]
			}
			out = append(out, trip.GpsPoint{
				Lat:      sp.Location.Lat,
				Lng:      sp.Location.Lng,
				Time:     ref.Time,
				Accuracy: ref.Accuracy,
			})
		}
	}
	return out, nil
}
