package trip

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/mode"
	"github.com/shopspring/decimal"
)

// ErrNoActiveTrip is returned for operations on a trip that is not open,
// and for a manual stop when no trip is active.
var ErrNoActiveTrip = errors.New("no active trip")

// GpsPoint is a single retained route fix.
type GpsPoint struct {
	Lat      float64   `json:"latitude"`
	Lng      float64   `json:"longitude"`
	Time     time.Time `json:"timestamp"`
	Accuracy float64   `json:"accuracy"`
	SpeedKmh *float64  `json:"speed_kmh,omitempty"`
	Altitude *float64  `json:"altitude,omitempty"`
	Bearing  *float64  `json:"bearing,omitempty"`
}

// Point returns the orb point (lng, lat).
func (p GpsPoint) Point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// Speed returns the point speed in km/h, or 0 if unset.
func (p GpsPoint) Speed() float64 {
	if p.SpeedKmh == nil {
		return 0
	}
	return *p.SpeedKmh
}

// DistanceKm returns the haversine distance to q.
func (p GpsPoint) DistanceKm(q GpsPoint) float64 {
	return common.HaversineKm(p.Lat, p.Lng, q.Lat, q.Lng)
}

// RouteDistanceKm sums the haversine distances between consecutive points,
// excluding any single segment longer than outlierKm.
// Excluded segments stay in the route; they only do not count.
func RouteDistanceKm(points []GpsPoint, outlierKm float64) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		d := points[i-1].DistanceKm(points[i])
		if d > outlierKm {
			continue
		}
		total += d
	}
	return total
}

// Status is the lifecycle stage of a trip record.
type Status int

const (
	StatusRecording Status = iota
	StatusProcessing
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusRecording:
		return "recording"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	}
	return "error"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{StatusRecording, StatusProcessing, StatusCompleted, StatusError} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown trip status %q", string(b))
}

// Record is a trip while it is open in the recorder.
type Record struct {
	TripID conceptual.TripID
	UserID conceptual.UserID
	Start  time.Time
	End    time.Time
	Status Status
	Points []GpsPoint

	TotalDistanceKm float64
	DurationMinutes int

	// Flushed is the number of leading Points already persisted.
	Flushed int
}

// Summary is the finalized trip as handed to persistence.
type Summary struct {
	TripID          conceptual.TripID  `json:"trip_id"`
	UserID          conceptual.UserID  `json:"user_id"`
	PersistedID     string             `json:"id,omitempty"`
	TripNumber      string             `json:"trip_number"`
	ChainID         string             `json:"chain_id"`
	Start           time.Time          `json:"start_time"`
	End             time.Time          `json:"end_time"`
	DurationMinutes int                `json:"duration_minutes"`
	TotalDistanceKm float64            `json:"total_distance_km"`
	StartLat        float64            `json:"start_latitude"`
	StartLng        float64            `json:"start_longitude"`
	EndLat          float64            `json:"end_latitude"`
	EndLng          float64            `json:"end_longitude"`
	Mode            mode.TransportMode `json:"mode"`
	Purpose         string             `json:"purpose"`
	PointCount      int                `json:"gps_points_count"`
	Status          Status             `json:"status"`

	OriginCell       string `json:"origin_cell,omitempty"`
	DestinationCell  string `json:"destination_cell,omitempty"`
	OriginLabel      string `json:"origin_label,omitempty"`
	DestinationLabel string `json:"destination_label,omitempty"`

	// Snapped is the road-snapped route, if snapping succeeded.
	// It never replaces the recorded points.
	Snapped []GpsPoint `json:"snapped,omitempty"`
}

// Number formats a trip number from the trip start, eg. TRIP-20240601-101530.
func Number(start time.Time) string {
	return "TRIP-" + start.Format("20060102-150405")
}

// ChainID groups trips started within the same hour, eg. CHAIN-20240601-10.
func ChainID(start time.Time) string {
	return "CHAIN-" + start.Format("20060102-15")
}

// RoundKm rounds a distance to meter precision.
func RoundKm(km float64) float64 {
	return decimal.NewFromFloat(km).Round(3).InexactFloat64()
}

// WholeMinutes truncates d to whole minutes.
func WholeMinutes(d time.Duration) int {
	return int(d / time.Minute)
}
