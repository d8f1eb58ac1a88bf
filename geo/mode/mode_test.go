package mode

import (
	"testing"
	"time"

	"github.com/rotblauer/tripd/conceptual"
	transport "github.com/rotblauer/tripd/types/mode"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/rotblauer/tripd/types/trip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Saturday 2024-06-01 08:00 UTC.
var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

// walk returns n points 10 s apart, heading north, with the given speeds cycled.
func walk(n int, speeds ...float64) []trip.GpsPoint {
	out := make([]trip.GpsPoint, n)
	for i := range out {
		out[i] = trip.GpsPoint{
			Lat:      45 + float64(i)*0.0001,
			Lng:      -93,
			Time:     t0.Add(time.Duration(i) * 10 * time.Second),
			Accuracy: 10,
			SpeedKmh: f64(speeds[i%len(speeds)]),
		}
	}
	return out
}

func TestExtract_InsufficientData(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract(walk(9, 5), nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	f, err := e.Extract(walk(10, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, f.PointCount)
	assert.Equal(t, 5.0, f.AvgSpeedKmh)
}

func TestExtract_SpeedAndAcceleration(t *testing.T) {
	e := NewExtractor(nil)
	f, err := e.Extract(walk(10, 4, 6), nil)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, f.AvgSpeedKmh, 1e-9)
	assert.Equal(t, 6.0, f.MaxSpeedKmh)
	assert.InDelta(t, 1.0, f.SpeedVariance, 1e-9)
	assert.Equal(t, 6.0, f.SpeedP95)
	// |6-4| every step regardless of the 10 s spacing.
	assert.InDelta(t, 2.0, f.AvgAcceleration, 1e-9)
	assert.Equal(t, 2.0, f.MaxAcceleration)
	assert.InDelta(t, 0.0, f.AccelVariance, 1e-9)
}

func TestExtract_Percentile(t *testing.T) {
	speeds := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	f, err := NewExtractor(nil).Extract(walk(10, speeds...), nil)
	require.NoError(t, err)
	// floor(0.95*10) = 9, the last element.
	assert.Equal(t, 10.0, f.SpeedP95)

	speeds = make([]float64, 20)
	for i := range speeds {
		speeds[i] = float64(i + 1)
	}
	f, err = NewExtractor(nil).Extract(walk(20, speeds...), nil)
	require.NoError(t, err)
	assert.Equal(t, 20.0, f.SpeedP95)
}

func TestExtract_SortsByTime(t *testing.T) {
	pts := walk(10, 5)
	reversed := make([]trip.GpsPoint, len(pts))
	for i := range pts {
		reversed[len(pts)-1-i] = pts[i]
	}
	f, err := NewExtractor(nil).Extract(reversed, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f.DurationMinutes, 1e-9)
	assert.Equal(t, 8, f.HourOfDay)
	assert.Equal(t, 5, f.DayOfWeek, "saturday with monday as 0")
}

func TestExtract_Movement(t *testing.T) {
	pts := walk(10, 5)
	// Two stopped points, and one with no speed, which counts as stopped.
	pts[3].SpeedKmh = f64(1)
	pts[4].SpeedKmh = f64(0)
	pts[5].SpeedKmh = nil
	// A sideways hop makes two sharp turns.
	pts[7].Lng += 0.001

	f, err := NewExtractor(nil).Extract(pts, nil)
	require.NoError(t, err)

	// 3 stops over 1.5 minutes.
	assert.InDelta(t, 3/1.5, f.StopFrequency, 1e-9)
	assert.InDelta(t, 120.0, f.StopsPerHour(), 1e-9)
	assert.GreaterOrEqual(t, f.DirectionChanges, 2)
	assert.Greater(t, f.DistanceActualKm, f.DistanceStraightKm)
	assert.InDelta(t, 0.1, f.DistanceStraightKm, 0.001)
	// Speeds only from points that have one.
	assert.InDelta(t, (7*5+1.0)/9, f.AvgSpeedKmh, 1e-9)
}

func TestExtract_GPSAndMotion(t *testing.T) {
	f, err := NewExtractor(nil).Extract(walk(10, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, f.AvgAccuracy)
	assert.Equal(t, 0.5, f.ActivityConfidence)
	assert.Equal(t, 0.5, f.ActivityConsistency)
	assert.Nil(t, f.MotionVariance)

	motion := []MotionSample{
		{Accelerometer: &sample.Accelerometer{X: 3, Y: 4}, ActivityConfidence: f64(0.9)},
		{Accelerometer: &sample.Accelerometer{Z: 7}, ActivityConfidence: f64(0.7)},
		{ActivityConfidence: nil},
	}
	f, err = NewExtractor(nil).Extract(walk(10, 5), motion)
	require.NoError(t, err)
	require.NotNil(t, f.MotionVariance)
	// Magnitudes 5 and 7.
	assert.InDelta(t, 2.0, *f.MotionVariance, 1e-9)
	assert.InDelta(t, (0.9+0.7+0.5)/3, f.ActivityConfidence, 1e-9)
}

func TestRange_Fit(t *testing.T) {
	r := Range{0, 8}
	assert.Equal(t, 1.0, r.Fit(4))
	assert.Equal(t, 0.0, r.Fit(8))
	assert.InDelta(t, 0.75, r.Fit(5), 1e-9)
	// 2 past the max, penalty range 4.
	assert.InDelta(t, 0.5, r.Fit(10), 1e-9)
	assert.Equal(t, 0.0, r.Fit(20))

	// Zero-width ranges.
	assert.Equal(t, 0.0, Range{0, 0}.Fit(1))
	assert.Equal(t, 1.0, Range{3, 3}.Fit(3))
}

func TestClassify_WalkingOverTrain(t *testing.T) {
	f := &Features{AvgSpeedKmh: 5, AvgAcceleration: 1, StopFrequency: 8.0 / 60}
	m, conf, scores := Classify(f)
	assert.Equal(t, transport.Walking, m)
	assert.InDelta(t, 0.72, conf, 1e-9)

	byMode := map[transport.TransportMode]float64{}
	for _, s := range scores {
		byMode[s.Mode] = s.Score
	}
	require.Len(t, byMode, 5)
	assert.Greater(t, byMode[transport.Walking], byMode[transport.Train])
}

func TestClassify_Car(t *testing.T) {
	f := &Features{AvgSpeedKmh: 65, AvgAcceleration: 2.5, StopFrequency: 11.0 / 60}
	m, conf, _ := Classify(f)
	assert.Equal(t, transport.Car, m)
	assert.Greater(t, conf, 0.5)
}

func TestClassify_Nil(t *testing.T) {
	m, conf, scores := Classify(nil)
	assert.Equal(t, transport.Unknown, m)
	assert.Zero(t, conf)
	assert.Nil(t, scores)
}

func TestQuality(t *testing.T) {
	f := &Features{AvgAccuracy: 20, PointCount: 25, DurationMinutes: 30, SpeedVariance: 10}
	assert.InDelta(t, (0.8+0.5+1+0.9)/4, Quality(f), 1e-9)

	f = &Features{AvgAccuracy: 150, PointCount: 100, DurationMinutes: 1, SpeedVariance: 400}
	assert.InDelta(t, (0+1+0.5+0)/4, Quality(f), 1e-9)
}

func TestAnalyzer_Patterns(t *testing.T) {
	a := NewAnalyzer(nil)
	user := conceptual.UserID("u1")

	_, err := a.Patterns(user)
	assert.ErrorIs(t, err, ErrInsufficientData)

	res, err := a.Analyze(user, walk(12, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, transport.Walking, res.Mode)
	assert.Len(t, res.Scores, 5)

	later := walk(12, 15)
	for i := range later {
		later[i].Time = later[i].Time.Add(9 * time.Hour)
	}
	m, err := a.ClassifyRoute(user, later)
	require.NoError(t, err)
	assert.NotEqual(t, transport.Unknown, m)

	p, err := a.Patterns(user)
	require.NoError(t, err)
	assert.Equal(t, 2, p.TripCount)
	assert.InDelta(t, 10.0, p.AverageSpeedKmh, 1e-9)
	assert.Equal(t, []int{8, 17}, p.CommonTravelHours)

	_, err = a.ClassifyRoute(user, walk(3, 5))
	assert.ErrorIs(t, err, ErrInsufficientData)

	a.Forget(user)
	_, err = a.Patterns(user)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnalyzer_HistoryBounded(t *testing.T) {
	a := NewAnalyzer(nil)
	for i := 0; i < 15; i++ {
		_, err := a.Analyze("u1", walk(10, 5), nil)
		require.NoError(t, err)
	}
	p, err := a.Patterns("u1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.TripCount)
}
