package mode

import (
	"math"

	transport "github.com/rotblauer/tripd/types/mode"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min, Max float64
}

// Fit scores how well v fits the range, in [0,1].
// Inside, the score falls off linearly from 1 at the midpoint to 0 at the
// bounds. Outside, it falls off over half the nearest bound.
func (r Range) Fit(v float64) float64 {
	if v >= r.Min && v <= r.Max {
		width := r.Max - r.Min
		if width == 0 {
			return 1
		}
		mid := (r.Min + r.Max) / 2
		return math.Max(0, 1-math.Abs(v-mid)/(width/2))
	}
	var dist, penalty float64
	if v < r.Min {
		dist, penalty = r.Min-v, r.Min*0.5
	} else {
		dist, penalty = v-r.Max, r.Max*0.5
	}
	if penalty == 0 {
		return 0
	}
	return math.Max(0, 1-dist/penalty)
}

// Profile is the expected feature ranges of one transport mode.
type Profile struct {
	Mode         transport.TransportMode
	SpeedKmh     Range
	Acceleration Range
	StopsPerHour Range
}

const (
	speedWeight = 0.4
	accelWeight = 0.3
	stopsWeight = 0.3
)

// Profiles are scored in order; ties go to the earlier profile.
var Profiles = []Profile{
	{transport.Walking, Range{0, 8}, Range{0, 2}, Range{0, 10}},
	{transport.Cycling, Range{8, 25}, Range{0, 3}, Range{0, 5}},
	{transport.Car, Range{15, 120}, Range{0, 5}, Range{2, 20}},
	{transport.Bus, Range{10, 80}, Range{0, 4}, Range{5, 30}},
	{transport.Train, Range{30, 200}, Range{0, 3}, Range{1, 10}},
}

// Score is a candidate mode and its fit.
type Score struct {
	Mode  transport.TransportMode `json:"mode"`
	Score float64                 `json:"score"`
}

func (p Profile) score(avgSpeed, avgAccel, stopsPerHour float64) float64 {
	sum := speedWeight*p.SpeedKmh.Fit(avgSpeed) +
		accelWeight*p.Acceleration.Fit(avgAccel) +
		stopsWeight*p.StopsPerHour.Fit(stopsPerHour)
	return sum / (speedWeight + accelWeight + stopsWeight)
}

// Classify selects the best fitting mode. Confidence is its score.
func Classify(f *Features) (transport.TransportMode, float64, []Score) {
	if f == nil {
		return transport.Unknown, 0, nil
	}
	scores := make([]Score, 0, len(Profiles))
	best := Score{Mode: transport.Unknown, Score: -1}
	for _, p := range Profiles {
		s := Score{Mode: p.Mode, Score: p.score(f.AvgSpeedKmh, f.AvgAcceleration, f.StopsPerHour())}
		scores = append(scores, s)
		if s.Score > best.Score {
			best = s
		}
	}
	return best.Mode, best.Score, scores
}

// Quality is the mean of GPS accuracy, point density, duration
// plausibility and speed consistency scores.
func Quality(f *Features) float64 {
	gps := math.Max(0, 1-f.AvgAccuracy/100)
	density := math.Min(1, float64(f.PointCount)/50)
	duration := 0.5
	if f.DurationMinutes >= 2 && f.DurationMinutes <= 120 {
		duration = 1
	}
	consistency := math.Max(0, 1-f.SpeedVariance/100)
	return (gps + density + duration + consistency) / 4
}
