package params

import "time"

// SensorConfig tunes sample validation and smoothing.
type SensorConfig struct {
	// MaxAccuracy is the accuracy ceiling in meters. Worse samples are rejected.
	MaxAccuracy float64

	// MaxSpeedKmh rejects samples reporting an implausible speed.
	MaxSpeedKmh float64

	// SpeedWindow is the number of recent speeds averaged per user.
	SpeedWindow int

	// MotionWindow is the number of recent accelerometer magnitudes kept per user.
	MotionWindow int

	// MinMotionSamples is the minimum number of magnitudes needed for a variance.
	MinMotionSamples int

	// StationaryVarianceThreshold marks a device stationary when
	// the accelerometer magnitude variance is below it.
	StationaryVarianceThreshold float64

	// KalmanResetInterval resets a user's position filter after a gap this long.
	KalmanResetInterval time.Duration
}

func DefaultSensorConfig() *SensorConfig {
	return &SensorConfig{
		MaxAccuracy:                 100,
		MaxSpeedKmh:                 200,
		SpeedWindow:                 5,
		MotionWindow:                10,
		MinMotionSamples:            3,
		StationaryVarianceThreshold: 0.5,
		KalmanResetInterval:         5 * time.Minute,
	}
}

// TripConfig holds the debounce thresholds of the trip state machine.
type TripConfig struct {
	// SpeedThreshold (km/h) separates moving from not moving.
	SpeedThreshold float64

	// DurationThreshold is how long speed must stay at or above
	// SpeedThreshold before a trip starts.
	DurationThreshold time.Duration

	// StopDurationThreshold is how long speed must stay below
	// SpeedThreshold before a trip stops.
	StopDurationThreshold time.Duration
}

func DefaultTripConfig() TripConfig {
	return TripConfig{
		SpeedThreshold:        3.0,
		DurationThreshold:     60 * time.Second,
		StopDurationThreshold: 60 * time.Second,
	}
}

// RecorderConfig tunes route recording.
type RecorderConfig struct {
	// GPSInterval is the heartbeat period of an open trip.
	GPSInterval time.Duration

	// MinDistance (meters) is the minimum spacing between retained points.
	MinDistance float64

	// MaxAccuracy (meters) rejects imprecise points.
	MaxAccuracy float64

	// BatchSize is the number of retained points per asynchronous flush.
	BatchSize int

	// OutlierSegmentKm discards single segments longer than this from distance sums.
	OutlierSegmentKm float64
}

func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		GPSInterval:      45 * time.Second,
		MinDistance:      10,
		MaxAccuracy:      50,
		BatchSize:        100,
		OutlierSegmentKm: 1.0,
	}
}

// FeatureConfig tunes feature extraction.
type FeatureConfig struct {
	// MinPoints is the fewest points a trip needs to be analyzed.
	MinPoints int

	// StopSpeedKmh counts points slower than this as stops.
	StopSpeedKmh float64

	// DirectionChangeDegrees counts bearing changes larger than this.
	DirectionChangeDegrees float64
}

func DefaultFeatureConfig() *FeatureConfig {
	return &FeatureConfig{
		MinPoints:              10,
		StopSpeedKmh:           2.0,
		DirectionChangeDegrees: 45,
	}
}
