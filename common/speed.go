package common

// Speeds here are in km/h, the unit trip detection and mode classification
// reason in. Devices report m/s.

const KmhPerMps = 3.6

const SpeedOfWalkingMeanKmh = 4.3
const SpeedOfWalkingMaxKmh = 6.4
const SpeedOfRunningMaxKmh = 20.0
const SpeedOfCyclingMaxKmh = 42.0
const SpeedOfCityDrivingKmh = 50.0
const SpeedOfHighwayDrivingKmh = 120.0

// MpsToKmh converts meters per second to kilometers per hour.
func MpsToKmh(mps float64) float64 {
	return mps * KmhPerMps
}
