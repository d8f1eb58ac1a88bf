package common

import (
	"math"
)

// EarthRadiusKm is the mean earth radius used for haversine distances.
// Note that orb/geo uses the equatorial radius (6378137 m); trip distances
// are defined against the mean radius instead.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// latitude/longitude pairs given in degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Asin(math.Min(1, math.Sqrt(a)))
	return EarthRadiusKm * c
}

// HaversineMeters is HaversineKm in meters.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineKm(lat1, lng1, lat2, lng2) * 1000
}

// ValidLatLng returns true if the coordinates are finite and within
// [-90,90] and [-180,180] respectively.
func ValidLatLng(lat, lng float64) bool {
	if !IsFinite(lat) || !IsFinite(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// NormalizeBearing maps a bearing in degrees to [0,360).
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	return b
}

// BearingDelta returns the smaller of the two angular differences between
// bearings a and b, in degrees [0,180].
func BearingDelta(a, b float64) float64 {
	d := math.Abs(NormalizeBearing(b) - NormalizeBearing(a))
	if d > 180 {
		d = 360 - d
	}
	return d
}
