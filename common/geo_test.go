package common

import (
	"math"
	"testing"
)

func TestHaversineKm_OneDegreeAtEquator(t *testing.T) {
	got := HaversineKm(0, 0, 0, 1)
	want := 111.19
	if math.Abs(got-want)/want > 0.005 {
		t.Errorf("have %f want %f (±0.5%%)", got, want)
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := HaversineKm(46.87, -113.99, 44.98, -93.26)
	b := HaversineKm(44.98, -93.26, 46.87, -113.99)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("have %f want %f", a, b)
	}
	if HaversineKm(10, 10, 10, 10) != 0 {
		t.Error("same point distance should be zero")
	}
}

func TestValidLatLng(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.0001, 0, false},
		{0, -180.1, false},
		{math.NaN(), 0, false},
		{0, math.Inf(1), false},
	}
	for i, c := range cases {
		if got := ValidLatLng(c.lat, c.lng); got != c.want {
			t.Errorf("i=%d have %v want %v", i, got, c.want)
		}
	}
}

func TestBearingDelta(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{0, 90, 90},
		{350, 10, 20},
		{10, 350, 20},
		{0, 180, 180},
		{-90, 90, 180},
	}
	for i, c := range cases {
		if got := BearingDelta(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("i=%d have %f want %f", i, got, c.want)
		}
	}
}
