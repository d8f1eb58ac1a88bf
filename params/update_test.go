package params

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestConfigUpdate_Validate(t *testing.T) {
	cases := []struct {
		name string
		u    ConfigUpdate
		ok   bool
	}{
		{"empty", ConfigUpdate{}, true},
		{"speed ok", ConfigUpdate{SpeedThreshold: ptr(5.0)}, true},
		{"speed low", ConfigUpdate{SpeedThreshold: ptr(-1.0)}, false},
		{"speed high", ConfigUpdate{SpeedThreshold: ptr(50.1)}, false},
		{"duration ok", ConfigUpdate{DurationThreshold: ptr(30 * time.Second)}, true},
		{"duration low", ConfigUpdate{DurationThreshold: ptr(9 * time.Second)}, false},
		{"stop high", ConfigUpdate{StopDurationThreshold: ptr(301 * time.Second)}, false},
		{"gps seconds ok", ConfigUpdate{GPSIntervalSeconds: ptr(5.0)}, true},
		{"gps seconds low", ConfigUpdate{GPSIntervalSeconds: ptr(4.0)}, false},
		{"speed NaN", ConfigUpdate{SpeedThreshold: ptr(math.NaN())}, false},
		{"speed Inf", ConfigUpdate{SpeedThreshold: ptr(math.Inf(1))}, false},
		{"duration seconds NaN", ConfigUpdate{DurationThresholdSeconds: ptr(math.NaN())}, false},
		{"stop seconds Inf", ConfigUpdate{StopDurationThresholdSeconds: ptr(math.Inf(-1))}, false},
		{"gps seconds NaN", ConfigUpdate{GPSIntervalSeconds: ptr(math.NaN())}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.u.Validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrConfigOutOfRange), "got %v", err)
			}
		})
	}
}

func TestConfigUpdate_ApplyTrip(t *testing.T) {
	c := DefaultTripConfig()
	u := ConfigUpdate{
		SpeedThreshold:               ptr(4.5),
		StopDurationThresholdSeconds: ptr(120.0),
	}
	require.NoError(t, u.Validate())
	got := u.ApplyTrip(c)
	assert.Equal(t, 4.5, got.SpeedThreshold)
	assert.Equal(t, c.DurationThreshold, got.DurationThreshold)
	assert.Equal(t, 120*time.Second, got.StopDurationThreshold)
	assert.False(t, u.Empty())
	assert.True(t, ConfigUpdate{}.Empty())
}
