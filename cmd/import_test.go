package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rotblauer/tripd/api"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/state"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func init() {
	common.SlogResetLevel(slog.LevelWarn + 1)
}

// ndjson builds n samples per user, one second apart, moving at speedMps.
func ndjson(users []string, start time.Time, n int, speedMps float64) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		for _, u := range users {
			fmt.Fprintf(&b, `{"user_id":%q,"latitude":%f,"longitude":-93.25,"accuracy":5,"speed_mps":%v,"timestamp":%d}`+"\n",
				u, 44.98+float64(i)*0.0002, speedMps, start.Add(time.Duration(i)*time.Second).Unix())
		}
	}
	return b.String()
}

func TestWorkerFor(t *testing.T) {
	for _, u := range []string{"rye", "ia", "jl", ""} {
		w := workerFor(u, 4)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 4)
		assert.Equal(t, w, workerFor(u, 4))
	}
	assert.Equal(t, 0, workerFor("rye", 1))
}

func TestReplayClock(t *testing.T) {
	c := &replayClock{}
	assert.WithinDuration(t, time.Now(), c.Now(), time.Minute)

	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Observe(t0.Add(time.Minute))
	c.Observe(t0)
	assert.Equal(t, t0.Add(time.Minute), c.Now(), "never goes backwards")
}

func TestImportSamples(t *testing.T) {
	store := state.NewMemStore()
	clock := &replayClock{}
	system := api.NewSystem(api.Options{Persister: store, Clock: clock.Now})
	defer system.Close()

	out := new(bytes.Buffer)
	printed := printSummaries(system.Feed, out)

	start := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	input := ndjson([]string{"rye", "ia"}, start, 80, 6) + "not json\n"
	n, err := importSamples(context.Background(), system, clock, strings.NewReader(input), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(160), n)
	assert.Len(t, system.Overview().ActiveTrips, 2)

	closeOpenTrips(context.Background(), system)
	assert.Empty(t, system.Overview().ActiveTrips)
	assert.Equal(t, 2, printed())
	assert.Len(t, store.Trips(), 2)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, "completed", gjson.Get(line, "status").String())
		end := gjson.Get(line, "end_time").Time()
		assert.True(t, end.Before(start.Add(time.Hour)), "replayed trips keep sample times: %v", end)
	}
}

func TestConfigsFromViper(t *testing.T) {
	defer viper.Reset()

	tc, rc, err := configsFromViper()
	require.NoError(t, err)
	assert.Equal(t, 3.0, tc.SpeedThreshold)
	assert.Equal(t, 45*time.Second, rc.GPSInterval)

	viper.Set("speed-threshold", 8.0)
	viper.Set("gps-interval", "30s")
	tc, rc, err = configsFromViper()
	require.NoError(t, err)
	assert.Equal(t, 8.0, tc.SpeedThreshold)
	assert.Equal(t, 30*time.Second, rc.GPSInterval)

	viper.Set("speed-threshold", 500.0)
	_, _, err = configsFromViper()
	assert.Error(t, err)
}
