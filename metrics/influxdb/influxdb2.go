package influxdb

import (
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/types/trip"
)

// TripPoint converts a finalized trip into a line protocol point
// stamped with the trip end.
func TripPoint(s *trip.Summary) *write.Point {
	p := influxdb2.NewPointWithMeasurement("trip").
		SetTime(s.End).
		AddTag("user", s.UserID.String()).
		AddTag("mode", s.Mode.String()).
		AddTag("status", s.Status.String()).
		AddTag("chain_id", s.ChainID).
		AddField("trip_number", s.TripNumber).
		AddField("distance_km", s.TotalDistanceKm).
		AddField("duration_minutes", s.DurationMinutes).
		AddField("points", s.PointCount).
		AddField("start_latitude", s.StartLat).
		AddField("start_longitude", s.StartLng).
		AddField("end_latitude", s.EndLat).
		AddField("end_longitude", s.EndLng)
	if s.OriginCell != "" {
		p.AddField("origin_cell", s.OriginCell)
	}
	if s.DestinationCell != "" {
		p.AddField("destination_cell", s.DestinationCell)
	}
	if s.DurationMinutes > 0 {
		p.AddField("avg_speed_kmh", s.TotalDistanceKm/(float64(s.DurationMinutes)/60))
	}
	return p
}

// ExportTrips posts trips to an InfluxDB Write API.
// Because it accepts a slice, use batches. The Write API will buffer and flush.
// The last error encountered is returned.
func ExportTrips(config *params.InfluxConfig, trips []*trip.Summary) error {
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Second)
	client := influxdb2.NewClientWithOptions(config.ServerURL, config.Token, opts)
	writeAPI := client.WriteAPI(config.Org, config.Bucket)

	// Errors returns a channel for reading errors which occurs during async writes.
	// Must be called before performing any writes for errors to be collected.
	// The chan is unbuffered and must be drained or the writer will block.
	// https://github.com/influxdata/influxdb-client-go?tab=readme-ov-file#reading-async-errors
	errorsCh := writeAPI.Errors()
	var err error
	wait := sync.WaitGroup{}
	wait.Add(1)
	go func() {
		defer wait.Done()
		for e := range errorsCh {
			if e != nil {
				err = e
			}
		}
	}()

	for _, s := range trips {
		writeAPI.WritePoint(TripPoint(s))
	}
	writeAPI.Flush()
	client.Close()
	wait.Wait()
	return err
}
