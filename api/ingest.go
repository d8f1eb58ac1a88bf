package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotblauer/tripd/geo/route"
	"github.com/rotblauer/tripd/geo/tripdetector"
	"github.com/rotblauer/tripd/metrics"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/rotblauer/tripd/types/trip"
)

// Pipeline steps named in failed results.
const (
	StepInput            = "input"
	StepSensorProcessing = "sensor_processing"
	StepInternal         = "internal"
)

// IngestResult is the outcome of one sensor sample.
type IngestResult struct {
	OK        bool   `json:"success"`
	Step      string `json:"step,omitempty"`
	Error     string `json:"error,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`

	Sensor    *sample.NormalizedSample `json:"sensor_data,omitempty"`
	Trip      *tripdetector.Result     `json:"trip_state,omitempty"`
	Recording *route.Status            `json:"recording_status,omitempty"`

	// PointRetained is true if the sample was added to the active trip's route.
	PointRetained bool `json:"point_retained"`

	// PointError is why an active trip did not take the point, if it did not.
	PointError string `json:"point_error,omitempty"`

	Err error `json:"-"`
}

func failed(step string, err error) IngestResult {
	return IngestResult{OK: false, Step: step, Error: err.Error(), Err: err}
}

// ProcessSensorInput runs one raw sample through the user's pipeline:
// dedupe, normalize, trip detection, and route recording while a trip is active.
// Invalid samples are dropped without changing any state.
func (s *System) ProcessSensorInput(ctx context.Context, raw *sample.RawSample) (res IngestResult) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(StepInternal, s.recovered("process_sensor_input", r))
		}
	}()

	if raw == nil || raw.UserID.Empty() {
		metrics.SamplesRejected.Mark(1)
		return failed(StepInput, fmt.Errorf("%w: missing sample or user id", sample.ErrInvalidInput))
	}
	if err := s.Normalizer.Validate(raw); err != nil {
		metrics.SamplesRejected.Mark(1)
		return failed(StepSensorProcessing, err)
	}
	if !s.dedupe.Pass(raw.UserID, raw) {
		metrics.SamplesDuplicate.Mark(1)
		return IngestResult{OK: true, Duplicate: true}
	}

	sess := s.lockSession(raw.UserID)
	defer sess.mu.Unlock()

	norm, err := s.Normalizer.Normalize(raw)
	if err != nil {
		metrics.SamplesRejected.Mark(1)
		return failed(StepSensorProcessing, err)
	}
	metrics.SamplesAccepted.Mark(1)
	s.lastKnown.Set(raw.UserID, norm)

	tr := sess.detector.Process(ctx, norm.SpeedKmh, norm.Time)
	res = IngestResult{OK: true, Sensor: norm, Trip: &tr}

	if tr.State != tripdetector.Active || tr.TripID.Empty() {
		return res
	}

	speed := norm.SpeedKmh
	point := trip.GpsPoint{
		Lat:      norm.Lat,
		Lng:      norm.Lng,
		Time:     norm.Time,
		Accuracy: norm.Accuracy,
		SpeedKmh: &speed,
		Altitude: norm.Altitude,
		Bearing:  norm.Bearing,
	}
	retained, err := s.Recorder.AddPoint(ctx, tr.TripID, point)
	if err != nil {
		// The sample still counted for trip detection.
		res.PointError = err.Error()
		if !errors.Is(err, sample.ErrInvalidInput) {
			s.logger.Warn("Failed to add point to trip", "user", raw.UserID, "trip", tr.TripID, "error", err)
		}
	}
	res.PointRetained = retained

	if st, err := s.Recorder.Status(tr.TripID); err == nil {
		res.Recording = st
	}
	return res
}
