package tripdetector

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/types/trip"
)

// State is the trip state of a single user.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger names what caused a state transition.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerSpeedDuration
	TriggerStopDuration
	TriggerManual
)

func (t Trigger) String() string {
	switch t {
	case TriggerSpeedDuration:
		return "speed_duration_threshold"
	case TriggerStopDuration:
		return "stop_duration_threshold"
	case TriggerManual:
		return "manual"
	case TriggerNone:
		return ""
	}
	return ""
}

func (t Trigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Hooks are notified of trip boundaries.
// Errors are logged and never block a transition.
type Hooks interface {
	OnTripStart(ctx context.Context, tripID conceptual.TripID) error
	OnTripStop(ctx context.Context, tripID conceptual.TripID) error
}

// Result is the outcome of a single Process call or manual action.
type Result struct {
	State         State             `json:"current_state"`
	TripID        conceptual.TripID `json:"trip_id,omitempty"`
	StateDuration time.Duration     `json:"-"`
	Changed       bool              `json:"state_changed"`
	Trigger       Trigger           `json:"trigger,omitempty"`
	SpeedKmh      float64           `json:"speed_kmh"`

	// StoppedTripID is the trip that ended, if this call ended one.
	StoppedTripID conceptual.TripID `json:"stopped_trip_id,omitempty"`
}

func (r Result) StateDurationSeconds() float64 {
	return r.StateDuration.Seconds()
}

// Snapshot is a read-only view of a TripDetector.
type Snapshot struct {
	State         State             `json:"state"`
	TripID        conceptual.TripID `json:"trip_id,omitempty"`
	StateStart    *time.Time        `json:"state_start_time,omitempty"`
	StateDuration time.Duration     `json:"-"`
	LastSample    *time.Time        `json:"last_sensor_update,omitempty"`
}

var tripSeq atomic.Uint64

// NewTripID composes a trip id from the user, the start time at millisecond
// precision and a process-wide sequence number.
func NewTripID(userID conceptual.UserID, t time.Time) conceptual.TripID {
	return conceptual.TripID(fmt.Sprintf("%s_%s_%d",
		userID, t.UTC().Format("20060102_150405.000"), tripSeq.Add(1)))
}

// TripDetector decides when a user's trip starts and stops.
// It debounces on smoothed speed: speed must stay at or above the threshold
// for DurationThreshold to start a trip, and below it for
// StopDurationThreshold to stop one. A single sample on the other side
// of the threshold resets the running timer.
//
// A TripDetector is not safe for concurrent use; callers serialize per user.
type TripDetector struct {
	UserID conceptual.UserID
	Config params.TripConfig
	Hooks  Hooks

	// Clock stamps state entry times. Defaults to time.Now.
	Clock func() time.Time

	state      State
	tripID     conceptual.TripID
	stateStart time.Time
	aboveStart time.Time
	belowStart time.Time
	lastSample time.Time

	logger *slog.Logger
}

func NewTripDetector(userID conceptual.UserID, config params.TripConfig, hooks Hooks) *TripDetector {
	return &TripDetector{
		UserID: userID,
		Config: config,
		Hooks:  hooks,
		Clock:  time.Now,
		state:  Idle,
		logger: slog.With("user", userID),
	}
}

func (d *TripDetector) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock()
}

func (d *TripDetector) State() State {
	return d.state
}

func (d *TripDetector) TripID() conceptual.TripID {
	return d.tripID
}

func (d *TripDetector) SetConfig(config params.TripConfig) {
	d.Config = config
}

func (d *TripDetector) stateDuration() time.Duration {
	if d.stateStart.IsZero() {
		return 0
	}
	return d.now().Sub(d.stateStart)
}

func (d *TripDetector) result(speed float64) Result {
	return Result{
		State:         d.state,
		TripID:        d.tripID,
		StateDuration: d.stateDuration(),
		SpeedKmh:      speed,
	}
}

// Process feeds one smoothed speed sample taken at t.
func (d *TripDetector) Process(ctx context.Context, speedKmh float64, t time.Time) Result {
	d.lastSample = t
	switch d.state {
	case Idle:
		return d.handleIdle(ctx, speedKmh, t)
	case Active:
		return d.handleActive(ctx, speedKmh, t)
	}
	return d.result(speedKmh)
}

func (d *TripDetector) handleIdle(ctx context.Context, speed float64, t time.Time) Result {
	if speed < d.Config.SpeedThreshold {
		if !d.aboveStart.IsZero() {
			d.logger.Debug("Speed dropped below threshold, resetting timer", "speed", speed)
			d.aboveStart = time.Time{}
		}
		return d.result(speed)
	}
	if d.aboveStart.IsZero() {
		d.logger.Debug("Speed above threshold, starting timer", "speed", speed)
		d.aboveStart = t
		return d.result(speed)
	}
	if t.Sub(d.aboveStart) < d.Config.DurationThreshold {
		return d.result(speed)
	}
	d.toActive(ctx, TriggerSpeedDuration)
	r := d.result(speed)
	r.Changed = true
	r.Trigger = TriggerSpeedDuration
	return r
}

func (d *TripDetector) handleActive(ctx context.Context, speed float64, t time.Time) Result {
	if speed >= d.Config.SpeedThreshold {
		if !d.belowStart.IsZero() {
			d.logger.Debug("Speed increased above threshold, resetting stop timer", "speed", speed)
			d.belowStart = time.Time{}
		}
		return d.result(speed)
	}
	if d.belowStart.IsZero() {
		d.logger.Debug("Speed below threshold, starting stop timer", "speed", speed)
		d.belowStart = t
		return d.result(speed)
	}
	if t.Sub(d.belowStart) < d.Config.StopDurationThreshold {
		return d.result(speed)
	}
	stopped := d.toIdle(ctx, TriggerStopDuration)
	r := d.result(speed)
	r.Changed = true
	r.Trigger = TriggerStopDuration
	r.StoppedTripID = stopped
	return r
}

// ManualStart starts a trip unless one is already active,
// in which case the active trip id is returned and no hook is called.
func (d *TripDetector) ManualStart(ctx context.Context) Result {
	if d.state == Active {
		d.logger.Warn("Trip already active, ignoring manual start", "trip", d.tripID)
		return d.result(0)
	}
	d.toActive(ctx, TriggerManual)
	r := d.result(0)
	r.Changed = true
	r.Trigger = TriggerManual
	return r
}

// ManualStop stops the active trip.
// With no active trip it returns trip.ErrNoActiveTrip and changes nothing.
func (d *TripDetector) ManualStop(ctx context.Context) (Result, error) {
	if d.state != Active {
		return d.result(0), fmt.Errorf("manual stop for %s: %w", d.UserID, trip.ErrNoActiveTrip)
	}
	stopped := d.toIdle(ctx, TriggerManual)
	r := d.result(0)
	r.Changed = true
	r.Trigger = TriggerManual
	r.StoppedTripID = stopped
	return r, nil
}

func (d *TripDetector) toActive(ctx context.Context, trigger Trigger) {
	now := d.now()
	id := NewTripID(d.UserID, now)
	d.logger.Info("Transitioning to active", "trigger", trigger, "trip", id)

	d.state = Active
	d.tripID = id
	d.stateStart = now
	d.aboveStart = time.Time{}
	d.belowStart = time.Time{}

	if d.Hooks == nil {
		return
	}
	if err := d.Hooks.OnTripStart(ctx, id); err != nil {
		d.logger.Error("Failed to start route recording", "trip", id, "error", err)
	}
}

func (d *TripDetector) toIdle(ctx context.Context, trigger Trigger) conceptual.TripID {
	id := d.tripID
	d.logger.Info("Transitioning to idle", "trigger", trigger, "trip", id)

	if d.Hooks != nil && !id.Empty() {
		if err := d.Hooks.OnTripStop(ctx, id); err != nil {
			d.logger.Error("Failed to stop route recording", "trip", id, "error", err)
		}
	}

	d.state = Idle
	d.tripID = ""
	d.stateStart = time.Time{}
	d.aboveStart = time.Time{}
	d.belowStart = time.Time{}
	return id
}

// Snapshot returns the current state without changing it.
func (d *TripDetector) Snapshot() Snapshot {
	s := Snapshot{
		State:         d.state,
		TripID:        d.tripID,
		StateDuration: d.stateDuration(),
	}
	if !d.stateStart.IsZero() {
		start := d.stateStart
		s.StateStart = &start
	}
	if !d.lastSample.IsZero() {
		last := d.lastSample
		s.LastSample = &last
	}
	return s
}
