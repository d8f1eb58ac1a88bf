package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/geo/tripdetector"
	"github.com/rotblauer/tripd/types/trip"
)

// Action is a manual trip control.
type Action int

const (
	ActionStart Action = iota + 1
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	}
	return "unknown"
}

// ParseAction parses "start" or "stop", case-insensitively.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return ActionStart, nil
	case "stop":
		return ActionStop, nil
	}
	return 0, fmt.Errorf("unknown trip action %q", s)
}

// ControlResult is the outcome of a manual start or stop.
type ControlResult struct {
	OK     bool   `json:"success"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`

	State         tripdetector.State `json:"state"`
	TripID        conceptual.TripID  `json:"trip_id,omitempty"`
	StoppedTripID conceptual.TripID  `json:"stopped_trip_id,omitempty"`
	Changed       bool               `json:"state_changed"`

	// Summary is the finalized trip for a stop.
	Summary *trip.Summary `json:"trip,omitempty"`

	Err error `json:"-"`
}

// ManualControl starts or stops the user's trip regardless of speed.
// Starting while a trip is active returns the active trip.
// Stopping with no active trip fails with trip.ErrNoActiveTrip.
func (s *System) ManualControl(ctx context.Context, userID conceptual.UserID, action Action) (res ControlResult) {
	res.Action = action.String()
	defer func() {
		if r := recover(); r != nil {
			err := s.recovered("manual_control", r)
			res = ControlResult{Action: action.String(), Error: err.Error(), Err: err}
		}
	}()

	if userID.Empty() {
		res.Err = fmt.Errorf("manual %s: empty user id", action)
		res.Error = res.Err.Error()
		return res
	}
	if action != ActionStart && action != ActionStop {
		res.Err = fmt.Errorf("unknown trip action %d", action)
		res.Error = res.Err.Error()
		return res
	}

	sess := s.lockSession(userID)
	defer sess.mu.Unlock()

	var tr tripdetector.Result
	switch action {
	case ActionStart:
		tr = sess.detector.ManualStart(ctx)
	case ActionStop:
		var err error
		sess.lastTrip = nil
		tr, err = sess.detector.ManualStop(ctx)
		if err != nil {
			res.State = tr.State
			res.Err = err
			res.Error = err.Error()
			return res
		}
		res.Summary = sess.lastTrip
	}

	res.OK = true
	res.State = tr.State
	res.TripID = tr.TripID
	res.StoppedTripID = tr.StoppedTripID
	res.Changed = tr.Changed
	return res
}
