package api

import (
	"sort"
	"time"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/geo/mode"
	"github.com/rotblauer/tripd/geo/route"
	"github.com/rotblauer/tripd/geo/sensor"
	"github.com/rotblauer/tripd/geo/tripdetector"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/rotblauer/tripd/types/trip"
)

// UserStatus is everything known about one user.
type UserStatus struct {
	UserID conceptual.UserID `json:"user_id"`

	// Known is false if the user has no session.
	Known bool `json:"known"`

	Trip      tripdetector.Snapshot    `json:"trip_state"`
	Config    params.TripConfig        `json:"config"`
	Recording *route.Status            `json:"recording_status,omitempty"`
	Sensor    *sensor.Summary          `json:"sensor_summary,omitempty"`
	Patterns  *mode.Patterns           `json:"travel_patterns,omitempty"`
	LastKnown *sample.NormalizedSample `json:"last_known,omitempty"`
	LastTrip  *trip.Summary            `json:"last_trip,omitempty"`
}

// UserStatus reports the user's state without changing it.
func (s *System) UserStatus(userID conceptual.UserID) (st UserStatus) {
	st = UserStatus{UserID: userID, Trip: tripdetector.Snapshot{State: tripdetector.Idle}}
	defer func() {
		if r := recover(); r != nil {
			s.recovered("user_status", r)
		}
	}()

	if sess, ok := s.lookup(userID); ok {
		st.Known = true
		sess.mu.Lock()
		st.Trip = sess.detector.Snapshot()
		st.Config = sess.detector.Config
		st.LastTrip = sess.lastTrip
		sess.mu.Unlock()
	} else {
		st.Config = s.TripConfig()
	}

	if !st.Trip.TripID.Empty() {
		if rs, err := s.Recorder.Status(st.Trip.TripID); err == nil {
			st.Recording = rs
		}
	}
	if sum, ok := s.Normalizer.Summary(userID); ok {
		st.Sensor = &sum
	}
	if p, err := s.Analyzer.Patterns(userID); err == nil {
		st.Patterns = p
	}
	if last, ok := s.lastKnown.Get(userID); ok {
		st.LastKnown = last
	}
	return st
}

// ActiveTrip is an active trip of one user.
type ActiveTrip struct {
	UserID     conceptual.UserID `json:"user_id"`
	TripID     conceptual.TripID `json:"trip_id"`
	StateStart *time.Time        `json:"start_time,omitempty"`
}

// Overview is the system-wide view of active trips.
type Overview struct {
	Users       int             `json:"total_users"`
	ActiveTrips []ActiveTrip    `json:"active_trips"`
	Recordings  []*route.Status `json:"recordings"`
}

// Overview lists active trips across all users.
func (s *System) Overview() (o Overview) {
	defer func() {
		if r := recover(); r != nil {
			s.recovered("overview", r)
		}
	}()

	sessions := s.allSessions()
	o.Users = len(sessions)
	o.ActiveTrips = []ActiveTrip{}
	for _, sess := range sessions {
		sess.mu.Lock()
		snap := sess.detector.Snapshot()
		sess.mu.Unlock()
		if snap.State != tripdetector.Active {
			continue
		}
		o.ActiveTrips = append(o.ActiveTrips, ActiveTrip{
			UserID:     sess.UserID,
			TripID:     snap.TripID,
			StateStart: snap.StateStart,
		})
	}
	sort.Slice(o.ActiveTrips, func(i, j int) bool {
		return o.ActiveTrips[i].UserID < o.ActiveTrips[j].UserID
	})
	o.Recordings = s.Recorder.Statuses()
	return o
}
