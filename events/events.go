package events

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/trip"
)

// Kind is the type of a trip event.
type Kind string

const (
	TripStarted   Kind = "trip_started"
	TripCompleted Kind = "trip_completed"
	TripFailed    Kind = "trip_failed"
)

// TripEvent announces a trip boundary.
// Summary is set only for completed and failed trips.
type TripEvent struct {
	Kind    Kind              `json:"kind"`
	UserID  conceptual.UserID `json:"user_id"`
	TripID  conceptual.TripID `json:"trip_id"`
	Time    time.Time         `json:"time"`
	Summary *trip.Summary     `json:"summary,omitempty"`
}

// TripFeed delivers TripEvents to subscribers.
// Send blocks until every subscriber has received the event,
// so subscribers must keep reading.
type TripFeed struct {
	event.FeedOf[TripEvent]
}

func NewTripFeed() *TripFeed {
	return &TripFeed{}
}
