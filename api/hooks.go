package api

import (
	"context"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/events"
	"github.com/rotblauer/tripd/types/trip"
)

// recorderHooks bridge a user's trip detector to the route recorder.
// They run under the session lock.
type recorderHooks struct {
	sys  *System
	sess *Session
}

func (h *recorderHooks) OnTripStart(ctx context.Context, tripID conceptual.TripID) error {
	if err := h.sys.Recorder.Start(ctx, tripID, h.sess.UserID); err != nil {
		return err
	}
	h.sys.Feed.Send(events.TripEvent{
		Kind:   events.TripStarted,
		UserID: h.sess.UserID,
		TripID: tripID,
		Time:   h.sys.clock(),
	})
	return nil
}

func (h *recorderHooks) OnTripStop(ctx context.Context, tripID conceptual.TripID) error {
	summary, err := h.sys.Recorder.Stop(ctx, tripID)
	if err != nil {
		return err
	}
	h.sess.lastTrip = summary

	kind := events.TripCompleted
	if summary.Status == trip.StatusError {
		kind = events.TripFailed
	}
	h.sys.Feed.Send(events.TripEvent{
		Kind:    kind,
		UserID:  h.sess.UserID,
		TripID:  tripID,
		Time:    h.sys.clock(),
		Summary: summary,
	})
	return nil
}
