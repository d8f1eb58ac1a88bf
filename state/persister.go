package state

import (
	"context"
	"errors"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/trip"
)

// ErrPersistence wraps any failure of a persistence collaborator.
// Callers log it; it is never propagated as a trip failure.
var ErrPersistence = errors.New("persistence failure")

// PointsBatch is a set of retained points for one trip.
// TripID is the in-memory trip id for batches flushed while recording,
// and the persisted id for the final flush, which carries every point
// of the trip if any batch went out under the in-memory id.
type PointsBatch struct {
	TripID string            `json:"trip_id"`
	UserID conceptual.UserID `json:"user_id"`
	Points []trip.GpsPoint   `json:"points"`
}

// Persister stores finalized trips and their points.
// Implementations own their own timeouts and retries.
type Persister interface {
	// PersistTripRecord stores a finalized trip summary.
	PersistTripRecord(ctx context.Context, summary *trip.Summary) error

	// PersistGpsPointsBatch stores a batch of retained points.
	PersistGpsPointsBatch(ctx context.Context, batch PointsBatch) error

	// LookupPersistedTripID resolves a trip number to the id assigned by the store.
	// Trip numbers are only unique per user.
	LookupPersistedTripID(ctx context.Context, userID conceptual.UserID, tripNumber string) (id string, ok bool, err error)
}

// PointsDiscarder is implemented by stores that can drop the points kept
// under an interim trip id once the route is stored under its persisted id.
type PointsDiscarder interface {
	DiscardPoints(ctx context.Context, tripID string) error
}
