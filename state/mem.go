package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/trip"
)

// MemStore is an in-memory Persister.
// Fail* fields make the corresponding calls fail, for exercising failure paths.
type MemStore struct {
	mu      sync.Mutex
	trips   map[string]trip.Summary
	numbers map[string]string
	points  map[string][]trip.GpsPoint
	batches []PointsBatch

	FailTrips  bool
	FailPoints bool
	FailLookup bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		trips:   make(map[string]trip.Summary),
		numbers: make(map[string]string),
		points:  make(map[string][]trip.GpsPoint),
	}
}

func (m *MemStore) SetFailPoints(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailPoints = v
}

func (m *MemStore) PersistTripRecord(ctx context.Context, summary *trip.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTrips {
		return fmt.Errorf("%w: trip store unavailable", ErrPersistence)
	}
	cp := *summary
	key := string(tripNumberKey(cp.UserID, cp.TripNumber))
	if id, ok := m.numbers[key]; ok {
		cp.PersistedID = id
	} else {
		cp.PersistedID = uuid.NewString()
	}
	m.trips[cp.PersistedID] = cp
	m.numbers[key] = cp.PersistedID
	return nil
}

func (m *MemStore) PersistGpsPointsBatch(ctx context.Context, batch PointsBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPoints {
		return fmt.Errorf("%w: point store unavailable", ErrPersistence)
	}
	cp := batch
	cp.Points = append([]trip.GpsPoint{}, batch.Points...)
	m.batches = append(m.batches, cp)
	m.points[batch.TripID] = append(m.points[batch.TripID], cp.Points...)
	return nil
}

func (m *MemStore) DiscardPoints(ctx context.Context, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPoints {
		return fmt.Errorf("%w: point store unavailable", ErrPersistence)
	}
	delete(m.points, tripID)
	return nil
}

func (m *MemStore) LookupPersistedTripID(ctx context.Context, userID conceptual.UserID, tripNumber string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookup {
		return "", false, fmt.Errorf("%w: lookup unavailable", ErrPersistence)
	}
	id, ok := m.numbers[string(tripNumberKey(userID, tripNumber))]
	return id, ok, nil
}

// Trips returns a copy of all stored summaries.
func (m *MemStore) Trips() []trip.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]trip.Summary, 0, len(m.trips))
	for _, s := range m.trips {
		out = append(out, s)
	}
	return out
}

// Points returns a copy of all points stored under tripID.
func (m *MemStore) Points(tripID string) []trip.GpsPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]trip.GpsPoint{}, m.points[tripID]...)
}

// Batches returns a copy of every batch received, in order.
func (m *MemStore) Batches() []PointsBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PointsBatch{}, m.batches...)
}
