package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/trip"
	"go.etcd.io/bbolt"
)

var (
	tripsBucket       = []byte("trips")
	tripNumbersBucket = []byte("trip_numbers")
	pointsBucket      = []byte("points")
)

// BoltStore is a Persister backed by a single bbolt file.
// Trip summaries are stored as JSON by persisted id; points are appended
// as newline-delimited JSON per trip id.
type BoltStore struct {
	DB *bbolt.DB
}

// OpenBoltStore opens (creating if needed) the database at path.
// Opening a writable DB blocks other writers with a file lock.
func OpenBoltStore(path string, readOnly bool) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	s := &BoltStore{DB: db}
	if readOnly {
		return s, nil
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{tripsBucket, tripNumbersBucket, pointsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Close() error {
	return s.DB.Close()
}

func tripNumberKey(userID conceptual.UserID, number string) []byte {
	return []byte(userID.String() + "/" + number)
}

func (s *BoltStore) PersistTripRecord(ctx context.Context, summary *trip.Summary) error {
	if summary == nil {
		return fmt.Errorf("%w: nil summary", ErrPersistence)
	}
	cp := *summary
	err := s.DB.Update(func(tx *bbolt.Tx) error {
		numbers := tx.Bucket(tripNumbersBucket)
		key := tripNumberKey(cp.UserID, cp.TripNumber)

		// Re-persisting the same trip number keeps its id.
		if existing := numbers.Get(key); existing != nil {
			cp.PersistedID = string(existing)
		} else if cp.PersistedID == "" {
			cp.PersistedID = uuid.NewString()
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		if err := tx.Bucket(tripsBucket).Put([]byte(cp.PersistedID), data); err != nil {
			return err
		}
		return numbers.Put(key, []byte(cp.PersistedID))
	})
	if err != nil {
		return fmt.Errorf("%w: store trip %s: %v", ErrPersistence, summary.TripNumber, err)
	}
	slog.Debug("Stored trip", "user", cp.UserID, "trip_number", cp.TripNumber, "id", cp.PersistedID)
	return nil
}

func (s *BoltStore) PersistGpsPointsBatch(ctx context.Context, batch PointsBatch) error {
	if batch.TripID == "" {
		return fmt.Errorf("%w: points batch without trip id", ErrPersistence)
	}
	if len(batch.Points) == 0 {
		return nil
	}
	buf := bytes.NewBuffer([]byte{})
	enc := json.NewEncoder(buf)
	for _, p := range batch.Points {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	err := s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(pointsBucket)
		key := []byte(batch.TripID)
		// Gotcha! The value returned by Get is only valid in the scope of the transaction.
		existing := b.Get(key)
		data := make([]byte, 0, len(existing)+buf.Len())
		data = append(data, existing...)
		data = append(data, buf.Bytes()...)
		return b.Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: store points for %s: %v", ErrPersistence, batch.TripID, err)
	}
	return nil
}

// DiscardPoints deletes all points stored under tripID.
func (s *BoltStore) DiscardPoints(ctx context.Context, tripID string) error {
	err := s.DB.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pointsBucket).Delete([]byte(tripID))
	})
	if err != nil {
		return fmt.Errorf("%w: discard points for %s: %v", ErrPersistence, tripID, err)
	}
	return nil
}

func (s *BoltStore) LookupPersistedTripID(ctx context.Context, userID conceptual.UserID, tripNumber string) (string, bool, error) {
	var id string
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tripNumbersBucket)
		if b == nil {
			return nil
		}
		if got := b.Get(tripNumberKey(userID, tripNumber)); got != nil {
			id = string(got)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return id, id != "", nil
}

// ReadTrip reads a stored summary by persisted id.
func (s *BoltStore) ReadTrip(id string) (*trip.Summary, error) {
	var out *trip.Summary
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tripsBucket)
		if b == nil {
			return fmt.Errorf("no trips bucket")
		}
		got := b.Get([]byte(id))
		if got == nil {
			return fmt.Errorf("trip %s not found", id)
		}
		out = &trip.Summary{}
		return json.Unmarshal(got, out)
	})
	return out, err
}

// ReadPoints reads all points stored under a trip id, in write order.
func (s *BoltStore) ReadPoints(tripID string) ([]trip.GpsPoint, error) {
	buf := bytes.NewBuffer([]byte{})
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(pointsBucket)
		if b == nil {
			return nil
		}
		_, err := buf.Write(b.Get([]byte(tripID)))
		return err
	})
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(buf)
	var points []trip.GpsPoint
	for {
		p := trip.GpsPoint{}
		if err := dec.Decode(&p); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// ForEachTrip calls fn for every stored summary until fn returns an error.
func (s *BoltStore) ForEachTrip(fn func(*trip.Summary) error) error {
	return s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tripsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			sum := &trip.Summary{}
			if err := json.Unmarshal(v, sum); err != nil {
				return err
			}
			return fn(sum)
		})
	})
}
