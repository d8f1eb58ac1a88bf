package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/jellydator/ttlcache/v3"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/types/sample"
)

// LastKnown remembers the latest normalized sample per user for a while.
type LastKnown struct {
	c *ttlcache.Cache[conceptual.UserID, *sample.NormalizedSample]
}

func NewLastKnown(ttl time.Duration) *LastKnown {
	return &LastKnown{
		c: ttlcache.New[conceptual.UserID, *sample.NormalizedSample](
			ttlcache.WithTTL[conceptual.UserID, *sample.NormalizedSample](ttl)),
	}
}

func (l *LastKnown) Set(userID conceptual.UserID, s *sample.NormalizedSample) {
	l.c.Set(userID, s, ttlcache.DefaultTTL)
}

func (l *LastKnown) Get(userID conceptual.UserID) (*sample.NormalizedSample, bool) {
	item := l.c.Get(userID)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (l *LastKnown) Delete(userID conceptual.UserID) {
	l.c.Delete(userID)
}

// Dedupe passes values a user has not sent among the last size values.
// Values are compared by structure hash.
type Dedupe struct {
	mu     sync.Mutex
	cache  *lru.Cache
	byUser map[conceptual.UserID]map[dedupeKey]struct{}
}

type dedupeKey struct {
	user conceptual.UserID
	hash uint64
}

func NewDedupe(size int) *Dedupe {
	d := &Dedupe{
		cache:  lru.New(size),
		byUser: make(map[conceptual.UserID]map[dedupeKey]struct{}),
	}
	d.cache.OnEvicted = func(k lru.Key, _ any) {
		key := k.(dedupeKey)
		keys := d.byUser[key.user]
		delete(keys, key)
		if len(keys) == 0 {
			delete(d.byUser, key.user)
		}
	}
	return d
}

// Pass returns true if v is not a recent duplicate from userID.
// Values that cannot be hashed always pass.
func (d *Dedupe) Pass(userID conceptual.UserID, v any) bool {
	hash, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return true
	}
	key := dedupeKey{user: userID, hash: hash}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache.Get(key); ok {
		return false
	}
	d.cache.Add(key, true)
	keys, ok := d.byUser[userID]
	if !ok {
		keys = make(map[dedupeKey]struct{})
		d.byUser[userID] = keys
	}
	keys[key] = struct{}{}
	return true
}

// Forget drops every value remembered for userID.
func (d *Dedupe) Forget(userID conceptual.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.byUser[userID] {
		d.cache.Remove(key)
	}
	delete(d.byUser, userID)
}

// Len returns the number of remembered values.
func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Len()
}
