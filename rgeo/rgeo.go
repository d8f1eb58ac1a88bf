// Package rgeo labels trip endpoints with the place they fall in.
package rgeo

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/rotblauer/tripd/s2"
	srgeo "github.com/sams96/rgeo"
)

// ReverseGeocoder names the place containing a point.
type ReverseGeocoder interface {
	Label(pt orb.Point) (string, error)
}

var (
	Cities10    = srgeo.Cities10
	Countries10 = srgeo.Countries10
	Provinces10 = srgeo.Provinces10
)

// datasets are the datasets that the reverse geocoder will use.
var datasets = []func() []byte{
	Cities10,
	Countries10,
	Provinces10,
}

// labelCacheLevel groups nearby lookups into one cache entry.
const labelCacheLevel = s2.CellLevel16

// Rgeo is an in-process ReverseGeocoder.
// The datasets are loaded on first use; loading takes a few seconds.
type Rgeo struct {
	once    sync.Once
	r       *srgeo.Rgeo
	loadErr error
	cache   *lru.Cache[string, string]
}

func New() *Rgeo {
	cache, _ := lru.New[string, string](10_000)
	return &Rgeo{cache: cache}
}

func (g *Rgeo) load() error {
	g.once.Do(func() {
		g.r, g.loadErr = srgeo.New(datasets...)
	})
	return g.loadErr
}

// Location returns the full location record for pt.
func (g *Rgeo) Location(pt orb.Point) (srgeo.Location, error) {
	if err := g.load(); err != nil {
		return srgeo.Location{}, err
	}
	return g.r.ReverseGeocode(pt)
}

// Label returns "City, Province, Country" with empty parts omitted.
func (g *Rgeo) Label(pt orb.Point) (string, error) {
	key := s2.Token(pt, labelCacheLevel)
	if v, ok := g.cache.Get(key); ok {
		return v, nil
	}
	loc, err := g.Location(pt)
	if err != nil {
		return "", err
	}
	label := FormatLocation(loc)
	if label == "" {
		return "", fmt.Errorf("no location for %v", pt)
	}
	g.cache.Add(key, label)
	return label, nil
}

func FormatLocation(loc srgeo.Location) string {
	parts := []string{}
	for _, p := range []string{loc.City, loc.Province, loc.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
