package mode

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/montanaflynn/stats"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/params"
	transport "github.com/rotblauer/tripd/types/mode"
	"github.com/rotblauer/tripd/types/trip"
)

// Result is the analysis of one trip.
type Result struct {
	Mode       transport.TransportMode `json:"transport_mode"`
	Confidence float64                 `json:"confidence"`
	Quality    float64                 `json:"quality_score"`
	Features   *Features               `json:"features"`
	Scores     []Score                 `json:"scores"`
	AnalyzedAt time.Time               `json:"analysis_timestamp"`
}

// Patterns summarize a user's recently analyzed trips.
type Patterns struct {
	UserID                 conceptual.UserID `json:"user_id"`
	TripCount              int               `json:"trip_count"`
	AverageSpeedKmh        float64           `json:"average_speed_kmh"`
	AverageDurationMinutes float64           `json:"average_duration_minutes"`
	CommonTravelHours      []int             `json:"common_travel_hours"`
	LastUpdated            time.Time         `json:"last_updated"`
}

// Analyzer extracts, classifies and remembers the last few trips per user.
type Analyzer struct {
	Extractor *Extractor
	Clock     func() time.Time

	mu      sync.Mutex
	history *lru.Cache[conceptual.UserID, *common.RingBuffer[*Features]]
}

func NewAnalyzer(config *params.FeatureConfig) *Analyzer {
	history, err := lru.New[conceptual.UserID, *common.RingBuffer[*Features]](params.PatternHistoryUsers)
	if err != nil {
		panic(err)
	}
	return &Analyzer{
		Extractor: NewExtractor(config),
		Clock:     time.Now,
		history:   history,
	}
}

func (a *Analyzer) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock()
}

// Analyze extracts features from the trip, classifies them and records them
// in the user's history.
func (a *Analyzer) Analyze(userID conceptual.UserID, points []trip.GpsPoint, motion []MotionSample) (*Result, error) {
	f, err := a.Extractor.Extract(points, motion)
	if err != nil {
		return nil, err
	}
	m, confidence, scores := Classify(f)

	a.mu.Lock()
	h, ok := a.history.Get(userID)
	if !ok {
		h = common.NewRingBuffer[*Features](params.PatternHistoryLen)
		a.history.Add(userID, h)
	}
	h.Add(f)
	a.mu.Unlock()

	slog.Debug("Analyzed trip", "user", userID, "mode", m, "confidence", confidence, "points", f.PointCount)
	return &Result{
		Mode:       m,
		Confidence: confidence,
		Quality:    Quality(f),
		Features:   f,
		Scores:     scores,
		AnalyzedAt: a.now(),
	}, nil
}

// ClassifyRoute analyzes a finished route and returns only its mode.
func (a *Analyzer) ClassifyRoute(userID conceptual.UserID, points []trip.GpsPoint) (transport.TransportMode, error) {
	res, err := a.Analyze(userID, points, nil)
	if err != nil {
		return transport.Unknown, err
	}
	return res.Mode, nil
}

// Patterns returns the user's travel patterns over the remembered trips.
func (a *Analyzer) Patterns(userID conceptual.UserID) (*Patterns, error) {
	a.mu.Lock()
	h, ok := a.history.Get(userID)
	a.mu.Unlock()
	if !ok || h.Len() == 0 {
		return nil, fmt.Errorf("%w: no trips analyzed for %s", ErrInsufficientData, userID)
	}

	list := h.Get()
	speeds := make(stats.Float64Data, 0, len(list))
	durations := make(stats.Float64Data, 0, len(list))
	hours := map[int]bool{}
	for _, f := range list {
		speeds = append(speeds, f.AvgSpeedKmh)
		durations = append(durations, f.DurationMinutes)
		hours[f.HourOfDay] = true
	}
	p := &Patterns{
		UserID:            userID,
		TripCount:         len(list),
		CommonTravelHours: make([]int, 0, len(hours)),
		LastUpdated:       a.now(),
	}
	p.AverageSpeedKmh, _ = stats.Mean(speeds)
	p.AverageDurationMinutes, _ = stats.Mean(durations)
	for h := range hours {
		p.CommonTravelHours = append(p.CommonTravelHours, h)
	}
	sort.Ints(p.CommonTravelHours)
	return p, nil
}

// Forget drops the user's history.
func (a *Analyzer) Forget(userID conceptual.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Remove(userID)
}
