package api

import (
	"fmt"

	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/geo/mode"
	"github.com/rotblauer/tripd/types/trip"
)

// AnalyzeTrip extracts features from a completed trip's points and
// classifies its transport mode. Fewer than the minimum points fails
// with mode.ErrInsufficientData.
func (s *System) AnalyzeTrip(userID conceptual.UserID, points []trip.GpsPoint, motion []mode.MotionSample) (res *mode.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, s.recovered("analyze_trip", r)
		}
	}()
	if userID.Empty() {
		return nil, fmt.Errorf("analyze trip: empty user id")
	}
	return s.Analyzer.Analyze(userID, points, motion)
}
