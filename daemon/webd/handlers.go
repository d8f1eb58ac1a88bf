package webd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotblauer/tripd/api"
	"github.com/rotblauer/tripd/conceptual"
	"github.com/rotblauer/tripd/geo/mode"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/rotblauer/tripd/types/trip"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *WebDaemon) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *WebDaemon) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *WebDaemon) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("please send a request body"))
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error("Failed to read request body", "error", err)
		s.writeError(w, http.StatusRequestEntityTooLarge, err)
		return nil, false
	}
	return body, true
}

func getRequestUserID(r *http.Request) conceptual.UserID {
	if user, ok := mux.Vars(r)["user"]; ok {
		return conceptual.UserID(user)
	}
	return conceptual.UserID(r.URL.Query().Get("user"))
}

func (s *WebDaemon) handleGetUserForRequest(w http.ResponseWriter, r *http.Request) (conceptual.UserID, bool) {
	user := getRequestUserID(r)
	if user.Empty() {
		s.logger.Warn("Missing user", "url", r.URL)
		s.writeError(w, http.StatusBadRequest, errors.New("missing user"))
		return "", false
	}
	return user, true
}

type webDaemonStatus struct {
	StartedAt time.Time               `json:"started_at"`
	Uptime    string                  `json:"uptime"`
	Config    *params.WebDaemonConfig `json:"config"`
	WSOpen    bool                    `json:"ws_open"`
	WSConns   int                     `json:"ws_conns"`
	Users     int                     `json:"users"`
}

func (s *WebDaemon) statusReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, webDaemonStatus{
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Config:    s.Config,
		WSOpen:    !s.melodyInstance.IsClosed(),
		WSConns:   s.melodyInstance.Len(),
		Users:     s.System.Users(),
	})
}

type samplesResponse struct {
	Accepted int                `json:"accepted"`
	Rejected int                `json:"rejected"`
	Results  []api.IngestResult `json:"results"`
}

// handleSamples ingests a single sample object or an array of samples.
// The path user overrides any user id in the samples.
func (s *WebDaemon) handleSamples(w http.ResponseWriter, r *http.Request) {
	user, ok := s.handleGetUserForRequest(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	samples, err := sample.DecodeMany(body, time.Now().UTC())
	if err != nil {
		s.logger.Warn("Failed to decode samples", "user", user, "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	res := samplesResponse{Results: make([]api.IngestResult, 0, len(samples))}
	for _, smp := range samples {
		smp.UserID = user
		ir := s.System.ProcessSensorInput(r.Context(), smp)
		if ir.OK {
			res.Accepted++
		} else {
			res.Rejected++
		}
		res.Results = append(res.Results, ir)
	}
	status := http.StatusOK
	if res.Accepted == 0 && res.Rejected > 0 {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, res)
}

func (s *WebDaemon) handleTripControl(w http.ResponseWriter, r *http.Request) {
	user, ok := s.handleGetUserForRequest(w, r)
	if !ok {
		return
	}
	action, err := api.ParseAction(mux.Vars(r)["action"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res := s.System.ManualControl(r.Context(), user, action)
	switch {
	case res.OK:
		s.writeJSON(w, http.StatusOK, res)
	case errors.Is(res.Err, trip.ErrNoActiveTrip):
		s.writeJSON(w, http.StatusConflict, res)
	default:
		s.writeJSON(w, http.StatusInternalServerError, res)
	}
}

func (s *WebDaemon) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := s.handleGetUserForRequest(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.System.UserStatus(user))
}

func (s *WebDaemon) handleActiveTrips(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.System.Overview())
}

// handleUpdateConfig serves both the global and the per-user config routes.
func (s *WebDaemon) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var userID *conceptual.UserID
	if user := getRequestUserID(r); !user.Empty() {
		userID = &user
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var update params.ConfigUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.System.UpdateConfig(userID, update)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, params.ErrConfigOutOfRange), errors.Is(err, api.ErrEmptyUpdate):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

type analyzeRequest struct {
	Points []trip.GpsPoint     `json:"points"`
	Motion []mode.MotionSample `json:"motion,omitempty"`
}

func (s *WebDaemon) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	user, ok := s.handleGetUserForRequest(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.System.AnalyzeTrip(user, req.Points, req.Motion)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, mode.ErrInsufficientData):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *WebDaemon) handleCleanupUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.handleGetUserForRequest(w, r)
	if !ok {
		return
	}
	if err := s.System.CleanupUser(r.Context(), user); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
