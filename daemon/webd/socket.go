package webd

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/olahol/melody"
	"github.com/rotblauer/tripd/events"
)

type websocketAction string

var websocketActionTrip websocketAction = "trip"

type broadcast struct {
	Action websocketAction  `json:"action"`
	Event  events.TripEvent `json:"event"`
}

// initMelody sets up the websocket handler and relays trip events
// to every connected client until ctx is done.
func (s *WebDaemon) initMelody(ctx context.Context) {
	s.melodyInstance = melody.New()

	s.melodyInstance.HandleConnect(func(m *melody.Session) {
		s.logger.Info("Websocket connected", "remote", m.Request.RemoteAddr)
	})

	// Clients have nothing to tell us. Log and drop.
	s.melodyInstance.HandleMessage(func(m *melody.Session, msg []byte) {
		s.logger.Debug("Websocket message", "remote", m.Request.RemoteAddr, "message", string(msg))
	})

	s.melodyInstance.HandleDisconnect(func(m *melody.Session) {
		s.logger.Info("Websocket disconnected", "remote", m.Request.RemoteAddr)
	})

	s.melodyInstance.HandleError(func(m *melody.Session, e error) {
		s.logger.Warn("Websocket error", "remote", m.Request.RemoteAddr, "error", e)
	})

	// The feed blocks senders until every subscriber has read,
	// so this loop must always be draining.
	trips := make(chan events.TripEvent, 64)
	sub := s.System.Feed.Subscribe(trips)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-trips:
				b, err := json.Marshal(broadcast{Action: websocketActionTrip, Event: ev})
				if err != nil {
					slog.Error("Failed to marshal trip event", "error", err)
					continue
				}
				if err := s.melodyInstance.Broadcast(b); err != nil {
					slog.Warn("Failed to broadcast trip event", "error", err)
				}
			case err := <-sub.Err():
				if err != nil {
					slog.Error("Trip feed subscription failed", "error", err)
				}
				return
			}
		}
	}()
}
