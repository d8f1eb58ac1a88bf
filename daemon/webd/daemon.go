package webd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/olahol/melody"
	"github.com/rotblauer/tripd/api"
	"github.com/rotblauer/tripd/params"
)

type WebDaemon struct {
	Config *params.WebDaemonConfig
	System *api.System

	started        time.Time
	logger         *slog.Logger
	melodyInstance *melody.Melody
}

func NewWebDaemon(config *params.WebDaemonConfig, system *api.System) *WebDaemon {
	if config == nil {
		config = params.DefaultWebDaemonConfig()
	}
	if system == nil {
		system = api.NewSystem(api.Options{})
	}
	return &WebDaemon{
		Config:  config,
		System:  system,
		started: time.Now(),
		logger:  slog.With("d", "web"),
	}
}

// Run serves HTTP until ctx is done, then shuts the server down.
func (s *WebDaemon) Run(ctx context.Context) error {
	listener, err := net.Listen(s.Config.Network, s.Config.Address)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           s.NewRouter(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web daemon", "network", s.Config.Network, "address", listener.Addr())
		errs <- server.Serve(listener)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web daemon")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.melodyInstance.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewRouter builds the routes and starts broadcasting trip events
// to websocket clients until ctx is done.
func (s *WebDaemon) NewRouter(ctx context.Context) *mux.Router {
	s.initMelody(ctx)

	router := mux.NewRouter().StrictSlash(false)
	router.Use(loggingMiddleware)
	router.Use(ghandlers.CORS(
		ghandlers.AllowedOrigins([]string{"*"}),
		ghandlers.AllowedHeaders([]string{"Origin", "X-Requested-With", "Content-Type", "Accept", "Authorization"}),
		ghandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
	))

	// /ping is a simple server healthcheck endpoint
	router.Path("/ping").HandlerFunc(pingPong)
	router.Path("/socket").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.melodyInstance.HandleRequest(w, r)
	})

	apiJSONRoutes := router.NewRoute().Subrouter()
	apiJSONRoutes.Use(contentTypeMiddlewareFunc("application/json"))

	apiJSONRoutes.Path("/status").HandlerFunc(s.statusReport).Methods(http.MethodGet)
	apiJSONRoutes.Path("/trips/active").HandlerFunc(s.handleActiveTrips).Methods(http.MethodGet)
	apiJSONRoutes.Path("/users/{user}/status").HandlerFunc(s.handleUserStatus).Methods(http.MethodGet)

	authenticated := apiJSONRoutes.NewRoute().Subrouter()
	authenticated.Use(s.tokenAuthenticationMiddleware)

	authenticated.Path("/users/{user}/samples").HandlerFunc(s.handleSamples).Methods(http.MethodPost)
	authenticated.Path("/users/{user}/trip/{action}").HandlerFunc(s.handleTripControl).Methods(http.MethodPost)
	authenticated.Path("/users/{user}/analyze").HandlerFunc(s.handleAnalyze).Methods(http.MethodPost)
	authenticated.Path("/users/{user}/config").HandlerFunc(s.handleUpdateConfig).Methods(http.MethodPatch)
	authenticated.Path("/users/{user}").HandlerFunc(s.handleCleanupUser).Methods(http.MethodDelete)
	authenticated.Path("/config").HandlerFunc(s.handleUpdateConfig).Methods(http.MethodPatch)

	return router
}
