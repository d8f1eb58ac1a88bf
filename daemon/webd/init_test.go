package webd

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/rotblauer/tripd/api"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/state"
)

func init() {
	common.SlogResetLevel(slog.LevelWarn + 1)
}

// newTestWebDaemon returns a daemon backed by an in-memory store, and its router.
// The router's websocket broadcaster stops when the test ends.
func newTestWebDaemon(t *testing.T) (*WebDaemon, *state.MemStore, http.Handler) {
	t.Helper()
	store := state.NewMemStore()
	sys := api.NewSystem(api.Options{Persister: store})
	d := NewWebDaemon(params.DefaultTestWebDaemonConfig(), sys)

	ctx, cancel := context.WithCancel(context.Background())
	router := d.NewRouter(ctx)
	t.Cleanup(func() {
		cancel()
		_ = d.melodyInstance.Close()
		sys.Close()
	})
	return d, store, router
}
