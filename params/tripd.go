package params

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/mitchellh/go-homedir"
)

func init() {
	metrics.Enabled = true
}

var DatadirRoot = func() string {
	home, err := homedir.Dir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".tripd")
}()

var DefaultDatadirRoot = DatadirRoot

const (
	BoltDBFileName   = "tripd.db"
	ConfigFileName   = "config"
	ArchiveKeyPrefix = "routes"
)

var (
	// CacheLastKnownTTL is how long the last normalized sample for a user is kept.
	CacheLastKnownTTL = 24 * time.Hour

	// DedupeCacheSize bounds the number of recent sample hashes remembered.
	DedupeCacheSize = 10_000

	// PatternHistoryUsers bounds the number of users with feature history.
	PatternHistoryUsers = 1_000

	// PatternHistoryLen is the number of recent trips kept per user.
	PatternHistoryLen = 10
)
