package params

import "path/filepath"

type WebDaemonConfig struct {
	ListenerConfig
	DataDir string

	// TokenEnv names the environment variable holding the write token.
	// If the variable is empty, write routes are not authenticated.
	TokenEnv string

	// Archive, if non-nil, uploads completed routes to S3.
	Archive *S3ArchiveConfig

	// Influx, if non-nil, exports completed trips to InfluxDB.
	Influx *InfluxConfig

	// GoogleMapsAPIKey enables road snapping when set.
	GoogleMapsAPIKey string `json:"-"`

	// ReverseGeocode enables origin/destination labels on trip summaries.
	ReverseGeocode bool
}

type S3ArchiveConfig struct {
	Region string
	Bucket string
}

type InfluxConfig struct {
	ServerURL string
	Token     string `json:"-"`
	Org       string
	Bucket    string
}

func DefaultWebListenerConfig() ListenerConfig {
	return ListenerConfig{
		Network: "tcp",
		Address: "localhost:3000",
	}
}

func DefaultWebDaemonConfig() *WebDaemonConfig {
	return &WebDaemonConfig{
		DataDir:        DefaultDatadirRoot,
		ListenerConfig: DefaultWebListenerConfig(),
		TokenEnv:       "TRIPD_TOKEN",
	}
}

func DefaultTestWebDaemonConfig() *WebDaemonConfig {
	return &WebDaemonConfig{
		DataDir: "",
		ListenerConfig: ListenerConfig{
			Network: "tcp",
			Address: "localhost:3333",
		},
		TokenEnv: "TRIPD_TEST_TOKEN",
	}
}

func (c *WebDaemonConfig) BoltPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, BoltDBFileName)
}
