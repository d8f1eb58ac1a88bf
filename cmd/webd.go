/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/rotblauer/tripd/api"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/daemon/webd"
	"github.com/rotblauer/tripd/events"
	"github.com/rotblauer/tripd/metrics"
	"github.com/rotblauer/tripd/metrics/influxdb"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/rgeo"
	"github.com/rotblauer/tripd/roads"
	"github.com/rotblauer/tripd/state"
	"github.com/rotblauer/tripd/stream"
	"github.com/rotblauer/tripd/types/trip"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var optInfluxBatchSize int

// webdCmd represents the serve command
var webdCmd = &cobra.Command{
	Use:   "webd",
	Short: "Start the webserver",
	Long: `Serves the trip pipeline over HTTP.

Samples are posted to /users/{user}/samples. Trip boundaries are broadcast
to websocket clients on /socket. Write routes require the token held in the
environment variable named by --token-env, if that variable is set.

Optional integrations are enabled by config keys (or TRIPD_* env vars):

  google-maps-api-key   Snap completed routes to roads.
  reverse-geocode       Label trip origins and destinations.
  s3.region, s3.bucket  Archive completed routes as gzipped GeoJSON.
  influx.url, influx.token, influx.org, influx.bucket
                        Export completed trips to InfluxDB.
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		ctx, cancel := common.InterruptContext(context.Background())
		defer cancel()

		config := webDaemonConfigFromViper()
		tripConfig, recorderConfig, err := configsFromViper()
		if err != nil {
			log.Fatalln(err)
		}

		store, err := state.OpenBoltStore(config.BoltPath(), false)
		if err != nil {
			log.Fatalln(err)
		}
		defer store.Close()

		opts := api.Options{
			Trip:          tripConfig,
			Recorder:      recorderConfig,
			Persister:     store,
			ClassifyTrips: true,
		}
		if config.GoogleMapsAPIKey != "" {
			snapper, err := roads.NewGoogleSnapper(config.GoogleMapsAPIKey)
			if err != nil {
				log.Fatalln(err)
			}
			opts.Snapper = snapper
		}
		if config.ReverseGeocode {
			opts.Geocoder = rgeo.New()
		}
		if config.Archive != nil {
			opts.Archiver = state.NewS3Archiver(config.Archive)
		}

		system := api.NewSystem(opts)
		defer system.Close()

		if config.Influx != nil {
			go exportTrips(ctx, system.Feed, config.Influx, optInfluxBatchSize)
		}
		go metrics.LogEvery(ctx, time.Minute)

		slog.Info("webd.Run", "db", config.BoltPath())
		server := webd.NewWebDaemon(config, system)
		if err := server.Run(ctx); err != nil {
			log.Fatalln(err)
		}
	},
}

func webDaemonConfigFromViper() *params.WebDaemonConfig {
	config := params.DefaultWebDaemonConfig()
	config.Address = viper.GetString("address")
	config.DataDir = viper.GetString("datadir")
	config.TokenEnv = viper.GetString("token-env")
	config.GoogleMapsAPIKey = viper.GetString("google-maps-api-key")
	config.ReverseGeocode = viper.GetBool("reverse-geocode")
	if bucket := viper.GetString("s3.bucket"); bucket != "" {
		config.Archive = &params.S3ArchiveConfig{
			Region: viper.GetString("s3.region"),
			Bucket: bucket,
		}
	}
	if url := viper.GetString("influx.url"); url != "" {
		config.Influx = &params.InfluxConfig{
			ServerURL: url,
			Token:     viper.GetString("influx.token"),
			Org:       viper.GetString("influx.org"),
			Bucket:    viper.GetString("influx.bucket"),
		}
	}
	return config
}

// exportTrips writes finalized trips to InfluxDB in batches of size
// until ctx is done. A partial batch is held until it fills.
func exportTrips(ctx context.Context, feed *events.TripFeed, config *params.InfluxConfig, size int) {
	ch := make(chan events.TripEvent, 64)
	sub := feed.Subscribe(ch)
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	finished := stream.Filter(ctx, func(ev events.TripEvent) bool {
		return ev.Summary != nil
	}, ch)
	summaries := stream.Transform(ctx, func(ev events.TripEvent) *trip.Summary {
		return ev.Summary
	}, finished)
	for batch := range stream.Batch(ctx, size, summaries) {
		if err := influxdb.ExportTrips(config, batch); err != nil {
			slog.Error("Failed to export trips", "count", len(batch), "error", err)
			continue
		}
		slog.Debug("Exported trips", "count", len(batch))
	}
}

func init() {
	rootCmd.AddCommand(webdCmd)

	defaults := params.DefaultWebDaemonConfig()

	pFlags := webdCmd.PersistentFlags()
	pFlags.String("address", defaults.Address, "HTTP address to listen on")
	pFlags.String("datadir", defaults.DataDir, "Directory for the trip database")
	pFlags.String("token-env", defaults.TokenEnv, "Environment variable holding the write token")
	pFlags.Bool("reverse-geocode", false, "Label trip endpoints with place names")
	pFlags.IntVar(&optInfluxBatchSize, "influx-batch-size", 1, "Completed trips per InfluxDB write")

	for _, name := range []string{"address", "datadir", "token-env", "reverse-geocode"} {
		_ = viper.BindPFlag(name, pFlags.Lookup(name))
	}
}
