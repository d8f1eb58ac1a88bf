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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/rotblauer/tripd/params"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tripd",
	Short: "Detect and record trips from streams of phone sensor samples",
	Long: `tripd turns raw location and motion samples into trips.

Samples are smoothed per user, a debounced speed detector opens and closes
trips, and the route of each open trip is recorded, filtered and flushed to
storage in batches. Completed trips are summarized, optionally snapped to
roads, labeled, classified by transport mode, archived and exported.
`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pFlags := rootCmd.PersistentFlags()
	pFlags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tripd/config.yaml)")
	pFlags.String("log-level", "info", "Log level: debug, info, warn, error")

	trips := params.DefaultTripConfig()
	pFlags.Float64("speed-threshold", trips.SpeedThreshold, "Trip speed threshold, km/h")
	pFlags.Duration("duration-threshold", trips.DurationThreshold, "Time above the speed threshold that starts a trip")
	pFlags.Duration("stop-duration-threshold", trips.StopDurationThreshold, "Time below the speed threshold that stops a trip")
	pFlags.Duration("gps-interval", params.DefaultRecorderConfig().GPSInterval, "Route recording heartbeat interval")

	for _, name := range []string{"log-level", "speed-threshold", "duration-threshold", "stop-duration-threshold", "gps-interval"} {
		_ = viper.BindPFlag(name, pFlags.Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		cobra.CheckErr(err)
		viper.AddConfigPath(filepath.Join(home, ".tripd"))
		viper.SetConfigType("yaml")
		viper.SetConfigName(params.ConfigFileName)
	}

	viper.SetEnvPrefix("TRIPD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaultSlog installs a text handler on stderr at the configured level.
func setDefaultSlog(cmd *cobra.Command, args []string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	slog.Debug("Logging", "command", cmd.Name(), "args", args, "level", level)
}

// configsFromViper applies the threshold keys found in config or env
// over the defaults, validating them first.
func configsFromViper() (*params.TripConfig, *params.RecorderConfig, error) {
	tripConfig := params.DefaultTripConfig()
	recorderConfig := params.DefaultRecorderConfig()

	update := params.ConfigUpdate{}
	if viper.IsSet("speed-threshold") {
		v := viper.GetFloat64("speed-threshold")
		update.SpeedThreshold = &v
	}
	for key, field := range map[string]**time.Duration{
		"duration-threshold":      &update.DurationThreshold,
		"stop-duration-threshold": &update.StopDurationThreshold,
		"gps-interval":            &update.GPSInterval,
	} {
		if viper.IsSet(key) {
			d := viper.GetDuration(key)
			*field = &d
		}
	}
	if update.Empty() {
		return &tripConfig, recorderConfig, nil
	}
	if err := update.Validate(); err != nil {
		return nil, nil, err
	}
	tripConfig = update.ApplyTrip(tripConfig)
	if update.GPSInterval != nil {
		recorderConfig.GPSInterval = *update.GPSInterval
	}
	return &tripConfig, recorderConfig, nil
}
