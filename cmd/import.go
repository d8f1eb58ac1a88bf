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
	"encoding/json"
	"hash/fnv"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotblauer/tripd/api"
	"github.com/rotblauer/tripd/common"
	"github.com/rotblauer/tripd/events"
	"github.com/rotblauer/tripd/params"
	"github.com/rotblauer/tripd/state"
	"github.com/rotblauer/tripd/stream"
	"github.com/rotblauer/tripd/types/sample"
	"github.com/spf13/cobra"
)

var optWorkersN int
var optImportDatadir string
var optCloseOpenTrips bool
var optArchiveDir string

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replay sensor samples from stdin",
	Long: `Replay newline-delimited JSON samples from stdin through the trip pipeline.

Samples from many users are supported. Each user's samples are handled by
one worker, in input order, so the input should be chronological per user.
Trip boundaries are stamped with the latest sample time seen, not the wall
clock, so replayed trips keep their original times.

Finalized trip summaries are written to stdout as JSON lines.

Flags:

  --workers     Number of workers to run in parallel. Users are spread over the workers. (Default is 4.)
  --datadir     Persist trips and points to the bolt database in this directory.
                If empty, trips are kept in memory and only printed.
  --close       Stop trips that are still open at the end of input. (Default is true.)
  --archive-dir Write each completed route as gzipped GeoJSON under this directory.

Examples:

  zcat samples.ndjson.gz | tripd import --workers 8 > trips.ndjson
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		ctx, cancel := common.InterruptContext(context.Background())
		defer cancel()

		tripConfig, recorderConfig, err := configsFromViper()
		if err != nil {
			log.Fatalln(err)
		}

		var persister state.Persister = state.NewMemStore()
		if optImportDatadir != "" {
			config := params.DefaultWebDaemonConfig()
			config.DataDir = optImportDatadir
			store, err := state.OpenBoltStore(config.BoltPath(), false)
			if err != nil {
				log.Fatalln(err)
			}
			defer store.Close()
			persister = store
		}

		clock := &replayClock{}
		opts := api.Options{
			Trip:          tripConfig,
			Recorder:      recorderConfig,
			Persister:     persister,
			ClassifyTrips: true,
			Clock:         clock.Now,
		}
		if optArchiveDir != "" {
			opts.Archiver = &state.DirArchiver{Dir: optArchiveDir, Threshold: state.DefaultDouglasPeuckerThreshold}
		}
		system := api.NewSystem(opts)
		defer system.Close()

		printed := printSummaries(system.Feed, os.Stdout)

		n, err := importSamples(ctx, system, clock, os.Stdin, optWorkersN)
		if err != nil {
			slog.Error("Import stopped", "error", err)
		}
		if optCloseOpenTrips {
			closeOpenTrips(ctx, system)
		}
		count := printed()
		slog.Info("Import done", "samples", n, "trips", count)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	pFlags := importCmd.PersistentFlags()
	pFlags.IntVar(&optWorkersN, "workers", 4, "Number of workers to run parallel")
	pFlags.StringVar(&optImportDatadir, "datadir", "", "Directory for the trip database (default in-memory)")
	pFlags.BoolVar(&optCloseOpenTrips, "close", true, "Stop trips still open at end of input")
	pFlags.StringVar(&optArchiveDir, "archive-dir", "", "Directory for gzipped GeoJSON routes")
}

// replayClock reports the latest sample time it has seen.
// Before any sample it reports the wall clock.
type replayClock struct {
	latest atomic.Int64
}

func (c *replayClock) Observe(t time.Time) {
	n := t.UnixNano()
	for {
		cur := c.latest.Load()
		if n <= cur || c.latest.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (c *replayClock) Now() time.Time {
	if n := c.latest.Load(); n != 0 {
		return time.Unix(0, n).UTC()
	}
	return time.Now()
}

// workerFor pins a user to one of n workers.
func workerFor(user string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return int(h.Sum32() % uint32(n))
}

// importSamples decodes samples from r and feeds them to system,
// keeping each user's samples in order. It returns the number of samples read.
func importSamples(ctx context.Context, system *api.System, clock *replayClock, r io.Reader, workers int) (int64, error) {
	if workers < 1 {
		workers = 1
	}
	meter := stream.NewTickMeter("import", 10*time.Second)
	defer meter.Stop()

	errs := make(chan error, 1)
	decodeErrs := make(chan error)
	go func() {
		for err := range decodeErrs {
			slog.Warn("Skipping sample", "error", err)
		}
	}()

	queues := make([]chan *sample.RawSample, workers)
	wg := new(sync.WaitGroup)
	for i := range queues {
		queues[i] = make(chan *sample.RawSample, 256)
		wg.Add(1)
		go func(q <-chan *sample.RawSample) {
			defer wg.Done()
			for raw := range q {
				res := system.ProcessSensorInput(ctx, raw)
				if !res.OK && res.Step == api.StepInternal {
					select {
					case errs <- res.Err:
					default:
					}
				}
			}
		}(queues[i])
	}

	var n int64
	eof := false
	samples := sample.ScanNDJSON(ctx, r, time.Now, decodeErrs)
readLoop:
	for {
		select {
		case <-ctx.Done():
			break readLoop
		case raw, ok := <-samples:
			if !ok {
				eof = true
				break readLoop
			}
			n++
			clock.Observe(raw.Time)
			meter.Mark(raw.UserID.String(), raw.Time, 1)
			queues[workerFor(raw.UserID.String(), workers)] <- raw
		}
	}
	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	if eof {
		close(decodeErrs)
	} else {
		// Let the scanner finish; it still owns decodeErrs.
		go func() {
			for range samples {
			}
		}()
	}

	select {
	case err := <-errs:
		return n, err
	default:
	}
	return n, ctx.Err()
}

// closeOpenTrips stops every trip still active.
func closeOpenTrips(ctx context.Context, system *api.System) {
	for _, at := range system.Overview().ActiveTrips {
		res := system.ManualControl(context.WithoutCancel(ctx), at.UserID, api.ActionStop)
		if !res.OK {
			slog.Warn("Failed to close trip", "user", at.UserID, "trip", at.TripID, "error", res.Error)
		}
	}
}

// printSummaries writes each finalized trip to w as a JSON line.
// The returned func unsubscribes, waits for pending lines and returns the count.
func printSummaries(feed *events.TripFeed, w io.Writer) (done func() int) {
	ch := make(chan events.TripEvent, 64)
	sub := feed.Subscribe(ch)
	count := 0
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		enc := json.NewEncoder(w)
		for ev := range ch {
			if ev.Summary == nil {
				continue
			}
			if err := enc.Encode(ev.Summary); err != nil {
				slog.Error("Failed to write summary", "error", err)
				continue
			}
			count++
		}
	}()
	return func() int {
		sub.Unsubscribe()
		close(ch)
		<-finished
		return count
	}
}
