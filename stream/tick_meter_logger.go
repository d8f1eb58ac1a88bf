package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/tripd/common"
)

// TickMeter logs the rate of a stream of samples at an interval.
type TickMeter struct {
	label    string
	interval time.Duration
	started  time.Time
	ticker   *time.Ticker
	done     chan struct{}

	mu    sync.Mutex
	last  time.Time // sample time of the last mark
	users map[string]struct{}

	reg        metrics.Registry
	countMeter metrics.Meter
	sizeMeter  metrics.Meter
}

// NewTickMeter starts logging under label every interval until Stop.
func NewTickMeter(label string, interval time.Duration) *TickMeter {
	// Enable metrics package.
	// Won't work without this global setting.
	metrics.Enabled = true

	reg := metrics.NewRegistry()
	tm := &TickMeter{
		label:      label,
		interval:   interval,
		started:    time.Now(),
		done:       make(chan struct{}),
		users:      map[string]struct{}{},
		reg:        reg,
		countMeter: metrics.NewMeter(),
		sizeMeter:  metrics.NewMeter(),
	}
	if err := reg.Register("line.meter", tm.countMeter); err != nil {
		panic(err)
	}
	if err := reg.Register("size.meter", tm.sizeMeter); err != nil {
		panic(err)
	}
	tm.ticker = time.NewTicker(interval)
	go tm.run()
	return tm
}

// Mark records one element of size bytes for user, taken at sampleTime.
func (tm *TickMeter) Mark(user string, sampleTime time.Time, size int) {
	tm.mu.Lock()
	tm.last = sampleTime
	tm.users[user] = struct{}{}
	tm.mu.Unlock()
	tm.countMeter.Mark(1)
	tm.sizeMeter.Mark(int64(size))
}

// Count returns the number of marks.
func (tm *TickMeter) Count() int64 {
	return tm.countMeter.Snapshot().Count()
}

func (tm *TickMeter) run() {
	for {
		select {
		case <-tm.done:
			return
		case <-tm.ticker.C:
			tm.log()
		}
	}
}

func (tm *TickMeter) log() {
	countSnap := tm.countMeter.Snapshot()
	sizeSnap := tm.sizeMeter.Snapshot()

	tm.mu.Lock()
	users := make([]string, 0, len(tm.users))
	for u := range tm.users {
		users = append(users, u)
	}
	last := tm.last
	tm.mu.Unlock()
	sort.Strings(users)

	slog.Info(tm.label, "n", humanize.Comma(countSnap.Count()),
		"users", len(users),
		"read.last", last.Format(time.DateTime),
		"tps", common.DecimalToFixed(countSnap.Rate1(), 0),
		"bps", humanize.Bytes(uint64(sizeSnap.Rate1())),
		"total.bytes", humanize.Bytes(uint64(sizeSnap.Count())),
		"running", time.Since(tm.started).Round(time.Second))
}

// Stop logs a final line and stops the meter.
func (tm *TickMeter) Stop() {
	if tm == nil || tm.ticker == nil {
		return
	}
	tm.ticker.Stop()
	close(tm.done)
	tm.log()
	tm.countMeter.Stop()
	tm.sizeMeter.Stop()
}
