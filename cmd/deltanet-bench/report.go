package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/deltanet/pkg/server"
)

// recorder collects client observations. One mutex is enough at the rates
// the profiles drive.
type recorder struct {
	mu            sync.Mutex
	rtts          []time.Duration
	ticksWaited   map[int]int
	updatesSent   int
	updateBytes   int
	tickFrames    int
	tickBytes     int
	checkouts     int
	checkoutBytes int
	pings         int
	failures      map[string]int
}

func newRecorder() *recorder {
	return &recorder{ticksWaited: map[int]int{}, failures: map[string]int{}}
}

func (r *recorder) sent(n int) {
	r.mu.Lock()
	r.updatesSent++
	r.updateBytes += n
	r.mu.Unlock()
}

func (r *recorder) completed(rtt time.Duration, ticks int) {
	r.mu.Lock()
	r.rtts = append(r.rtts, rtt)
	r.ticksWaited[ticks]++
	r.mu.Unlock()
}

func (r *recorder) tick(n int) {
	r.mu.Lock()
	r.tickFrames++
	r.tickBytes += n
	r.mu.Unlock()
}

func (r *recorder) checkout(n int) {
	r.mu.Lock()
	r.checkouts++
	r.checkoutBytes += n
	r.mu.Unlock()
}

func (r *recorder) ping() {
	r.mu.Lock()
	r.pings++
	r.mu.Unlock()
}

// fail counts a client failure unless the run is already over.
func (r *recorder) fail(ctx context.Context, kind string) {
	if ctx.Err() != nil {
		return
	}
	r.mu.Lock()
	r.failures[kind]++
	r.mu.Unlock()
}

type report struct {
	Timestamp string         `json:"timestamp"`
	Go        string         `json:"go"`
	Workload  workload       `json:"workload"`
	Updates   updateStats    `json:"updates"`
	Wire      wireStats      `json:"wire"`
	Ticks     tickStats      `json:"ticks"`
	Transport *server.Stats  `json:"transport"`
	Failures  map[string]int `json:"failures"`
}

type workload struct {
	Profile         string  `json:"profile"`
	Clients         int     `json:"clients"`
	DurationMS      int64   `json:"duration_ms"`
	RPSPerClient    float64 `json:"rps_per_client"`
	TickMS          float64 `json:"tick_ms"`
	PayloadBytes    int     `json:"payload_bytes"`
	UpdateTimeoutMS int64   `json:"update_timeout_ms"`
}

// updateStats covers the round trip from an update write to the first tick
// carrying it. TicksWaited counts completed updates by how many ticks the
// client read until that one, inclusive.
type updateStats struct {
	Sent        int          `json:"sent"`
	Completed   int          `json:"completed"`
	PerSec      float64      `json:"per_sec"`
	RTT         distribution `json:"rtt_ms"`
	TicksWaited map[int]int  `json:"ticks_waited"`
}

type wireStats struct {
	AvgUpdateBytes   float64 `json:"avg_update_bytes"`
	TickFrames       int     `json:"tick_frames"`
	AvgTickBytes     float64 `json:"avg_tick_bytes"`
	AvgCheckoutBytes float64 `json:"avg_checkout_bytes"`
	Pings            int     `json:"pings"`
}

// tickStats is read from the core's own collectors.
type tickStats struct {
	Count         uint64  `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	AvgBytes      float64 `json:"avg_bytes"`
}

type distribution struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// summarize sorts samples in place and returns their distribution in
// milliseconds.
func summarize(samples []time.Duration) distribution {
	if len(samples) == 0 {
		return distribution{}
	}
	slices.Sort(samples)
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	at := func(q float64) float64 {
		return millis(samples[int(q*float64(len(samples)-1))])
	}
	return distribution{
		Count: len(samples),
		Min:   millis(samples[0]),
		Mean:  millis(total / time.Duration(len(samples))),
		P50:   at(0.50),
		P90:   at(0.90),
		P99:   at(0.99),
		Max:   millis(samples[len(samples)-1]),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ratio(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// readTickStats extracts tick count, mean duration and mean broadcast size
// from the core's histograms.
func readTickStats(g prometheus.Gatherer) (tickStats, error) {
	families, err := g.Gather()
	if err != nil {
		return tickStats{}, err
	}
	var ts tickStats
	for _, mf := range families {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h == nil || h.GetSampleCount() == 0 {
			continue
		}
		mean := h.GetSampleSum() / float64(h.GetSampleCount())
		switch mf.GetName() {
		case "deltanet_tick_duration_seconds":
			ts.Count = h.GetSampleCount()
			ts.AvgDurationMS = mean * 1000
		case "deltanet_tick_message_bytes":
			ts.AvgBytes = mean
		}
	}
	return ts, nil
}

func buildReport(cfg benchConfig, elapsed time.Duration, rec *recorder, stats *server.Stats, g prometheus.Gatherer) *report {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ticks, err := readTickStats(g)
	if err != nil {
		rec.failures["gather"]++
	}

	return &report{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Go:        runtime.Version(),
		Workload: workload{
			Profile:         cfg.Profile,
			Clients:         cfg.Clients,
			DurationMS:      cfg.Duration.Milliseconds(),
			RPSPerClient:    cfg.RPS,
			TickMS:          millis(cfg.Tick),
			PayloadBytes:    cfg.PayloadBytes,
			UpdateTimeoutMS: cfg.UpdateTimeout.Milliseconds(),
		},
		Updates: updateStats{
			Sent:        rec.updatesSent,
			Completed:   len(rec.rtts),
			PerSec:      float64(len(rec.rtts)) / max(elapsed.Seconds(), 0.001),
			RTT:         summarize(rec.rtts),
			TicksWaited: rec.ticksWaited,
		},
		Wire: wireStats{
			AvgUpdateBytes:   ratio(rec.updateBytes, rec.updatesSent),
			TickFrames:       rec.tickFrames,
			AvgTickBytes:     ratio(rec.tickBytes, rec.tickFrames),
			AvgCheckoutBytes: ratio(rec.checkoutBytes, rec.checkouts),
			Pings:            rec.pings,
		},
		Ticks:     ticks,
		Transport: stats,
		Failures:  rec.failures,
	}
}

func writeSummary(w io.Writer, r *report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "profile\t%s (%d clients, %.1f upd/s each, tick %.0fms)\n",
		r.Workload.Profile, r.Workload.Clients, r.Workload.RPSPerClient, r.Workload.TickMS)
	fmt.Fprintf(tw, "updates\t%d/%d completed, %.1f/s\n", r.Updates.Completed, r.Updates.Sent, r.Updates.PerSec)
	fmt.Fprintf(tw, "rtt ms\tp50 %.2f  p90 %.2f  p99 %.2f  max %.2f\n",
		r.Updates.RTT.P50, r.Updates.RTT.P90, r.Updates.RTT.P99, r.Updates.RTT.Max)
	fmt.Fprintf(tw, "server ticks\t%d, %.3fms avg, %.0f bytes avg\n", r.Ticks.Count, r.Ticks.AvgDurationMS, r.Ticks.AvgBytes)
	fmt.Fprintf(tw, "wire bytes\tupdate %.1f  tick %.1f  checkout %.1f\n",
		r.Wire.AvgUpdateBytes, r.Wire.AvgTickBytes, r.Wire.AvgCheckoutBytes)
	if r.Transport != nil {
		fmt.Fprintf(tw, "transport\t%d slow consumers, %d rate limited\n", r.Transport.SlowConsumers, r.Transport.RateLimited)
	}
	for kind, n := range r.Failures {
		fmt.Fprintf(tw, "failure\t%s: %d\n", kind, n)
	}
	tw.Flush()
}

func writeReport(path string, r *report) error {
	out := io.Writer(os.Stdout)
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
