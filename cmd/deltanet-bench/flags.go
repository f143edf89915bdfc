package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

type benchConfig struct {
	Profile       string
	Clients       int
	Duration      time.Duration
	RPS           float64
	Tick          time.Duration
	PayloadBytes  int
	Output        string
	UpdateTimeout time.Duration
}

var profiles = map[string]benchConfig{
	"fast": {
		Clients:      50,
		Duration:     10 * time.Second,
		RPS:          2,
		Tick:         50 * time.Millisecond,
		PayloadBytes: 24,
	},
	"standard": {
		Clients:      200,
		Duration:     30 * time.Second,
		RPS:          5,
		Tick:         50 * time.Millisecond,
		PayloadBytes: 24,
	},
	"stress": {
		Clients:      1000,
		Duration:     60 * time.Second,
		RPS:          10,
		Tick:         20 * time.Millisecond,
		PayloadBytes: 64,
	},
}

func parseConfig() (benchConfig, error) {
	fs := flag.NewFlagSet("deltanet-bench", flag.ExitOnError)
	return parseFlags(fs, os.Args[1:])
}

// parseFlags starts from the named profile and applies explicit overrides.
func parseFlags(fs *flag.FlagSet, args []string) (benchConfig, error) {
	profile := fs.String("profile", "standard", "profile: fast|standard|stress")
	clients := fs.Int("clients", 0, "number of concurrent participants")
	duration := fs.Duration("duration", 0, "benchmark duration")
	rps := fs.Float64("rps", 0, "updates per second per client")
	tick := fs.Duration("tick", 0, "server tick interval")
	payload := fs.Int("payload-bytes", 0, "bytes of state token per update")
	output := fs.String("json", "-", "report path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profile))
	cfg, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}
	cfg.Profile = name
	cfg.Output = *output

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["clients"] {
		cfg.Clients = *clients
	}
	if set["duration"] {
		cfg.Duration = *duration
	}
	if set["rps"] {
		cfg.RPS = *rps
	}
	if set["tick"] {
		cfg.Tick = *tick
	}
	if set["payload-bytes"] {
		cfg.PayloadBytes = *payload
	}

	switch {
	case cfg.Clients <= 0:
		return benchConfig{}, errors.New("-clients must be > 0")
	case cfg.Duration <= 0:
		return benchConfig{}, errors.New("-duration must be > 0")
	case cfg.RPS <= 0:
		return benchConfig{}, errors.New("-rps must be > 0")
	case cfg.Tick <= 0:
		return benchConfig{}, errors.New("-tick must be > 0")
	case cfg.PayloadBytes <= 0:
		return benchConfig{}, errors.New("-payload-bytes must be > 0")
	}

	cfg.UpdateTimeout = updateTimeout(cfg.RPS, cfg.Tick)
	return cfg, nil
}

// updateTimeout allows ten update periods or ten ticks, whichever is
// longer, and never less than two seconds.
func updateTimeout(rps float64, tick time.Duration) time.Duration {
	period := time.Duration(float64(time.Second) / rps)
	return max(period*10, tick*10, 2*time.Second)
}
