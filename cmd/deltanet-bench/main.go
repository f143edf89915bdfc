// Command deltanet-bench drives an in-process deltanet server with
// concurrent WebSocket participants and reports how long an update takes to
// come back in a tick, how many ticks that spans and what it costs on the
// wire.
//
// Each client joins as a participant and repeatedly writes a unique token
// into a state together with a new component value. An update completes
// when a tick carrying the token reaches the same client.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/deltanet/pkg/deltanet"
	"github.com/vango-dev/deltanet/pkg/server"
)

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := run(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	writeSummary(os.Stderr, r)
	if err := writeReport(cfg.Output, r); err != nil {
		log.Fatalf("write report: %v", err)
	}
}

// run starts a server on a loopback port, runs every client until
// cfg.Duration elapses and returns the collected report.
func run(ctx context.Context, cfg benchConfig) (*report, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := prometheus.NewRegistry()
	coreCfg := deltanet.DefaultConfig().WithLogger(quiet)
	coreCfg.Registerer = reg
	core := deltanet.New(coreCfg)

	transport := server.DefaultConfig()
	transport.TickInterval = cfg.Tick
	transport.SendQueueSize = 1024
	srv := server.New(core, transport)
	srv.SetLogger(quiet)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	httpServer := &http.Server{Handler: srv.Handler()}
	go func() {
		_ = httpServer.Serve(ln)
	}()

	loopCtx, stopLoops := context.WithCancel(ctx)
	srv.Start(loopCtx)
	defer func() {
		stopLoops()
		core.Dispose()
		_ = httpServer.Shutdown(context.Background())
	}()

	url := "ws://" + ln.Addr().String() + transport.Path
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rec := newRecorder()
	start := time.Now()
	var wg sync.WaitGroup
	for i := range cfg.Clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(runCtx, url, i, cfg, rec)
		}()
	}
	wg.Wait()

	return buildReport(cfg, time.Since(start), rec, srv.Stats(), reg), nil
}
