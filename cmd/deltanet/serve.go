package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/deltanet/internal/auth"
	"github.com/vango-dev/deltanet/internal/config"
	"github.com/vango-dev/deltanet/internal/errors"
	"github.com/vango-dev/deltanet/internal/snapshot"
	"github.com/vango-dev/deltanet/pkg/deltanet"
	"github.com/vango-dev/deltanet/pkg/middleware"
	"github.com/vango-dev/deltanet/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		path    string
		address string
		tick    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization server",
		Long: `Run the delta-net server until interrupted.

Configuration is read from --config; flags override it.

Examples:
  deltanet serve
  deltanet serve --config deltanet.toml
  deltanet serve --address :8080 --tick 20ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			if tick > 0 {
				cfg.Server.TickInterval = config.Duration{Duration: tick}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to "+config.ConfigFileName)
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default server.address)")
	cmd.Flags().DurationVar(&tick, "tick", 0, "Tick interval (default server.tick_interval)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.String(), "version", version)

	coreCfg := cfg.CoreConfig().WithLogger(logger.With("component", "deltanet"))
	transportCfg := cfg.TransportConfig()

	if cfg.Server.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		coreCfg.Registerer = reg
		transportCfg.Gatherer = reg
		transportCfg.Middleware = append(transportCfg.Middleware,
			middleware.Prometheus(middleware.WithRegistry(reg)))
	}
	transportCfg.Middleware = append(transportCfg.Middleware,
		middleware.OpenTelemetry(middleware.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		})))

	if secret := cfg.Secret(); secret != nil {
		opts := []auth.Option{auth.WithLogger(logger.With("component", "auth"))}
		if cfg.Auth.Issuer != "" {
			opts = append(opts, auth.WithIssuer(cfg.Auth.Issuer))
		}
		if cfg.Auth.AllowAnonymousObservers {
			opts = append(opts, auth.WithAnonymousObservers())
		}
		if cfg.Auth.SubjectStateID != nil {
			opts = append(opts, auth.WithSubjectState(*cfg.Auth.SubjectStateID))
		}
		coreCfg.OnJoiner = auth.NewValidator(secret, opts...).OnJoiner
	} else {
		logger.Warn("no JWT secret configured, every joiner is accepted")
	}

	core := deltanet.New(coreCfg)
	srv := server.New(core, transportCfg)
	srv.SetLogger(logger.With("component", "server"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Snapshot.Bucket != "" {
		client := snapshot.NewS3Client(snapshot.ClientOptions{
			Region:       cfg.Snapshot.Region,
			Endpoint:     cfg.Snapshot.Endpoint,
			UsePathStyle: cfg.Snapshot.UsePathStyle,
		})
		store, err := snapshot.NewS3Store(client, cfg.Snapshot.Bucket, cfg.Snapshot.Prefix)
		if err != nil {
			return errors.New("E141").Wrap(err)
		}
		exporter := snapshot.NewExporter(core, store, cfg.Snapshot.Interval.Duration,
			snapshot.WithLogger(logger.With("component", "snapshot", "bucket", cfg.Snapshot.Bucket)),
		)
		go exporter.Run(ctx)
	}

	if err := srv.Run(ctx); err != nil {
		return errors.New("E140").Wrap(err)
	}
	return nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, errors.New("E103").WithDetailf("log.level: %v", err)
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
