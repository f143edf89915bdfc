package snapshot

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vango-dev/deltanet/pkg/protocol"
)

const (
	// ContentType labels exported objects.
	ContentType = "application/vnd.deltanet.checkout"

	// FileExtension is appended to every snapshot key.
	FileExtension = ".dnsnap"
)

// Source provides the view to export.
type Source interface {
	Snapshot() *protocol.InitialCheckout
}

// Exporter writes snapshots of a Source to a Store on an interval. Each
// snapshot is an encoded initialCheckout message, so any delta-net client
// decoder can read it.
type Exporter struct {
	source    Source
	store     Store
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithRetention prunes snapshots older than d after every export.
func WithRetention(d time.Duration) Option {
	return func(e *Exporter) { e.retention = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// WithClock sets the time source used for keys.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// NewExporter creates an Exporter.
func NewExporter(source Source, store Store, interval time.Duration, opts ...Option) *Exporter {
	e := &Exporter{
		source:   source,
		store:    store,
		interval: interval,
		logger:   slog.Default().With("component", "snapshot"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes one snapshot and returns its key.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	snap := e.source.Snapshot()
	data := protocol.EncodeServerMessage(snap)

	now := e.now()
	key := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String() + FileExtension
	obj := Object{
		Key:  key,
		Data: data,
		Metadata: map[string]string{
			"server-time":   strconv.FormatUint(snap.ServerTime, 10),
			"indices-count": strconv.FormatUint(uint64(snap.IndicesCount), 10),
			"exported-at":   now.UTC().Format(time.RFC3339),
		},
	}
	if err := e.store.Put(ctx, obj); err != nil {
		return "", err
	}
	e.logger.Debug("snapshot exported", "key", key, "bytes", len(data), "indices", snap.IndicesCount)

	if e.retention > 0 {
		deleted, err := e.store.Prune(ctx, e.retention)
		if err != nil {
			e.logger.Warn("snapshot prune failed", "error", err)
		} else if deleted > 0 {
			e.logger.Debug("snapshots pruned", "deleted", deleted)
		}
	}
	return key, nil
}

// Run exports every interval until ctx is done. Failed exports are logged
// and retried at the next interval.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("snapshot export started", "interval", e.interval)
	for {
		select {
		case <-ticker.C:
			if _, err := e.Export(ctx); err != nil {
				e.logger.Error("snapshot export failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
