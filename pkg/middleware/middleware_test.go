package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func newRouter(mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	return r
}

func serve(h http.Handler, path string) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestPrometheusRecordsRoutesAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := Prometheus(WithRegistry(reg))
	r := newRouter(m)

	serve(r, "/healthz")
	serve(r, "/healthz")
	serve(r, "/items/1")
	serve(r, "/items/2")
	serve(r, "/missing")

	counts, err := testutil.GatherAndCount(reg, "deltanet_http_requests_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error: %v", err)
	}
	// healthz/200, items/500, unmatched/404
	if counts != 3 {
		t.Errorf("series = %d, want 3", counts)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "deltanet_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var route, status string
			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "route":
					route = lp.GetValue()
				case "status":
					status = lp.GetValue()
				}
			}
			got[route+" "+status] = metric.GetCounter().GetValue()
		}
	}
	want := map[string]float64{
		"/healthz 200":    2,
		"/items/{id} 500": 2,
		"unmatched 404":   1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("requests_total{%s} = %v, want %v (all: %v)", k, got[k], v, got)
		}
	}
}

func TestPrometheusOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newRouter(Prometheus(
		WithRegistry(reg),
		WithNamespace("edge"),
		WithSubsystem("web"),
		WithConstLabels(prometheus.Labels{"region": "eu"}),
		WithBuckets([]float64{0.1, 1}),
	))
	serve(r, "/healthz")

	if n, err := testutil.GatherAndCount(reg, "edge_web_request_duration_seconds"); err != nil || n != 1 {
		t.Errorf("GatherAndCount() = %d, %v", n, err)
	}
}

func TestStatusLabel(t *testing.T) {
	if got := statusLabel(0); got != "hijacked" {
		t.Errorf("statusLabel(0) = %q", got)
	}
	if got := statusLabel(404); got != "404" {
		t.Errorf("statusLabel(404) = %q", got)
	}
}

// recordingProvider hands out noop tracers and remembers the span names.
type recordingProvider struct {
	noop.TracerProvider
	names []string
}

func (p *recordingProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return &recordingTracer{Tracer: p.TracerProvider.Tracer(name, opts...), p: p}
}

type recordingTracer struct {
	trace.Tracer
	p *recordingProvider
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.p.names = append(t.p.names, name)
	return t.Tracer.Start(ctx, name, opts...)
}

func TestOpenTelemetryStartsSpans(t *testing.T) {
	tp := &recordingProvider{}
	var sawSpan bool
	mw := OpenTelemetry(
		WithTracerProvider(tp),
		WithFilter(func(r *http.Request) bool { return r.URL.Path != "/skip" }),
	)

	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		sawSpan = trace.SpanFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/skip", func(w http.ResponseWriter, r *http.Request) {})

	serve(r, "/ws")
	serve(r, "/skip")

	if len(tp.names) != 1 || tp.names[0] != "GET /ws" {
		t.Errorf("spans = %v, want [GET /ws]", tp.names)
	}
	if !sawSpan {
		t.Error("handler saw no span in its context")
	}
}
