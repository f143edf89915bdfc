// Package middleware provides HTTP middleware for the deltanet transport.
//
// # Prometheus Metrics
//
// Prometheus records every request served by the router:
//   - deltanet_http_requests_total: requests by route and status
//   - deltanet_http_request_duration_seconds: request duration by route
//   - deltanet_http_requests_in_flight: requests currently being served
//
// WebSocket upgrades are counted with status "hijacked" and their duration
// spans the whole socket lifetime.
//
//	reg := prometheus.NewRegistry()
//	cfg := server.DefaultConfig()
//	cfg.Middleware = append(cfg.Middleware, middleware.Prometheus(middleware.WithRegistry(reg)))
//
// # OpenTelemetry
//
// OpenTelemetry starts a server span for each request using the global
// tracer provider and stores it in the request context, so handlers and the
// deltanet core can hang child spans off it.
//
//	cfg.Middleware = append(cfg.Middleware, middleware.OpenTelemetry(
//	    middleware.WithFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    }),
//	))
package middleware
