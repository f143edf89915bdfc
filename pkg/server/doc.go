// Package server exposes a deltanet.Server over HTTP and WebSocket.
//
// Each accepted socket must negotiate the delta-net-v0.1 subprotocol; any
// other offer receives an UNSUPPORTED_WEBSOCKET_SUBPROTOCOL error and a close
// frame. Accepted sockets are registered with the core, every binary frame
// is passed to Connection.HandleMessage, and the connection is removed when
// the socket goes away.
//
// Outbound frames go through a bounded per-socket queue drained by one
// writer goroutine. A socket whose queue fills up is closed rather than
// allowed to stall the tick.
//
// The server also owns the two loops that drive the core: Tick every
// TickInterval and Ping every HeartbeatInterval.
//
// Endpoints:
//
//	GET <Path>     WebSocket endpoint (default /delta-net-websocket)
//	GET /healthz   transport and core counters as JSON
//	GET /metrics   Prometheus metrics, when Config.Gatherer is set
//	GET /state     current snapshot as JSON, when EnableStateEndpoint is set
package server
