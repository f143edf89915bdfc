package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/deltanet/pkg/deltanet"
)

// Config holds configuration for the HTTP/WebSocket transport.
type Config struct {
	// Address is the address to listen on (e.g., ":7971" or "localhost:3000").
	// Default: ":7971".
	Address string

	// Path is the WebSocket endpoint.
	// Default: "/delta-net-websocket".
	Path string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allows all origins (not recommended for production).
	CheckOrigin func(r *http.Request) bool

	// Loops

	// TickInterval is the time between ticks.
	// Default: 50ms.
	TickInterval time.Duration

	// HeartbeatInterval is the time between ping messages. A negative value
	// disables pings.
	// Default: 15 seconds.
	HeartbeatInterval time.Duration

	// Timeouts

	// ReadTimeout is the maximum time to wait for a message from the client.
	// Clients answer every ping, so it must exceed HeartbeatInterval.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when writing a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// ReadLimit is the largest frame the socket will read. Frames between the
	// core's MaxMessageSize and ReadLimit reach the core and are answered with
	// MESSAGE_TOO_LARGE; anything bigger drops the socket.
	// Default: twice deltanet.DefaultMaxMessageSize.
	ReadLimit int64

	// SendQueueSize is the number of outbound frames buffered per socket.
	// A socket whose queue is full is closed as a slow consumer.
	// Default: 256.
	SendQueueSize int

	// MessagesPerSecond limits inbound messages per socket.
	// 0 means no limit.
	MessagesPerSecond float64

	// MessageBurst is the burst allowed above MessagesPerSecond.
	// Default: max(1, MessagesPerSecond).
	MessageBurst int

	// MaxConnectionsPerIP caps concurrent sockets from one client address.
	// 0 means no limit.
	MaxConnectionsPerIP int

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable behind a proxy that sets them.
	TrustProxyHeaders bool

	// Endpoints

	// Gatherer backs the /metrics endpoint. If nil, /metrics is not served.
	Gatherer prometheus.Gatherer

	// EnableStateEndpoint serves the current snapshot as JSON on /state.
	EnableStateEndpoint bool

	// Middleware wraps every route, after request ids and panic recovery.
	Middleware []func(http.Handler) http.Handler
}

// Default transport settings.
const (
	DefaultAddress       = ":7971"
	DefaultPath          = "/delta-net-websocket"
	DefaultTickInterval  = 50 * time.Millisecond
	DefaultSendQueueSize = 256
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           DefaultAddress,
		Path:              DefaultPath,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		TickInterval:      DefaultTickInterval,
		HeartbeatInterval: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		ReadLimit:         2 * deltanet.DefaultMaxMessageSize,
		SendQueueSize:     DefaultSendQueueSize,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Middleware = slices.Clone(c.Middleware)
	return &clone
}

// WithAddress returns a copy with the given listen address.
func (c *Config) WithAddress(addr string) *Config {
	clone := c.Clone()
	clone.Address = addr
	return clone
}

// WithRateLimit returns a copy that limits inbound messages per socket.
func (c *Config) WithRateLimit(perSecond float64, burst int) *Config {
	clone := c.Clone()
	clone.MessagesPerSecond = perSecond
	clone.MessageBurst = burst
	return clone
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.Path == "" {
		c.Path = defaults.Path
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaults.ReadLimit
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaults.SendQueueSize
	}
	if c.MessagesPerSecond > 0 && c.MessageBurst <= 0 {
		c.MessageBurst = max(1, int(c.MessagesPerSecond))
	}
}
