package deltanet

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JoinRequest describes a connectUser message awaiting validation.
type JoinRequest struct {
	ConnectionID uint64
	Token        string
	Observer     bool
	Components   map[uint32]int64
	States       map[uint32][]byte
}

// StateUpdateRequest describes one state write awaiting validation.
type StateUpdateRequest struct {
	ConnectionID uint64
	StateID      uint32
	Value        []byte
}

// Leave reports the last values of a participant that left. Zero components
// and empty states are omitted.
type Leave struct {
	ConnectionID uint64
	Components   map[uint32]int64
	States       map[uint32][]byte
}

// Callback types.
type (
	// JoinerFunc validates a joining connection. Accepting with state
	// overrides replaces the named initial states.
	JoinerFunc func(req JoinRequest) Verdict

	// ComponentsUpdateFunc may veto a participant's component write.
	// Returning an error disconnects the participant.
	ComponentsUpdateFunc func(connectionID uint64, components map[uint32]int64) error

	// StatesUpdateFunc validates one state write. Accepting with state
	// overrides stores the override values instead.
	StatesUpdateFunc func(req StateUpdateRequest) Verdict

	// LeaveFunc is called once when an indexed participant is removed.
	LeaveFunc func(leave Leave)

	// CustomMessageFunc receives clientCustom messages from authenticated
	// connections.
	CustomMessageFunc func(connectionID uint64, customType uint32, contents string)
)

// Config holds configuration for a Server.
type Config struct {
	// Callbacks. All are optional; a nil validation callback accepts.

	OnJoiner           JoinerFunc
	OnComponentsUpdate ComponentsUpdateFunc
	OnStatesUpdate     StatesUpdateFunc
	OnLeave            LeaveFunc
	OnCustomMessage    CustomMessageFunc

	// ServerConnectionIDStateID, if set, names a state that the server fills
	// with each participant's connection id in decimal. Client writes to it
	// are ignored.
	ServerConnectionIDStateID *uint32

	// Limits

	// MaxStateValueSize is the maximum size of a single state value.
	// Default: 1MB.
	MaxStateValueSize int

	// MaxMessageSize is the maximum size of a client message.
	// Default: 10MB.
	MaxMessageSize int

	// Observability

	// Logger is the structured logger.
	// Default: slog.Default().With("component", "deltanet").
	Logger *slog.Logger

	// Registerer receives the server's Prometheus collectors.
	// If nil, metrics are collected but not registered.
	Registerer prometheus.Registerer

	// TracerName is the OpenTelemetry tracer name.
	// Default: "deltanet".
	TracerName string

	// Now returns the server time sent in tick and checkout messages.
	// Default: time.Now.
	Now func() time.Time
}

// Default limits.
const (
	DefaultMaxStateValueSize = 1024 * 1024
	DefaultMaxMessageSize    = 10 * 1024 * 1024
	defaultTracerName        = "deltanet"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxStateValueSize: DefaultMaxStateValueSize,
		MaxMessageSize:    DefaultMaxMessageSize,
		TracerName:        defaultTracerName,
		Now:               time.Now,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithConnectionIDState returns a copy that publishes connection ids on stateID.
func (c *Config) WithConnectionIDState(stateID uint32) *Config {
	clone := c.Clone()
	clone.ServerConnectionIDStateID = &stateID
	return clone
}

// WithLogger returns a copy with the given logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	clone := c.Clone()
	clone.Logger = logger
	return clone
}

func (c *Config) applyDefaults() {
	if c.MaxStateValueSize <= 0 {
		c.MaxStateValueSize = DefaultMaxStateValueSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.TracerName == "" {
		c.TracerName = defaultTracerName
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "deltanet")
	}
}
