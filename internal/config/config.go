package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/deltanet/internal/errors"
	"github.com/vango-dev/deltanet/pkg/deltanet"
	"github.com/vango-dev/deltanet/pkg/server"
)

const (
	// ConfigFileName is the conventional name of the configuration file.
	ConfigFileName = "deltanet.toml"

	// DefaultSecretEnv is the environment variable holding the JWT secret.
	DefaultSecretEnv = "DELTANET_JWT_SECRET"

	// DefaultSnapshotPrefix is the default object key prefix for snapshots.
	DefaultSnapshotPrefix = "snapshots/"

	// DefaultSnapshotRegion is the default S3 region.
	DefaultSnapshotRegion = "us-east-1"
)

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the complete deltanet.toml configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Limits   LimitsConfig   `toml:"limits"`
	Auth     AuthConfig     `toml:"auth"`
	Log      LogConfig      `toml:"log"`
	Snapshot SnapshotConfig `toml:"snapshot"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig configures the HTTP/WebSocket transport.
type ServerConfig struct {
	Address             string   `toml:"address"`
	Path                string   `toml:"path"`
	TickInterval        Duration `toml:"tick_interval"`
	HeartbeatInterval   Duration `toml:"heartbeat_interval"`
	ReadTimeout         Duration `toml:"read_timeout"`
	WriteTimeout        Duration `toml:"write_timeout"`
	ShutdownTimeout     Duration `toml:"shutdown_timeout"`
	SendQueueSize       int      `toml:"send_queue_size"`
	MessagesPerSecond   float64  `toml:"messages_per_second"`
	MessageBurst        int      `toml:"message_burst"`
	MaxConnectionsPerIP int      `toml:"max_connections_per_ip"`
	TrustProxyHeaders   bool     `toml:"trust_proxy_headers"`

	// AllowedOrigins lists accepted Origin headers. Empty accepts any.
	AllowedOrigins []string `toml:"allowed_origins"`

	EnableMetrics       bool `toml:"enable_metrics"`
	EnableStateEndpoint bool `toml:"enable_state_endpoint"`
}

// LimitsConfig holds the core's size limits.
type LimitsConfig struct {
	MaxStateValueSize int `toml:"max_state_value_size"`
	MaxMessageSize    int `toml:"max_message_size"`
}

// AuthConfig configures JWT validation of joining connections. With no
// secret every joiner is accepted.
type AuthConfig struct {
	// JWTSecret is the HMAC secret. Prefer JWTSecretEnv.
	JWTSecret string `toml:"jwt_secret"`

	// JWTSecretEnv names the environment variable holding the secret.
	JWTSecretEnv string `toml:"jwt_secret_env"`

	// Issuer, if set, must match the token's iss claim.
	Issuer string `toml:"issuer"`

	// AllowAnonymousObservers admits observers without a token.
	AllowAnonymousObservers bool `toml:"allow_anonymous_observers"`

	// SubjectStateID, if set, names a state overwritten with the token subject.
	SubjectStateID *uint32 `toml:"subject_state_id"`

	// ConnectionIDStateID, if set, names a state the server fills with each
	// participant's connection id.
	ConnectionIDStateID *uint32 `toml:"connection_id_state_id"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SnapshotConfig configures periodic snapshot export to S3. Export is off
// while Bucket is empty.
type SnapshotConfig struct {
	Bucket       string   `toml:"bucket"`
	Prefix       string   `toml:"prefix"`
	Region       string   `toml:"region"`
	Endpoint     string   `toml:"endpoint"`
	UsePathStyle bool     `toml:"use_path_style"`
	Interval     Duration `toml:"interval"`
}

// New returns a Config with default values.
func New() *Config {
	transport := server.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:           transport.Address,
			Path:              transport.Path,
			TickInterval:      Duration{transport.TickInterval},
			HeartbeatInterval: Duration{transport.HeartbeatInterval},
			ReadTimeout:       Duration{transport.ReadTimeout},
			WriteTimeout:      Duration{transport.WriteTimeout},
			ShutdownTimeout:   Duration{transport.ShutdownTimeout},
			SendQueueSize:     transport.SendQueueSize,
			EnableMetrics:     true,
		},
		Limits: LimitsConfig{
			MaxStateValueSize: deltanet.DefaultMaxStateValueSize,
			MaxMessageSize:    deltanet.DefaultMaxMessageSize,
		},
		Auth: AuthConfig{
			JWTSecretEnv: DefaultSecretEnv,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Snapshot: SnapshotConfig{
			Prefix:   DefaultSnapshotPrefix,
			Region:   DefaultSnapshotRegion,
			Interval: Duration{time.Minute},
		},
	}
}

// Load reads configuration from path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("E100").
				WithDetailf("No configuration file at %s", path).
				WithSuggestion("Run 'deltanet config > " + ConfigFileName + "' to write the defaults")
		}
		var perr toml.ParseError
		if stderrors.As(err, &perr) {
			return nil, errors.New("E101").WithDetail(perr.ErrorWithPosition())
		}
		return nil, errors.New("E101").Wrap(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New("E102").
			WithDetailf("Unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	cfg.configPath = path
	return cfg, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Write encodes the configuration as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New("E103").WithDetailf(format, args...)
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		return invalid("server.address is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return invalid("server.path must start with '/', got %q", c.Server.Path)
	}
	if c.Server.TickInterval.Duration <= 0 {
		return invalid("server.tick_interval must be positive, got %s", c.Server.TickInterval)
	}
	if hb := c.Server.HeartbeatInterval.Duration; hb > 0 && c.Server.ReadTimeout.Duration > 0 && c.Server.ReadTimeout.Duration <= hb {
		return invalid("server.read_timeout (%s) must exceed server.heartbeat_interval (%s)",
			c.Server.ReadTimeout, c.Server.HeartbeatInterval)
	}
	if c.Server.MessagesPerSecond < 0 {
		return invalid("server.messages_per_second must not be negative")
	}
	if c.Limits.MaxStateValueSize < 0 || c.Limits.MaxMessageSize < 0 {
		return invalid("limits must not be negative")
	}
	if _, err := c.LogLevel(); err != nil {
		return invalid("log.level: %v", err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		return invalid("log.format must be \"text\" or \"json\", got %q", f)
	}
	if c.Snapshot.Bucket != "" && c.Snapshot.Interval.Duration <= 0 {
		return errors.New("E141").WithDetailf("snapshot.interval must be positive, got %s", c.Snapshot.Interval)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, err
	}
	return level, nil
}

// Secret returns the JWT secret, preferring the environment variable.
func (c *Config) Secret() []byte {
	if c.Auth.JWTSecretEnv != "" {
		if v := os.Getenv(c.Auth.JWTSecretEnv); v != "" {
			return []byte(v)
		}
	}
	if c.Auth.JWTSecret != "" {
		return []byte(c.Auth.JWTSecret)
	}
	return nil
}

// CoreConfig returns the deltanet.Config for this configuration. Callbacks
// are left for the caller to set.
func (c *Config) CoreConfig() *deltanet.Config {
	core := deltanet.DefaultConfig()
	core.MaxStateValueSize = c.Limits.MaxStateValueSize
	core.MaxMessageSize = c.Limits.MaxMessageSize
	if c.Auth.ConnectionIDStateID != nil {
		core = core.WithConnectionIDState(*c.Auth.ConnectionIDStateID)
	}
	return core
}

// TransportConfig returns the server.Config for this configuration.
func (c *Config) TransportConfig() *server.Config {
	t := server.DefaultConfig()
	t.Address = c.Server.Address
	t.Path = c.Server.Path
	t.TickInterval = c.Server.TickInterval.Duration
	t.HeartbeatInterval = c.Server.HeartbeatInterval.Duration
	t.ReadTimeout = c.Server.ReadTimeout.Duration
	t.WriteTimeout = c.Server.WriteTimeout.Duration
	t.ShutdownTimeout = c.Server.ShutdownTimeout.Duration
	t.SendQueueSize = c.Server.SendQueueSize
	t.MessagesPerSecond = c.Server.MessagesPerSecond
	t.MessageBurst = c.Server.MessageBurst
	t.MaxConnectionsPerIP = c.Server.MaxConnectionsPerIP
	t.TrustProxyHeaders = c.Server.TrustProxyHeaders
	t.EnableStateEndpoint = c.Server.EnableStateEndpoint
	if c.Limits.MaxMessageSize > 0 {
		t.ReadLimit = 2 * int64(c.Limits.MaxMessageSize)
	}
	if origins := c.Server.AllowedOrigins; len(origins) > 0 {
		t.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(origins, r.Header.Get("Origin"))
		}
	}
	return t
}

// String returns a one-line summary for logs.
func (c *Config) String() string {
	return fmt.Sprintf("address=%s path=%s tick=%s auth=%t snapshot=%t",
		c.Server.Address, c.Server.Path, c.Server.TickInterval,
		c.Secret() != nil, c.Snapshot.Bucket != "")
}
