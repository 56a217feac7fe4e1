// Package config provides configuration management for convomem.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the global configuration for convomem.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Conversation tunes the per-session salience ledger.
	Conversation ConversationConfig `mapstructure:"conversation"`

	// Events is the cognition event pipeline configuration.
	Events EventsConfig `mapstructure:"events"`

	// Storage is the session persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Redis is the Redis connection used by the redis event transport.
	Redis RedisConfig `mapstructure:"redis"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP/gRPC server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// RateLimit limits turn submissions per session.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// WebSocket is the live event stream configuration.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// GRPCConfig holds gRPC-specific settings.
type GRPCConfig struct {
	// Enabled enables the gRPC server.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConnections is the maximum number of concurrent connections.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxRecvMsgSize is the maximum message size the server can receive (bytes).
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`

	// MaxSendMsgSize is the maximum message size the server can send (bytes).
	MaxSendMsgSize int `mapstructure:"max_send_msg_size" validate:"min=0"`

	// EnableReflection enables gRPC server reflection for debugging.
	EnableReflection bool `mapstructure:"enable_reflection"`

	// EnableHealthCheck enables gRPC health check service.
	EnableHealthCheck bool `mapstructure:"enable_health_check"`

	// HealthPollInterval is how often readiness checks refresh the health service.
	HealthPollInterval time.Duration `mapstructure:"health_poll_interval"`

	// TLS is the TLS/mTLS configuration.
	TLS GRPCTLSConfig `mapstructure:"tls"`

	// Keepalive is the keepalive configuration.
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCTLSConfig holds gRPC TLS/mTLS settings.
type GRPCTLSConfig struct {
	// Enabled indicates whether TLS is enabled.
	Enabled bool `mapstructure:"enabled"`

	// CertFile is the path to the server certificate file.
	CertFile string `mapstructure:"cert_file" validate:"file_exists"`

	// KeyFile is the path to the server private key file.
	KeyFile string `mapstructure:"key_file" validate:"file_exists"`

	// CAFile is the path to the CA certificate file for mTLS.
	CAFile string `mapstructure:"ca_file" validate:"file_exists"`

	// ClientAuth indicates whether to require client certificates (mTLS).
	ClientAuth bool `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings.
type GRPCKeepaliveConfig struct {
	MaxIdleSeconds      int  `mapstructure:"max_idle_seconds" validate:"min=0"`
	MaxAgeSeconds       int  `mapstructure:"max_age_seconds" validate:"min=0"`
	MaxAgeGraceSeconds  int  `mapstructure:"max_age_grace_seconds" validate:"min=0"`
	TimeSeconds         int  `mapstructure:"time_seconds" validate:"min=0"`
	TimeoutSeconds      int  `mapstructure:"timeout_seconds" validate:"min=0"`
	MinTimeSeconds      int  `mapstructure:"min_time_seconds" validate:"min=0"`
	PermitWithoutStream bool `mapstructure:"permit_without_stream"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds one API handler. Zero disables the timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes" validate:"min=0"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// RateLimitConfig holds per-session turn rate limit settings.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"min=0"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

// WebSocketConfig holds live event stream settings.
type WebSocketConfig struct {
	// Enabled mounts /ws/events.
	Enabled bool `mapstructure:"enabled"`

	// MaxConnections caps concurrent clients. Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// AllowedOrigins lists origins allowed to connect; empty allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// PingInterval is how often the server pings clients.
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// PongTimeout is how long to wait for a pong.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`

	// ReplayEvents is how many recent events a new client receives.
	ReplayEvents int `mapstructure:"replay_events" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// ConversationConfig holds salience ledger tuning.
type ConversationConfig struct {
	// EmotionDecay multiplies emotion weights each turn.
	EmotionDecay float64 `mapstructure:"emotion_decay" validate:"gt=0,lte=1"`

	// TopicDecay multiplies topic weights each turn.
	TopicDecay float64 `mapstructure:"topic_decay" validate:"gt=0,lte=1"`

	// FadeThreshold drops entries whose weight falls below it.
	FadeThreshold float64 `mapstructure:"fade_threshold" validate:"gt=0,lt=1"`
}

// EventsConfig holds cognition event pipeline settings.
type EventsConfig struct {
	// QueueSize is the emitter queue capacity.
	QueueSize int `mapstructure:"queue_size" validate:"min=1"`

	// StoreSize is how many recent events the dashboard keeps.
	StoreSize int `mapstructure:"store_size" validate:"min=1"`

	// SinkTimeout bounds delivery to one sink.
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`

	// Transport selects the bus (memory, redis).
	Transport string `mapstructure:"transport" validate:"oneof=memory redis"`

	// SubjectPrefix namespaces bus subjects.
	SubjectPrefix string `mapstructure:"subject_prefix"`

	// NodeID identifies this process on the bus. Empty uses the hostname.
	NodeID string `mapstructure:"node_id"`

	// DedupWindow is how many envelope ids the relay remembers.
	DedupWindow int `mapstructure:"dedup_window" validate:"min=0"`

	// Retry is the bus publish retry policy.
	Retry EventsRetryConfig `mapstructure:"retry"`
}

// EventsRetryConfig holds bus publish retry settings.
type EventsRetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" validate:"min=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" validate:"gte=1"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size" validate:"min=0"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep" validate:"min=0"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// ChannelPrefix namespaces pub/sub channels.
	ChannelPrefix string `mapstructure:"channel_prefix"`

	// DialTimeout bounds connection setup.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlpgrpc).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc"`

	// Type is the legacy backend name (jaeger, zipkin). It maps to otlpgrpc.
	Type string `mapstructure:"type" validate:"omitempty,oneof=jaeger zipkin otlp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are sent with every export.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout bounds one export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler is always_on, always_off or parentbased_traceidratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	c.Tracing.normalize()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.Tracing.check(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Events.Transport == "redis" && strings.TrimSpace(c.Redis.Address) == "" {
		return fmt.Errorf("config validation failed: redis.address is required for the redis event transport")
	}
	return nil
}

func (t *TracingConfig) normalize() {
	if t.Exporter == "" && t.Type != "" {
		t.Exporter = "otlpgrpc"
	}
}

func (t *TracingConfig) check() error {
	if !t.Enabled {
		return nil
	}
	if t.Exporter == "" {
		return fmt.Errorf("tracing.exporter is required when tracing is enabled")
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("tracing.timeout must be positive")
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s, Events: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type, c.Events.Transport)
}
