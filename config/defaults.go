package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "convomem",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			GRPC: GRPCConfig{
				Enabled:            false,
				Port:               9090,
				MaxConnections:     1000,
				MaxRecvMsgSize:     4 * 1024 * 1024, // 4MB
				MaxSendMsgSize:     4 * 1024 * 1024, // 4MB
				EnableReflection:   false,
				EnableHealthCheck:  true,
				HealthPollInterval: 5 * time.Second,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdleSeconds:      300,
					MaxAgeSeconds:       3600,
					MaxAgeGraceSeconds:  60,
					TimeSeconds:         60,
					TimeoutSeconds:      20,
					MinTimeSeconds:      30,
					PermitWithoutStream: false,
				},
			},
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				RequestTimeout:  15 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         300,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 2,
				Burst:             5,
				IdleTimeout:       10 * time.Minute,
			},
			WebSocket: WebSocketConfig{
				Enabled:        true,
				MaxConnections: 100,
				PingInterval:   30 * time.Second,
				PongTimeout:    60 * time.Second,
				ReplayEvents:   20,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Conversation: ConversationConfig{
			EmotionDecay:  0.7,
			TopicDecay:    0.85,
			FadeThreshold: 0.2,
		},
		Events: EventsConfig{
			QueueSize:     1024,
			StoreSize:     500,
			SinkTimeout:   2 * time.Second,
			Transport:     "memory",
			SubjectPrefix: "convomem.v1.cognition",
			DedupWindow:   4096,
			Retry: EventsRetryConfig{
				MaxRetries:     3,
				InitialBackoff: 50 * time.Millisecond,
				MaxBackoff:     2 * time.Second,
				BackoffFactor:  2,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
		},
		Redis: RedisConfig{
			Address:       "localhost:6379",
			Password:      "",
			DB:            0,
			ChannelPrefix: "convomem:",
			DialTimeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}
