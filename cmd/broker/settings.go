package main

import "time"

const (
	RateLimitStoreMemory  = "memory"
	RateLimitStoreMongoDB = "mongodb"
)

type Settings struct {
	Port        int    `env:"PORT,default=8000"`
	BasePath    string `env:"BASE_PATH,default=/broker"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`

	JWTSecret      string   `env:"JWT_SECRET,required=true"`
	JWTAudience    string   `env:"JWT_AUDIENCE,default=broker"`
	APIKeys        []string `env:"API_KEYS"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	MongoDBURI      string `env:"MONGODB_URI,required=true"`
	MongoDBDatabase string `env:"MONGODB_DATABASE,default=broker"`

	MaxFrameBytes             int   `env:"MAX_FRAME_BYTES,default=131072"`
	MaxConnectionsPerIdentity int64 `env:"MAX_CONNECTIONS_PER_IDENTITY,default=10"`
	MaxConnectionsPerAddress  int64 `env:"MAX_CONNECTIONS_PER_ADDRESS,default=50"`
	SingleSession             bool  `env:"SINGLE_SESSION,default=true"`

	RateLimitMessages int64         `env:"RATE_LIMIT_MESSAGES,default=100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	RateLimitStore    string        `env:"RATE_LIMIT_STORE,default=memory"`

	IdleAfter         time.Duration `env:"IDLE_AFTER,default=5m"`
	IdleSweepInterval time.Duration `env:"IDLE_SWEEP_INTERVAL,default=30s"`
	SessionTTL        time.Duration `env:"SESSION_TTL,default=24h"`
	DisconnectGrace   time.Duration `env:"DISCONNECT_GRACE,default=5m"`

	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC,default=broker.sessions"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}
