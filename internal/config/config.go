package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Identity  IdentityConfig  `yaml:"identity"`
	Store     StoreConfig     `yaml:"store"`
	Records   RecordsConfig   `yaml:"records"`
	Sharing   SharingConfig   `yaml:"sharing"`
	Peer      PeerConfig      `yaml:"peer"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Schema    SchemaConfig    `yaml:"schema"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// IdentityConfig describes how this server presents itself to peers.
type IdentityConfig struct {
	URL       string `yaml:"url"        env:"IDENTITY_URL"        env-required:"true"`
	PublicKey string `yaml:"public_key" env:"IDENTITY_PUBLIC_KEY"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and configures the record store. Path applies to
// bolt and sqlite, the connection settings to postgres.
type StoreConfig struct {
	Driver          string        `yaml:"driver"             env:"STORE_DRIVER"             env-default:"memory"`
	Path            string        `yaml:"path"               env:"STORE_PATH"               env-default:"./data/records.db"`
	DSN             string        `yaml:"dsn"                env:"STORE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"STORE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"STORE_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"STORE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"STORE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// Persistent reports whether the store outlives the process.
func (c StoreConfig) Persistent() bool { return c.Driver != DriverMemory }

// Record id schemes.
const (
	IDSchemeCounter = "counter"
	IDSchemeULID    = "ulid"
)

// RecordsConfig holds record engine settings.
type RecordsConfig struct {
	IDScheme       string `yaml:"id_scheme"        env:"RECORDS_ID_SCHEME"        env-default:"counter"`
	DefaultPerPage int    `yaml:"default_per_page" env:"RECORDS_DEFAULT_PER_PAGE" env-default:"500"`
	ExpandDepth    int    `yaml:"expand_depth"     env:"RECORDS_EXPAND_DEPTH"     env-default:"3"`
}

// SharingConfig holds invite and share token settings.
type SharingConfig struct {
	InviteSecretCost int           `yaml:"invite_secret_cost" env:"SHARING_INVITE_SECRET_COST" env-default:"10"`
	TokenSecret      string        `yaml:"token_secret"       env:"SHARING_TOKEN_SECRET"       env-required:"true"`
	TokenTTL         time.Duration `yaml:"token_ttl"          env:"SHARING_TOKEN_TTL"          env-default:"0s"`
}

// PeerConfig holds settings of the outbound client used to reach peers.
type PeerConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"PEER_TIMEOUT" env-default:"30s"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"*"`
	AllowedMethods   string `yaml:"allowed_methods"   env:"CORS_ALLOWED_METHODS"   env-default:"GET,POST,PATCH,DELETE,OPTIONS"`
	AllowedHeaders   string `yaml:"allowed_headers"   env:"CORS_ALLOWED_HEADERS"   env-default:"Authorization,Content-Type,X-Actor-Id"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"false"`
	MaxAge           int    `yaml:"max_age"           env:"CORS_MAX_AGE"           env-default:"86400"`
}

// RateLimitConfig limits sync requests per peer IP.
type RateLimitConfig struct {
	Sync            int           `yaml:"sync"             env:"RATE_LIMIT_SYNC"             env-default:"60"`
	Window          time.Duration `yaml:"window"           env:"RATE_LIMIT_WINDOW"           env-default:"1m"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"RATE_LIMIT_CLEANUP_INTERVAL" env-default:"5m"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// SchemaConfig points at the application schema file. An empty path
// registers the system schemas only.
type SchemaConfig struct {
	Path string `yaml:"path" env:"SCHEMA_PATH"`
}
