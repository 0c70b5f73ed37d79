package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// ChatAddr is the TCP chat listener.
	ChatAddr string
	// HTTPAddr serves health, metrics, and the WebSocket gateway.
	HTTPAddr string

	LogLevel  string
	LogFormat string

	SendQueueSize   int
	ReadIdleTimeout time.Duration
	WriteTimeout    time.Duration

	ReadHeaderTimeout time.Duration
	HTTPIdleTimeout   time.Duration
	MaxHeaderBytes    int

	// UsersFile backs the file credential store when no database is set.
	UsersFile string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the database is configured and
	// reachable.
	ReadinessRequireDB bool

	// If true, startup fails unless the password hasher is configured for
	// argon2id.
	RequireArgon2 bool

	WSOriginRequired bool
	WSAllowedOrigins []string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		ChatAddr: EnvString("PARLEY_CHAT_ADDR", "0.0.0.0:8080"),
		HTTPAddr: EnvString("PARLEY_HTTP_ADDR", "0.0.0.0:8081"),

		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		SendQueueSize:   EnvInt("PARLEY_SEND_QUEUE", 64),
		ReadIdleTimeout: EnvDuration("PARLEY_READ_IDLE_TIMEOUT", 30*time.Second),
		WriteTimeout:    EnvDuration("PARLEY_WRITE_TIMEOUT", 5*time.Second),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		HTTPIdleTimeout:   EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", 1<<20),

		UsersFile: EnvString("PARLEY_USERS_FILE", "users.json"),

		DatabaseURL: EnvString("PARLEY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PARLEY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PARLEY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PARLEY_READINESS_REQUIRE_DB", false),

		RequireArgon2: EnvBool("PARLEY_REQUIRE_ARGON2", false),

		WSOriginRequired: EnvBool("PARLEY_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins: EnvCSV("PARLEY_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
	}
}
