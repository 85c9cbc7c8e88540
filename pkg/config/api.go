package config

import "time"

// APIConfig holds runtime configuration for the control-plane API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	DatabaseURL        string
	MigrationsDir      string
	QueueRedisAddr     string
	QueueRedisPass     string
	QueueRedisDB       int
	AgentJWTSecret     string
	AgentPingInterval  time.Duration
	AgentWriteTimeout  time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	InternalToken      string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://syntra:syntra@db:5432/syntra?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		QueueRedisAddr:     GetString("QUEUE_REDIS_ADDR", "redis:6379"),
		QueueRedisPass:     GetString("QUEUE_REDIS_PASSWORD", ""),
		QueueRedisDB:       GetInt("QUEUE_REDIS_DB", 0),
		AgentJWTSecret:     GetString("AGENT_JWT_SECRET", "supersecuresecret"),
		AgentPingInterval:  GetSeconds("AGENT_PING_SECONDS", 30),
		AgentWriteTimeout:  GetSeconds("AGENT_WRITE_TIMEOUT_SECONDS", 10),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		InternalToken:      GetString("INTERNAL_API_TOKEN", "syntra-internal"),
	}
}
