package config

import "time"

// WorkerConfig holds runtime configuration for the pipeline worker service.
type WorkerConfig struct {
	Environment       string
	LogLevel          string
	DatabaseURL       string
	QueueRedisAddr    string
	QueueRedisPass    string
	QueueRedisDB      int
	Concurrency       int
	JobsPerMinute     int
	Workdir           string
	GitTimeout        time.Duration
	BuildTimeout      time.Duration
	DockerHost        string
	RegistryURL       string
	RegistryUsername  string
	RegistryPassword  string
	ImageNamespace    string
	MetricsAddr       string
	CanaryEvaluate    time.Duration
	NotifyHTTPTimeout time.Duration
	SMTPAddr          string
	SMTPFrom          string
	APIBaseURL        string
	InternalToken     string
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:       GetString("APP_ENV", "development"),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		DatabaseURL:       GetString("DATABASE_URL", "postgres://syntra:syntra@db:5432/syntra?sslmode=disable"),
		QueueRedisAddr:    GetString("QUEUE_REDIS_ADDR", "redis:6379"),
		QueueRedisPass:    GetString("QUEUE_REDIS_PASSWORD", ""),
		QueueRedisDB:      GetInt("QUEUE_REDIS_DB", 0),
		Concurrency:       GetInt("WORKER_CONCURRENCY", 4),
		JobsPerMinute:     GetInt("WORKER_JOBS_PER_MINUTE", 30),
		Workdir:           GetString("BUILD_WORKDIR", "/tmp/syntra-builds"),
		GitTimeout:        GetSeconds("GIT_TIMEOUT_SECONDS", 120),
		BuildTimeout:      GetSeconds("BUILD_TIMEOUT_SECONDS", 900),
		DockerHost:        GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		RegistryURL:       GetString("DOCKER_REGISTRY", ""),
		RegistryUsername:  GetString("DOCKER_REGISTRY_USERNAME", ""),
		RegistryPassword:  GetString("DOCKER_REGISTRY_PASSWORD", ""),
		ImageNamespace:    GetString("IMAGE_NAMESPACE", "syntra"),
		MetricsAddr:       GetString("WORKER_METRICS_ADDR", ":9102"),
		CanaryEvaluate:    GetSeconds("CANARY_EVALUATE_SECONDS", 30),
		NotifyHTTPTimeout: GetSeconds("NOTIFY_HTTP_TIMEOUT_SECONDS", 10),
		SMTPAddr:          GetString("SMTP_ADDR", ""),
		SMTPFrom:          GetString("SMTP_FROM", "noreply@syntra.local"),
		APIBaseURL:        GetString("API_BASE_URL", "http://api:4000"),
		InternalToken:     GetString("INTERNAL_API_TOKEN", "syntra-internal"),
	}
}
