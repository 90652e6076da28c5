package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dunamismax/pixelopt/internal/preset"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const EnvPrefix = "PIXELOPT"

type Config struct {
	API      APIConfig                       `mapstructure:"api"`
	Queue    QueueConfig                     `mapstructure:"queue"`
	Worker   WorkerConfig                    `mapstructure:"worker"`
	Storage  StorageConfig                   `mapstructure:"storage"`
	Database DatabaseConfig                  `mapstructure:"database"`
	Limits   LimitsConfig                    `mapstructure:"limits"`
	Cleanup  CleanupConfig                   `mapstructure:"cleanup"`
	Webhook  WebhookConfig                   `mapstructure:"webhook"`
	Tracing  TracingConfig                   `mapstructure:"tracing"`
	Logging  LoggingConfig                   `mapstructure:"logging"`
	Presets  map[string]preset.EncodeProfile `mapstructure:"presets"`
}

type APIConfig struct {
	Addr                string        `mapstructure:"addr"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	DeleteAfterDownload bool          `mapstructure:"delete_after_download"`
	JobTTL              time.Duration `mapstructure:"job_ttl"`
	JobStore            string        `mapstructure:"job_store"`
}

type QueueConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Name          string `mapstructure:"name"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisOptions targets the same Redis the queue uses, for the job store and rate limiter.
func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	MaxActiveJobs int           `mapstructure:"max_active_jobs"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	LocalDir  string `mapstructure:"local_dir"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LimitsConfig struct {
	MaxUploadBytes     int64  `mapstructure:"max_upload_bytes"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
	RateLimitBackend   string `mapstructure:"rate_limit_backend"`
}

type CleanupConfig struct {
	MaxAge    time.Duration `mapstructure:"max_age"`
	Interval  time.Duration `mapstructure:"interval"`
	OnStartup bool          `mapstructure:"on_startup"`
}

type WebhookConfig struct {
	SigningSecret  string        `mapstructure:"signing_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type TracingConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads pixelopt.{yaml,toml,json} from the working directory or /etc/pixelopt (or the file
// named by PIXELOPT_CONFIG), then applies PIXELOPT_* environment overrides such as
// PIXELOPT_API_ADDR or PIXELOPT_LIMITS_RATE_LIMIT_PER_MINUTE.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pixelopt")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pixelopt")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.request_timeout", 60*time.Second)
	v.SetDefault("api.delete_after_download", true)
	v.SetDefault("api.job_ttl", time.Hour)
	v.SetDefault("api.job_store", "memory")

	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")

	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", max(1, runtime.NumCPU()/2))
	v.SetDefault("worker.task_timeout", 3*time.Minute)
	v.SetDefault("worker.metrics_addr", ":9091")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_dir", "./.pixelopt-data")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "pixelopt")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("database.dsn", "")

	v.SetDefault("limits.max_upload_bytes", int64(25<<20))
	v.SetDefault("limits.rate_limit_per_minute", 30)
	v.SetDefault("limits.rate_limit_backend", "memory")

	v.SetDefault("cleanup.max_age", time.Hour)
	v.SetDefault("cleanup.interval", 5*time.Minute)
	v.SetDefault("cleanup.on_startup", true)

	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial_backoff", time.Second)
	v.SetDefault("webhook.max_backoff", 10*time.Second)

	v.SetDefault("tracing.service_name", "pixelopt")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	presets := map[string]any{}
	for _, name := range preset.DefaultTable().Names() {
		p, _ := preset.DefaultTable().Resolve(name, nil)
		presets[name] = map[string]any{
			"jpeg_quality":       p.JPEGQuality,
			"webp_quality":       p.WebPQuality,
			"png_compress_level": p.PNGCompressLevel,
			"webp_method":        p.WebPMethod,
		}
	}
	v.SetDefault("presets", presets)
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "local", "minio":
	default:
		return fmt.Errorf("storage.driver must be local or minio, got %q", c.Storage.Driver)
	}
	switch c.Limits.RateLimitBackend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("limits.rate_limit_backend must be memory, redis or none, got %q", c.Limits.RateLimitBackend)
	}
	switch c.API.JobStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("api.job_store must be memory or redis, got %q", c.API.JobStore)
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return errors.New("limits.max_upload_bytes must be positive")
	}
	if c.Cleanup.MaxAge <= 0 || c.Cleanup.Interval <= 0 {
		return errors.New("cleanup.max_age and cleanup.interval must be positive")
	}
	for name, p := range c.Presets {
		if p.JPEGQuality < 1 || p.JPEGQuality > 100 || p.WebPQuality < 1 || p.WebPQuality > 100 {
			return fmt.Errorf("preset %s: quality must be within 1-100", name)
		}
		if p.PNGCompressLevel < 0 || p.PNGCompressLevel > 9 {
			return fmt.Errorf("preset %s: png_compress_level must be within 0-9", name)
		}
		if p.WebPMethod < 0 || p.WebPMethod > 6 {
			return fmt.Errorf("preset %s: webp_method must be within 0-6", name)
		}
	}
	return nil
}

// PresetTable freezes the configured presets. A table missing any built-in preset falls back to
// the built-in definition for it.
func (c Config) PresetTable() preset.Table {
	merged := map[string]preset.EncodeProfile{}
	defaults := preset.DefaultTable()
	for _, name := range defaults.Names() {
		merged[name], _ = defaults.Resolve(name, nil)
	}
	for name, p := range c.Presets {
		merged[name] = p
	}
	return preset.NewTable(merged)
}
