package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the anomalyreport gateway.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Detection DetectionConfig
	Report    ReportConfig
	Session   SessionConfig
	NATS      NATSConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        slog.Level
	CORSOrigins     []string
	RateLimitPerMin int
	MaxUploadBytes  int64
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// DetectionConfig describes the upstream detection and user service. Paths
// differ between deployed versions of the backend, so each one is configurable.
type DetectionConfig struct {
	BaseURL            string
	Timeout            time.Duration
	SkipBrowserWarning bool
	StreamPath         string
	VideoPath          string
	ArchivePath        string
	ResultPath         string
	CancelPath         string
	LoginPath          string
	RegisterPath       string
}

type ReportConfig struct {
	PollInterval    time.Duration
	RefetchOnCancel bool
	SweepInterval   time.Duration
}

type SessionConfig struct {
	TTL time.Duration
}

type NATSConfig struct {
	URL     string
	Subject string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	level, err := parseLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("APP_PORT", 8080),
			Env:             envString("APP_ENV", "development"),
			LogLevel:        level,
			CORSOrigins:     envList("CORS_ORIGINS", []string{"*"}),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 120),
			MaxUploadBytes:  int64(envInt("MAX_UPLOAD_BYTES", 512<<20)),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Detection: DetectionConfig{
			BaseURL:            strings.TrimRight(os.Getenv("DETECTION_BASE_URL"), "/"),
			Timeout:            envDuration("DETECTION_TIMEOUT", 30*time.Second),
			SkipBrowserWarning: envBool("DETECTION_SKIP_BROWSER_WARNING", true),
			StreamPath:         envString("DETECTION_STREAM_PATH", "/api/detection/stream"),
			VideoPath:          envString("DETECTION_VIDEO_PATH", "/api/detection/video"),
			ArchivePath:        envString("DETECTION_ARCHIVE_PATH", "/api/detection/archive"),
			ResultPath:         envString("DETECTION_RESULT_PATH", "/api/detection/result"),
			CancelPath:         envString("DETECTION_CANCEL_PATH", "/api/detection/cancel"),
			LoginPath:          envString("AUTH_LOGIN_PATH", "/user/login"),
			RegisterPath:       envString("AUTH_REGISTER_PATH", "/user"),
		},
		Report: ReportConfig{
			PollInterval:    envDuration("POLL_INTERVAL", time.Second),
			RefetchOnCancel: envBool("REFETCH_ON_CANCEL", false),
			SweepInterval:   envDuration("REPORT_SWEEP_INTERVAL", time.Minute),
		},
		Session: SessionConfig{
			TTL: envDuration("SESSION_TTL", 24*time.Hour),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Subject: envString("NATS_SUBJECT", "detection.report.notifications"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Detection.BaseURL == "" {
		return fmt.Errorf("DETECTION_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Detection.BaseURL, "http://") && !strings.HasPrefix(c.Detection.BaseURL, "https://") {
		return fmt.Errorf("DETECTION_BASE_URL must start with http:// or https://, got %q", c.Detection.BaseURL)
	}

	if c.Report.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Report.PollInterval)
	}

	if c.Report.SweepInterval <= 0 {
		return fmt.Errorf("REPORT_SWEEP_INTERVAL must be positive, got %s", c.Report.SweepInterval)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.Session.TTL)
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT is required when NATS_URL is set")
	}

	return nil
}

// IsProduction reports whether the gateway runs with production defaults
// (JSON logs).
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
	}
	return level, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
