package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"previewd/internal/models"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	MetricsAddr     string   `yaml:"metrics_addr"`
	PublicBaseURL   string   `yaml:"public_base_url"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// Backend is "filesystem" or "s3".
	Backend  string `yaml:"backend"`
	BasePath string `yaml:"base_path"`
	S3       struct {
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"s3"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string   `yaml:"backend"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	DefaultTTL    Duration `yaml:"default_ttl"`
	CleanupEvery  Duration `yaml:"cleanup_every"`
	StatsTopN     int      `yaml:"stats_top_n"`
}

// ViolationWeights are the per-check risk score contributions. They
// are heuristic constants inherited from the original deployment,
// tunable rather than derived.
type ViolationWeights struct {
	RateLimit   int `yaml:"rate_limit"`
	FileSize    int `yaml:"file_size"`
	ContentType int `yaml:"content_type"`
	Filename    int `yaml:"filename"`
	UserAgent   int `yaml:"user_agent"`
	Blocklist   int `yaml:"blocklist"`
	WAFMatch    int `yaml:"waf_match"`
}

type SecurityConfig struct {
	// Backend selects the rate limiter/blocklist implementation:
	// "memory" for single-node, "redis" for multi-instance.
	Backend            string           `yaml:"backend"`
	RateLimitPerMinute int              `yaml:"rate_limit_per_minute"`
	MaxFileSize        int64            `yaml:"max_file_size"`
	RiskScoreThreshold int              `yaml:"risk_score_threshold"`
	AllowedTypes       []string         `yaml:"allowed_types"`
	BlockedIPs         []string         `yaml:"blocked_ips"`
	Weights            ViolationWeights `yaml:"weights"`
	WAFRules           []models.WAFRule `yaml:"waf_rules"`
}

type ScannerConfig struct {
	MaxInputBytes int64 `yaml:"max_input_bytes"`
	MaxDimension  int   `yaml:"max_dimension"`
	MaxPixels     int64 `yaml:"max_pixels"`
}

type RenderConfig struct {
	MaxOutputBytes int64    `yaml:"max_output_bytes"`
	MaxConcurrent  int64    `yaml:"max_concurrent"`
	Timeout        Duration `yaml:"timeout"`
	FetchTimeout   Duration `yaml:"fetch_timeout"`
	WatermarkText  string   `yaml:"watermark_text"`
}

type Config struct {
	Dev      bool           `yaml:"dev"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Security SecurityConfig `yaml:"security"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Render   RenderConfig   `yaml:"render"`
}

// Default returns the configuration used when no file is given. Every
// threshold here is a tunable heuristic, not derived law.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.MetricsAddr = ":9090"
	cfg.Server.PublicBaseURL = "http://localhost:8080/artifacts"
	cfg.Server.ShutdownTimeout = Duration(10 * time.Second)

	cfg.Storage.Backend = "filesystem"
	cfg.Storage.BasePath = "./data/artifacts"

	cfg.Cache.Backend = "memory"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.DefaultTTL = Duration(24 * time.Hour)
	cfg.Cache.CleanupEvery = Duration(10 * time.Minute)
	cfg.Cache.StatsTopN = 10

	cfg.Security.Backend = "memory"
	cfg.Security.RateLimitPerMinute = 20
	cfg.Security.MaxFileSize = 50 * 1024 * 1024
	cfg.Security.RiskScoreThreshold = 50
	cfg.Security.AllowedTypes = []string{
		"image/jpeg", "image/png", "image/gif", "image/webp", "image/svg+xml",
		"application/pdf", "text/plain", "text/csv", "application/json",
	}
	cfg.Security.Weights = ViolationWeights{
		RateLimit:   50,
		FileSize:    20,
		ContentType: 25,
		Filename:    60,
		UserAgent:   15,
		Blocklist:   60,
		WAFMatch:    30,
	}

	cfg.Scanner.MaxInputBytes = 50 * 1024 * 1024
	cfg.Scanner.MaxDimension = 16384
	cfg.Scanner.MaxPixels = 64 * 1024 * 1024

	cfg.Render.MaxOutputBytes = 5 * 1024 * 1024
	cfg.Render.MaxConcurrent = 4
	cfg.Render.Timeout = Duration(30 * time.Second)
	cfg.Render.FetchTimeout = Duration(15 * time.Second)
	cfg.Render.WatermarkText = "PREVIEW"

	return cfg
}

// Load reads the YAML file at path (skipped when empty) over the
// defaults, then applies PREVIEWD_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PREVIEWD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PREVIEWD_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("PREVIEWD_PUBLIC_BASE_URL"); v != "" {
		cfg.Server.PublicBaseURL = v
	}
	if v := os.Getenv("PREVIEWD_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("PREVIEWD_STORAGE_PATH"); v != "" {
		cfg.Storage.BasePath = v
	}
	if v := os.Getenv("PREVIEWD_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("PREVIEWD_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("PREVIEWD_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("PREVIEWD_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("PREVIEWD_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("PREVIEWD_SECURITY_BACKEND"); v != "" {
		cfg.Security.Backend = v
	}
	if v := os.Getenv("PREVIEWD_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PREVIEWD_DEV"); v != "" {
		cfg.Dev = v == "1" || v == "true"
	}
}
