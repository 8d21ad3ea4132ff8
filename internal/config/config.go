package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = "8080"
	defaultEnv             = "production"
	defaultAllowedOrigin   = "http://localhost:5173"
	defaultRateLimitRPS    = 25.0
	defaultRateLimitBurst  = 50
	defaultMaxRequestBytes = 10 << 20
	defaultMaxImageBytes   = 8 << 20
	defaultCacheSize       = 256
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Host                 string
	Port                 string
	Env                  string
	LogLevel             string
	AllowedOrigins       []string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	EnableMetrics        bool
	RateLimitRPS         float64
	RateLimitBurst       int
	MaxRequestBytes      int64
	MaxImageBytes        int64
	Analyzer             AnalyzerConfig
	Cache                CacheConfig
}

// AnalyzerConfig points the calculator at the service that reads drawings.
type AnalyzerConfig struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// CacheConfig selects and sizes the result cache. A non-empty RedisAddr
// switches from the in-process LRU to Redis.
type CacheConfig struct {
	Size          int
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool {
	return strings.EqualFold(c.Env, "dev") || strings.EqualFold(c.Env, "development")
}

// Addr joins Host and Port into a listen address.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return c.Host + ":" + c.Port
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Host                 string        `yaml:"host"`
	Port                 string        `yaml:"port"`
	Env                  string        `yaml:"env"`
	LogLevel             string        `yaml:"log_level"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	EnableMetrics        *bool         `yaml:"enable_metrics"`
	MaxRequestBytes      int64         `yaml:"max_request_bytes"`
	MaxImageBytes        int64         `yaml:"max_image_bytes"`
	CORS                 yamlCORS      `yaml:"cors"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
	Analyzer             yamlAnalyzer  `yaml:"analyzer"`
	Cache                yamlCache     `yaml:"cache"`
}

type yamlCORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

type yamlAnalyzer struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Timeout    string `yaml:"timeout"`
	MaxRetries *int   `yaml:"max_retries"`
}

type yamlCache struct {
	Size          *int   `yaml:"size"`
	TTL           string `yaml:"ttl"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       *int   `yaml:"redis_db"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Host           *string
	Port           *string
	Env            *string
	AllowedOrigins []string
	AnalyzerURL    *string
	RedisAddr      *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment: %w", err)
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		Env:                  defaultEnv,
		LogLevel:             "",
		AllowedOrigins:       []string{defaultAllowedOrigin},
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         60 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		EnableMetrics:        true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		MaxRequestBytes:      defaultMaxRequestBytes,
		MaxImageBytes:        defaultMaxImageBytes,
		Analyzer: AnalyzerConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		Cache: CacheConfig{
			Size: defaultCacheSize,
			TTL:  10 * time.Minute,
		},
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Host != "" {
		cfg.Host = yamlCfg.Host
	}
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}
	if yamlCfg.Env != "" {
		cfg.Env = yamlCfg.Env
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
		{"analyzer.timeout", yamlCfg.Analyzer.Timeout, &cfg.Analyzer.Timeout},
		{"cache.ttl", yamlCfg.Cache.TTL, &cfg.Cache.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.EnableMetrics != nil {
		cfg.EnableMetrics = *yamlCfg.EnableMetrics
	}
	if yamlCfg.MaxRequestBytes > 0 {
		cfg.MaxRequestBytes = yamlCfg.MaxRequestBytes
	}
	if yamlCfg.MaxImageBytes > 0 {
		cfg.MaxImageBytes = yamlCfg.MaxImageBytes
	}
	if len(yamlCfg.CORS.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = yamlCfg.CORS.AllowedOrigins
	}

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	if yamlCfg.Analyzer.URL != "" {
		cfg.Analyzer.URL = yamlCfg.Analyzer.URL
	}
	if yamlCfg.Analyzer.APIKey != "" {
		cfg.Analyzer.APIKey = yamlCfg.Analyzer.APIKey
	}
	if yamlCfg.Analyzer.MaxRetries != nil {
		cfg.Analyzer.MaxRetries = *yamlCfg.Analyzer.MaxRetries
	}

	if yamlCfg.Cache.Size != nil {
		cfg.Cache.Size = *yamlCfg.Cache.Size
	}
	if yamlCfg.Cache.RedisAddr != "" {
		cfg.Cache.RedisAddr = yamlCfg.Cache.RedisAddr
	}
	if yamlCfg.Cache.RedisPassword != "" {
		cfg.Cache.RedisPassword = yamlCfg.Cache.RedisPassword
	}
	if yamlCfg.Cache.RedisDB != nil {
		cfg.Cache.RedisDB = *yamlCfg.Cache.RedisDB
	}

	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if host := env("SERVER_URL"); host != "" {
		cfg.Host = host
	}
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}
	if e := env("ENV"); e != "" {
		cfg.Env = e
	}
	if level := env("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if origins := env("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		value, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = value
	}
	if err := envInt("RATE_LIMIT_BURST", &cfg.RateLimitBurst); err != nil {
		return err
	}
	if raw := env("METRICS_ENABLED"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("METRICS_ENABLED: %w", err)
		}
		cfg.EnableMetrics = enabled
	}
	if err := envInt64("MAX_REQUEST_BYTES", &cfg.MaxRequestBytes); err != nil {
		return err
	}
	if err := envInt64("MAX_IMAGE_BYTES", &cfg.MaxImageBytes); err != nil {
		return err
	}

	if u := env("ANALYZER_URL"); u != "" {
		cfg.Analyzer.URL = u
	}
	if key := env("ANALYZER_API_KEY"); key != "" {
		cfg.Analyzer.APIKey = key
	}
	if err := envDuration("ANALYZER_TIMEOUT", &cfg.Analyzer.Timeout); err != nil {
		return err
	}
	if err := envInt("ANALYZER_MAX_RETRIES", &cfg.Analyzer.MaxRetries); err != nil {
		return err
	}

	if err := envInt("CACHE_SIZE", &cfg.Cache.Size); err != nil {
		return err
	}
	if err := envDuration("CACHE_TTL", &cfg.Cache.TTL); err != nil {
		return err
	}
	if addr := env("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if pw := env("REDIS_PASSWORD"); pw != "" {
		cfg.Cache.RedisPassword = pw
	}
	return envInt("REDIS_DB", &cfg.Cache.RedisDB)
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Host != nil && *overrides.Host != "" {
		cfg.Host = *overrides.Host
	}
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.Env != nil && *overrides.Env != "" {
		cfg.Env = *overrides.Env
	}
	if len(overrides.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = overrides.AllowedOrigins
	}
	if overrides.AnalyzerURL != nil && *overrides.AnalyzerURL != "" {
		cfg.Analyzer.URL = *overrides.AnalyzerURL
	}
	if overrides.RedisAddr != nil && *overrides.RedisAddr != "" {
		cfg.Cache.RedisAddr = *overrides.RedisAddr
	}
	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if len(cfg.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid allowed origin %q", origin)
		}
	}
	if cfg.MaxRequestBytes <= 0 || cfg.MaxImageBytes <= 0 {
		return fmt.Errorf("request and image size limits must be positive")
	}
	if cfg.MaxImageBytes > cfg.MaxRequestBytes {
		return fmt.Errorf("max image bytes (%d) exceeds max request bytes (%d)", cfg.MaxImageBytes, cfg.MaxRequestBytes)
	}
	if cfg.Analyzer.URL != "" {
		u, err := url.Parse(cfg.Analyzer.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("analyzer URL must be an http(s) URL, got %q", cfg.Analyzer.URL)
		}
	}
	if cfg.Analyzer.Timeout <= 0 {
		return fmt.Errorf("analyzer timeout must be positive")
	}
	if cfg.WriteTimeout > 0 && cfg.Analyzer.Timeout >= cfg.WriteTimeout {
		return fmt.Errorf("analyzer timeout (%s) must be shorter than the write timeout (%s)", cfg.Analyzer.Timeout, cfg.WriteTimeout)
	}
	if cfg.Analyzer.MaxRetries < 0 {
		return fmt.Errorf("analyzer max retries must be >= 0")
	}
	if cfg.Cache.Size < 0 {
		return fmt.Errorf("cache size must be >= 0")
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string, dst *int) error {
	raw := env(key)
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = value
	return nil
}

func envInt64(key string, dst *int64) error {
	raw := env(key)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = value
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := env(key)
	if raw == "" {
		return nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = value
	return nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
