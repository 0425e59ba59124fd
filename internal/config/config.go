package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the YAML config file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	ModelGenURL            string `yaml:"modelGenURL"`
	GenerateTimeoutSeconds int    `yaml:"generateTimeoutSeconds"`

	CleanupConcurrency int `yaml:"cleanupConcurrency"`
	CleanupMaxRetries  int `yaml:"cleanupMaxRetries"`

	AllowedOrigins    string `yaml:"allowedOrigins"`
	TrustedProxyCidrs string `yaml:"trustedProxyCidrs"`

	UsersRateLimitPerMinute    int `yaml:"usersRateLimitPerMinute"`
	GenerateRateLimitPerMinute int `yaml:"generateRateLimitPerMinute"`
	WrapRateLimitPerMinute     int `yaml:"wrapRateLimitPerMinute"`
	ClaimRateLimitPerMinute    int `yaml:"claimRateLimitPerMinute"`
	CleanupRateLimitPerMinute  int `yaml:"cleanupRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if v := os.Getenv("GIFTPOOL_MODEL_GEN_URL"); v != "" {
		cfg.ModelGenURL = v
	}
	if v := os.Getenv("GIFTPOOL_GENERATE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GenerateTimeoutSeconds = n
		}
	}
	if v := os.Getenv("GIFTPOOL_CLEANUP_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupConcurrency = n
		}
	}
	if v := os.Getenv("GIFTPOOL_CLEANUP_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupMaxRetries = n
		}
	}
	if v := os.Getenv("GIFTPOOL_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = v
	}
	if v := os.Getenv("GIFTPOOL_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCidrs = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Origins returns the parsed allowed-origins list.
func (c FileConfig) Origins() []string {
	return splitCSV(c.AllowedOrigins)
}

// TrustedProxies returns the parsed trusted proxy CIDR list.
func (c FileConfig) TrustedProxies() []string {
	return splitCSV(c.TrustedProxyCidrs)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.GenerateTimeoutSeconds < 0 {
		return errors.New("config: generateTimeoutSeconds must be >= 0")
	}
	if cfg.CleanupConcurrency < 0 {
		return errors.New("config: cleanupConcurrency must be >= 0")
	}
	if cfg.CleanupMaxRetries < 0 {
		return errors.New("config: cleanupMaxRetries must be >= 0")
	}
	return nil
}
