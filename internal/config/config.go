package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

// VisionConfig configures the external weight-inference backend and the
// analysis options that participate in the cache fingerprint.
type VisionConfig struct {
	Endpoint      string
	APIKey        string
	ModelID       string
	EnsembleSize  int
	// MaxEnsembleSize bounds the per-request ensemble override; each sample
	// is one inference call.
	MaxEnsembleSize int
	MinConfidence   float64
	Timeout         time.Duration
}

type OverloadConfig struct {
	// DefaultToleranceKg applies when a vehicle master row carries no
	// tolerance of its own.
	DefaultToleranceKg float64
}

type CacheConfig struct {
	MaxEntries int
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Vision      VisionConfig
	Overload    OverloadConfig
	Cache       CacheConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Vision: VisionConfig{
			Endpoint:        v.GetString("VISION_ENDPOINT"),
			APIKey:          v.GetString("VISION_API_KEY"),
			ModelID:         v.GetString("VISION_MODEL_ID"),
			EnsembleSize:    v.GetInt("VISION_ENSEMBLE_SIZE"),
			MaxEnsembleSize: v.GetInt("VISION_MAX_ENSEMBLE_SIZE"),
			MinConfidence:   v.GetFloat64("VISION_MIN_CONFIDENCE"),
			Timeout:         v.GetDuration("VISION_TIMEOUT"),
		},
		Overload: OverloadConfig{
			DefaultToleranceKg: v.GetFloat64("OVERLOAD_TOLERANCE_KG"),
		},
		Cache: CacheConfig{
			MaxEntries: v.GetInt("CACHE_MAX_ENTRIES"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Vision.ModelID == "" {
		cfg.Vision.ModelID = "gemini-flash"
	}
	if cfg.Vision.EnsembleSize == 0 {
		cfg.Vision.EnsembleSize = 1
	}
	if cfg.Vision.MaxEnsembleSize == 0 {
		cfg.Vision.MaxEnsembleSize = 10
	}
	if cfg.Vision.Timeout == 0 {
		cfg.Vision.Timeout = 60 * time.Second
	}
	if cfg.Overload.DefaultToleranceKg == 0 {
		cfg.Overload.DefaultToleranceKg = 200
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 4096
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Vision.Endpoint == "" {
		return fmt.Errorf("VISION_ENDPOINT is required")
	}
	if cfg.Vision.EnsembleSize < 1 {
		return fmt.Errorf("VISION_ENSEMBLE_SIZE must be >= 1")
	}
	if cfg.Vision.MaxEnsembleSize < cfg.Vision.EnsembleSize {
		return fmt.Errorf("VISION_MAX_ENSEMBLE_SIZE must be >= VISION_ENSEMBLE_SIZE")
	}
	if cfg.Vision.MinConfidence < 0 || cfg.Vision.MinConfidence > 1 {
		return fmt.Errorf("VISION_MIN_CONFIDENCE must be within [0,1]")
	}
	if cfg.Overload.DefaultToleranceKg < 0 {
		return fmt.Errorf("OVERLOAD_TOLERANCE_KG must not be negative")
	}
	return nil
}
