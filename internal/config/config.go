package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ckdtjq0011/saas-survey/internal/utils"
)

type Config struct {
	Server struct {
		Addr         string   `yaml:"addr"`
		ReadTimeout  string   `yaml:"read_timeout"`
		WriteTimeout string   `yaml:"write_timeout"`
		CORSOrigins  []string `yaml:"cors_origins"`
		TrustProxy   bool     `yaml:"trust_proxy"`
	} `yaml:"server"`
	Database struct {
		SQLitePath    string `yaml:"sqlite_path"`
		MigrationsDir string `yaml:"migrations_dir"`
		SnapshotPath  string `yaml:"snapshot_path"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		LockTTL  string `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Survey struct {
		StrictDescription bool `yaml:"strict_description"`
	} `yaml:"survey"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Load reads an optional .env file, then the YAML config at path, then
// SURVEY_* environment overrides. A missing YAML file yields defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = utils.SafeEnv("SURVEY_ADDR", cfg.Server.Addr)
	cfg.Server.CORSOrigins = utils.EnvList("SURVEY_CORS_ORIGINS", cfg.Server.CORSOrigins)
	cfg.Database.SQLitePath = utils.SafeEnv("SURVEY_SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Database.MigrationsDir = utils.SafeEnv("SURVEY_MIGRATIONS_DIR", cfg.Database.MigrationsDir)
	cfg.Redis.Addr = utils.SafeEnv("SURVEY_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Auth.JWTSecret = utils.SafeEnv("SURVEY_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Log.Level = utils.SafeEnv("SURVEY_LOG_LEVEL", cfg.Log.Level)
	if v, err := strconv.ParseBool(utils.SafeEnv("SURVEY_TRUST_PROXY", "")); err == nil {
		cfg.Server.TrustProxy = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// MetricsEnabled defaults to true when the key is absent.
func (c Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

// NewLogger builds a slog logger from the log section.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
