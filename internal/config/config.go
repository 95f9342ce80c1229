package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8502"`
	StorageDir string `env:"STORAGE_DIR" envDefault:"./storage"`

	// OTADir and AssetDir default to subdirectories of StorageDir when unset.
	OTADir   string `env:"OTA_DIR"`
	AssetDir string `env:"ASSET_DIR"`

	ReleasesURL string `env:"RELEASES_URL" envDefault:"https://worker.heywillow.io/api/release?format=was"`
	ConfigURL   string `env:"CONFIG_URL" envDefault:"https://worker.heywillow.io/api/config"`
	TZURL       string `env:"TZ_URL" envDefault:"https://worker.heywillow.io/api/asset?type=tz"`
	ModelsURL   string `env:"MODELS_URL" envDefault:"https://worker.heywillow.io/api/model"`

	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string  `env:"AUTH_TOKEN"`
	CORSOrigins    string  `env:"CORS_ORIGINS" envDefault:"*"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"auto"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	ListenAddr string
	StorageDir string
	LogLevel   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.ListenAddr != "" {
		cfg.ListenAddr = overrides.ListenAddr
	}
	if overrides.StorageDir != "" {
		cfg.StorageDir = overrides.StorageDir
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	if cfg.OTADir == "" {
		cfg.OTADir = filepath.Join(cfg.StorageDir, "ota")
	}
	if cfg.AssetDir == "" {
		cfg.AssetDir = filepath.Join(cfg.StorageDir, "asset")
	}

	if cfg.RateLimitRPS <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_RPS must be positive, got %v", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_BURST must be positive, got %v", cfg.RateLimitBurst)
	}

	return cfg, nil
}

// StorePath is the location of the embedded settings database.
func (c *Config) StorePath() string {
	return filepath.Join(c.StorageDir, "roost.db")
}

// TZCachePath is where the upstream timezone table is cached on disk.
func (c *Config) TZCachePath() string {
	return filepath.Join(c.StorageDir, "tz.json")
}
