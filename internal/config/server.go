package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ServerConfig configures the reference metadata service.
type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"FLAVORSYNC_SERVER_ADDR"             env-default:":8080"`
	JWTSecret       string        `yaml:"jwt_secret"       env:"FLAVORSYNC_SERVER_JWT_SECRET"       env-required:"true"`
	DatabaseDSN     string        `yaml:"database_dsn"     env:"FLAVORSYNC_SERVER_DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"        env:"FLAVORSYNC_SERVER_MAX_CONNS"        env-default:"10"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"FLAVORSYNC_SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"FLAVORSYNC_SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"FLAVORSYNC_SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	Verbose         bool          `yaml:"verbose"          env:"FLAVORSYNC_SERVER_VERBOSE"`
}

// LoadServer reads the server configuration. Priority: ENV > YAML > defaults.
// The YAML file is read only when path is non-empty.
func LoadServer(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if len(cfg.JWTSecret) < 16 {
		return nil, errors.New("config: jwt_secret must be at least 16 bytes")
	}
	if cfg.MaxConns <= 0 {
		return nil, fmt.Errorf("config: max_conns %d must be positive", cfg.MaxConns)
	}
	return &cfg, nil
}
