// Package config loads and validates the flavorsync configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/flavordex/flavorsync/internal/store"
)

// Config holds the client configuration loaded from YAML. Secrets may be
// supplied through the environment instead of the file.
type Config struct {
	// APIURL is the base URL of the metadata service (e.g. "https://sync.example.com").
	APIURL string `yaml:"api_url" env:"FLAVORSYNC_API_URL"`

	// ClientID identifies this device to the service.
	ClientID string `yaml:"client_id" env:"FLAVORSYNC_CLIENT_ID"`

	// Token is a pre-issued bearer token. Mutually exclusive with Secret.
	Token string `yaml:"token" env:"FLAVORSYNC_TOKEN"`

	// Secret is the shared HMAC key used to mint device tokens locally.
	Secret string `yaml:"secret" env:"FLAVORSYNC_SECRET"`

	// TokenTTL is the lifetime of minted tokens. Defaults to 1h.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// DBPath is the journal database. Defaults to
	// ~/.local/share/flavorsync/flavordex.db.
	DBPath string `yaml:"db_path" env:"FLAVORSYNC_DB_PATH"`

	// PhotoDir receives downloaded photos. Defaults to <db dir>/photos.
	PhotoDir string `yaml:"photo_dir"`

	// ThumbDir holds cached thumbnails. Defaults to <db dir>/thumbnails.
	ThumbDir string `yaml:"thumb_dir"`

	// ThumbSize is the thumbnail edge length in pixels. Defaults to 256.
	ThumbSize int `yaml:"thumb_size"`

	// PollInterval controls how often a sync cycle runs.
	// Minimum 30s, maximum 24h. Defaults to 5m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PhotoValidateInterval is how often blob ids are checked against the
	// blob store listing. Defaults to 24h; negative disables validation.
	PhotoValidateInterval time.Duration `yaml:"photo_validate_interval"`

	// HTTPTimeout bounds each request to the metadata service. Defaults to 30s.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Photos configures the S3-compatible blob store. Leave bucket empty to
	// disable photo sync.
	Photos PhotosConfig `yaml:"photos"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// PhotosConfig holds blob store settings.
type PhotosConfig struct {
	Bucket string `yaml:"bucket" env:"FLAVORSYNC_S3_BUCKET"`
	Region string `yaml:"region" env:"FLAVORSYNC_S3_REGION"`

	// Endpoint overrides the S3 endpoint for MinIO and similar services.
	Endpoint string `yaml:"endpoint" env:"FLAVORSYNC_S3_ENDPOINT"`

	AccessKey string `yaml:"access_key" env:"FLAVORSYNC_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"FLAVORSYNC_S3_SECRET_KEY"`
}

// Enabled reports whether photo sync is configured.
func (p PhotosConfig) Enabled() bool {
	return p.Bucket != ""
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "flavorsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Dir returns the default configuration directory: ~/.config/flavorsync.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "flavorsync"), nil
}

// DefaultPath returns the default config file path: ~/.config/flavorsync/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the configuration file at the given path, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cleanenv.UpdateEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := cfg.validate(path); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks required fields and fills in defaults. Relative paths
// resolve against the config file's directory.
func (c *Config) validate(path string) error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	u, err := url.ParseRequestURI(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api_url %q must be a valid http or https URL", c.APIURL)
	}

	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	switch {
	case c.Token == "" && c.Secret == "":
		return errors.New("one of token or secret is required")
	case c.Token != "" && c.Secret != "":
		return errors.New("token and secret are mutually exclusive")
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
	if c.TokenTTL < 2*time.Minute {
		return fmt.Errorf("token_ttl %v is too short (minimum 2m)", c.TokenTTL)
	}

	base := filepath.Dir(path)
	if c.DBPath == "" {
		dbPath, err := store.DefaultDBPath()
		if err != nil {
			return err
		}
		c.DBPath = dbPath
	}
	c.DBPath = resolve(base, c.DBPath)
	dataDir := filepath.Dir(c.DBPath)
	if c.PhotoDir == "" {
		c.PhotoDir = filepath.Join(dataDir, "photos")
	}
	c.PhotoDir = resolve(base, c.PhotoDir)
	if c.ThumbDir == "" {
		c.ThumbDir = filepath.Join(dataDir, "thumbnails")
	}
	c.ThumbDir = resolve(base, c.ThumbDir)
	if c.ThumbSize == 0 {
		c.ThumbSize = 256
	}
	if c.ThumbSize < 16 || c.ThumbSize > 2048 {
		return fmt.Errorf("thumb_size %d out of range (16-2048)", c.ThumbSize)
	}

	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.PollInterval < 30*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 30s)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	switch {
	case c.PhotoValidateInterval == 0:
		c.PhotoValidateInterval = 24 * time.Hour
	case c.PhotoValidateInterval < 0:
		c.PhotoValidateInterval = 0
	}

	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout %v must be positive", c.HTTPTimeout)
	}

	if c.Photos.Enabled() && c.Photos.Region == "" {
		c.Photos.Region = "us-east-1"
	}
	if (c.Photos.AccessKey == "") != (c.Photos.SecretKey == "") {
		return errors.New("photos.access_key and photos.secret_key must be set together")
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
