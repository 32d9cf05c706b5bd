package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	RetentionCount     = "count"
	RetentionSize      = "size"
	RetentionUnbounded = "unbounded"
)

const (
	DefaultListenAddr     = "127.0.0.1:41830"
	DefaultDisplayLimit   = 6
	DefaultKeepCount      = 6
	DefaultPresignTTL     = time.Hour
	DefaultRequestTimeout = 30 * time.Second
	DefaultCameraTimeout  = 30 * time.Second
	DefaultMaxUploadBytes = 10 << 20
)

const bytesPerGB = 1 << 30

type Config struct {
	ListenAddr     string          `toml:"listen_addr"`
	AllowRemote    bool            `toml:"allow_remote"`
	AuthTokens     string          `toml:"auth_tokens"`
	RequestTimeout Duration        `toml:"request_timeout"`
	DisplayLimit   int             `toml:"display_limit"`
	CameraTimeout  Duration        `toml:"camera_timeout"`
	MaxUploadBytes int64           `toml:"max_upload_bytes"`
	S3             S3Config        `toml:"s3"`
	Local          LocalConfig     `toml:"local"`
	Retention      RetentionConfig `toml:"retention"`
	Registry       RegistryConfig  `toml:"registry"`
	Log            LogConfig       `toml:"log"`
}

type S3Config struct {
	Endpoint     string   `toml:"endpoint"`
	Region       string   `toml:"region"`
	Bucket       string   `toml:"bucket"`
	Prefix       string   `toml:"prefix"`
	AccessKey    string   `toml:"access_key"`
	SecretKey    string   `toml:"secret_key"`
	UsePathStyle bool     `toml:"use_path_style"`
	PresignTTL   Duration `toml:"presign_ttl"`
}

// LocalConfig configures the filesystem backend used when no bucket is set.
type LocalConfig struct {
	RootDir    string `toml:"root_dir"`
	BaseURL    string `toml:"base_url"`
	SigningKey string `toml:"signing_key"`
}

type RetentionConfig struct {
	Mode               string  `toml:"mode"`
	KeepCount          int     `toml:"keep_count"`
	MaxTotalBytes      int64   `toml:"max_total_bytes"`
	MaxStorageGB       float64 `toml:"max_storage_gb"`
	SerializePerCamera bool    `toml:"serialize_per_camera"`

	// SweepInterval runs a retention pass over every registered camera.
	// Zero disables the sweep.
	SweepInterval Duration `toml:"sweep_interval"`
}

type RegistryConfig struct {
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	AutoRegister bool   `toml:"auto_register"`
	DefaultOwner string `toml:"default_owner"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration decodes TOML strings such as "30s" or "1h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     DefaultListenAddr,
		RequestTimeout: Duration{DefaultRequestTimeout},
		DisplayLimit:   DefaultDisplayLimit,
		CameraTimeout:  Duration{DefaultCameraTimeout},
		MaxUploadBytes: DefaultMaxUploadBytes,
		S3: S3Config{
			PresignTTL: Duration{DefaultPresignTTL},
		},
		Retention: RetentionConfig{
			Mode:      RetentionCount,
			KeepCount: DefaultKeepCount,
		},
		Registry: RegistryConfig{
			Driver:       "sqlite3",
			DefaultOwner: "admin",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	// keep_count defaults to 6, so a size or unbounded budget must not inherit it.
	mode := strings.ToLower(strings.TrimSpace(cfg.Retention.Mode))
	if mode != "" && mode != RetentionCount && !md.IsDefined("retention", "keep_count") {
		cfg.Retention.KeepCount = 0
	}
	// display_limit = 0 lists every snapshot; only an omitted value takes the default.
	showAll := md.IsDefined("display_limit") && cfg.DisplayLimit == 0

	cfg.ExpandEnv()
	cfg.ApplyDefaults()
	if showAll {
		cfg.DisplayLimit = 0
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ExpandEnv resolves ${VAR} references so secrets can live in the
// environment or a .env file instead of the config file.
func (c *Config) ExpandEnv() {
	c.AuthTokens = os.ExpandEnv(c.AuthTokens)
	c.S3.Endpoint = os.ExpandEnv(c.S3.Endpoint)
	c.S3.Region = os.ExpandEnv(c.S3.Region)
	c.S3.Bucket = os.ExpandEnv(c.S3.Bucket)
	c.S3.AccessKey = os.ExpandEnv(c.S3.AccessKey)
	c.S3.SecretKey = os.ExpandEnv(c.S3.SecretKey)
	c.Local.SigningKey = os.ExpandEnv(c.Local.SigningKey)
	c.Registry.DSN = os.ExpandEnv(c.Registry.DSN)
}

func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if c.DisplayLimit == 0 {
		c.DisplayLimit = DefaultDisplayLimit
	}
	if c.CameraTimeout.Duration == 0 {
		c.CameraTimeout.Duration = DefaultCameraTimeout
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.S3.PresignTTL.Duration == 0 {
		c.S3.PresignTTL.Duration = DefaultPresignTTL
	}
	if c.Retention.Mode == "" {
		c.Retention.Mode = RetentionCount
	}
	if strings.EqualFold(c.Retention.Mode, RetentionSize) && c.Retention.MaxTotalBytes == 0 && c.Retention.MaxStorageGB > 0 {
		c.Retention.MaxTotalBytes = int64(c.Retention.MaxStorageGB * bytesPerGB)
	}
	if c.Registry.Driver == "" {
		c.Registry.Driver = "sqlite3"
	}
	if c.Registry.DefaultOwner == "" {
		c.Registry.DefaultOwner = "admin"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.Retention.Mode = strings.ToLower(strings.TrimSpace(c.Retention.Mode))
	c.Registry.Driver = strings.ToLower(strings.TrimSpace(c.Registry.Driver))
	c.Registry.DefaultOwner = strings.TrimSpace(c.Registry.DefaultOwner)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.S3.Bucket = strings.TrimSpace(c.S3.Bucket)
	c.S3.Region = strings.TrimSpace(c.S3.Region)
	c.S3.Endpoint = strings.TrimSpace(c.S3.Endpoint)
	if c.S3.Prefix != "" && !strings.HasSuffix(c.S3.Prefix, "/") {
		c.S3.Prefix += "/"
	}
	c.Local.BaseURL = strings.TrimRight(strings.TrimSpace(c.Local.BaseURL), "/")
}

func (c *Config) Validate() error {
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	if c.DisplayLimit < 0 {
		return errors.New("display_limit must be >= 0")
	}
	if c.RequestTimeout.Duration < 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.Retention.SweepInterval.Duration < 0 {
		return errors.New("retention sweep_interval must be >= 0")
	}
	if c.MaxUploadBytes < 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		return errors.New("s3 region is required when s3 bucket is set")
	}
	if c.S3.PresignTTL.Duration < time.Second || c.S3.PresignTTL.Duration > 7*24*time.Hour {
		return errors.New("s3 presign_ttl must be between 1s and 168h")
	}
	switch c.Registry.Driver {
	case "sqlite3", "postgres":
	default:
		return errors.New("registry driver must be sqlite3 or postgres")
	}
	if c.Registry.Driver == "postgres" && strings.TrimSpace(c.Registry.DSN) == "" {
		return errors.New("registry dsn is required for postgres")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log level must be debug, info, warn, or error")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.New("log format must be console or json")
	}
	return nil
}

// Validate enforces that exactly one budget is configured for the mode.
func (r RetentionConfig) Validate() error {
	switch r.Mode {
	case RetentionCount:
		if r.KeepCount <= 0 {
			return errors.New("retention keep_count must be > 0")
		}
		if r.MaxTotalBytes != 0 || r.MaxStorageGB != 0 {
			return errors.New("retention mode count does not accept max_total_bytes or max_storage_gb")
		}
	case RetentionSize:
		if r.KeepCount != 0 {
			return errors.New("retention mode size does not accept keep_count")
		}
		if r.MaxTotalBytes <= 0 {
			return errors.New("retention max_total_bytes (or max_storage_gb) must be > 0")
		}
	case RetentionUnbounded:
		if r.KeepCount != 0 || r.MaxTotalBytes != 0 || r.MaxStorageGB != 0 {
			return errors.New("retention mode unbounded does not accept a budget")
		}
	default:
		return errors.New("retention mode must be count, size, or unbounded")
	}
	return nil
}
