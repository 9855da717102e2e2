// Package config provides configuration management for Sentinel.
// It loads configuration from YAML files with sensible defaults and lets
// SENTINEL_* environment variables (optionally from a .env file) override it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all Sentinel configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CameraConfig holds frame source settings.
type CameraConfig struct {
	// Device is a capture index ("0") or a video file path.
	Device         string `yaml:"device"`
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	MirrorLive     bool   `yaml:"mirror_live"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
}

// DetectorConfig holds landmark sidecar settings.
type DetectorConfig struct {
	SidecarURL string `yaml:"sidecar_url"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	UploadDir string `yaml:"upload_dir"`
}

// StorageConfig holds report persistence settings.
type StorageConfig struct {
	// Backend is none, file or redis.
	Backend           string  `yaml:"backend"`
	DataDir           string  `yaml:"data_dir"`
	EncryptionEnabled bool    `yaml:"encryption_enabled"`
	RedisAddr         string  `yaml:"redis_addr"`
	RedisPassword     string  `yaml:"redis_password"`
	RedisKey          string  `yaml:"redis_key"`
	RedisMaxEntries   int     `yaml:"redis_max_entries"`
	IntervalMS        int     `yaml:"interval_ms"`
	MinScore          float64 `yaml:"min_score"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Camera: CameraConfig{
			Device:         "0",
			Width:          640,
			Height:         480,
			MirrorLive:     true,
			RetryBackoffMS: 500,
		},
		Detector: DetectorConfig{
			SidecarURL: "ws://127.0.0.1:8765/landmarks",
			TimeoutMS:  500,
		},
		Server: ServerConfig{
			Listen:    ":8000",
			UploadDir: filepath.Join(homeDir, ".local/share/sentinel/uploads"),
		},
		Storage: StorageConfig{
			Backend:           "file",
			DataDir:           filepath.Join(homeDir, ".local/share/sentinel"),
			EncryptionEnabled: false,
			RedisAddr:         "127.0.0.1:6379",
			RedisKey:          "sentinel:reports",
			RedisMaxEntries:   1000,
			IntervalMS:        1000,
			MinScore:          0.01,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, ".local/share/sentinel/sentinel.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// Try system config first
	if _, err := os.Stat("/etc/sentinel/sentinel.yaml"); err == nil {
		return Load("/etc/sentinel/sentinel.yaml")
	}

	// Try user config
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/sentinel/sentinel.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	// Return defaults
	return DefaultConfig(), nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// into the process environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// envOverride binds one SENTINEL_* variable to a config field.
type envOverride struct {
	name  string
	apply func(c *Config, value string) error
}

var envOverrides = []envOverride{
	{"SENTINEL_CAMERA_DEVICE", func(c *Config, v string) error { c.Camera.Device = v; return nil }},
	{"SENTINEL_CAMERA_WIDTH", intVar(func(c *Config) *int { return &c.Camera.Width })},
	{"SENTINEL_CAMERA_HEIGHT", intVar(func(c *Config) *int { return &c.Camera.Height })},
	{"SENTINEL_CAMERA_MIRROR_LIVE", boolVar(func(c *Config) *bool { return &c.Camera.MirrorLive })},
	{"SENTINEL_DETECTOR_URL", func(c *Config, v string) error { c.Detector.SidecarURL = v; return nil }},
	{"SENTINEL_DETECTOR_TIMEOUT_MS", intVar(func(c *Config) *int { return &c.Detector.TimeoutMS })},
	{"SENTINEL_LISTEN", func(c *Config, v string) error { c.Server.Listen = v; return nil }},
	{"SENTINEL_UPLOAD_DIR", func(c *Config, v string) error { c.Server.UploadDir = v; return nil }},
	{"SENTINEL_STORAGE_BACKEND", func(c *Config, v string) error { c.Storage.Backend = v; return nil }},
	{"SENTINEL_DATA_DIR", func(c *Config, v string) error { c.Storage.DataDir = v; return nil }},
	{"SENTINEL_ENCRYPTION", boolVar(func(c *Config) *bool { return &c.Storage.EncryptionEnabled })},
	{"SENTINEL_REDIS_ADDR", func(c *Config, v string) error { c.Storage.RedisAddr = v; return nil }},
	{"SENTINEL_REDIS_PASSWORD", func(c *Config, v string) error { c.Storage.RedisPassword = v; return nil }},
	{"SENTINEL_REDIS_KEY", func(c *Config, v string) error { c.Storage.RedisKey = v; return nil }},
	{"SENTINEL_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"SENTINEL_LOG_FILE", func(c *Config, v string) error { c.Logging.File = v; return nil }},
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// ApplyEnv overrides fields from SENTINEL_* environment variables.
func (c *Config) ApplyEnv() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", o.name, v, err)
		}
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Validate camera settings
	if c.Camera.Device == "" {
		return fmt.Errorf("camera device must be set")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.RetryBackoffMS < 0 {
		return fmt.Errorf("retry_backoff_ms must not be negative, got %d", c.Camera.RetryBackoffMS)
	}

	// Validate detector settings
	if !strings.HasPrefix(c.Detector.SidecarURL, "ws://") && !strings.HasPrefix(c.Detector.SidecarURL, "wss://") {
		return fmt.Errorf("invalid sidecar_url: %q (must be ws:// or wss://)", c.Detector.SidecarURL)
	}
	if c.Detector.TimeoutMS <= 0 {
		return fmt.Errorf("detector timeout_ms must be positive, got %d", c.Detector.TimeoutMS)
	}

	// Validate server settings
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must be set")
	}

	// Validate storage settings
	validBackends := map[string]bool{"none": true, "file": true, "redis": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s (must be none, file, or redis)", c.Storage.Backend)
	}
	if c.Storage.Backend == "redis" && c.Storage.RedisAddr == "" {
		return fmt.Errorf("redis_addr must be set for the redis backend")
	}
	if c.Storage.IntervalMS <= 0 {
		return fmt.Errorf("interval_ms must be positive, got %d", c.Storage.IntervalMS)
	}
	if c.Storage.MinScore < 0 || c.Storage.MinScore > 1 {
		return fmt.Errorf("min_score must be between 0 and 1, got %f", c.Storage.MinScore)
	}

	// Validate logging level
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	if _, err := strconv.Atoi(c.Camera.Device); err != nil {
		c.Camera.Device = ExpandPath(c.Camera.Device)
	}
	c.Server.UploadDir = ExpandPath(c.Server.UploadDir)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for uploads, storage and logging.
func (c *Config) EnsureDirectories() error {
	// Create upload directory
	if err := os.MkdirAll(c.Server.UploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	// Create storage directory
	if c.Storage.Backend == "file" {
		if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	// Create log directory
	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
