// Package config loads curator settings from defaults, an optional TOML file,
// a .env file and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Server contains HTTP listener and authentication settings.
type Server struct {
	Addr                   string   `toml:"addr"`
	JWTSecret              string   `toml:"jwt_secret"`
	CORSOrigins            []string `toml:"cors_origins"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// Model contains the hosted language model connection.
type Model struct {
	APIKey         string `toml:"api_key"`
	Endpoint       string `toml:"endpoint"`
	Name           string `toml:"name"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Store contains the database connection and the trusted service credential.
type Store struct {
	URL          string `toml:"url"`
	ServiceKey   string `toml:"service_key"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// Redis contains the realtime bus connection. An empty URL selects the in-process bus.
type Redis struct {
	URL string `toml:"url"`
}

// S3 contains object storage credentials.
type S3 struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// Storage selects where uploaded documents and mirrored thumbnails live.
type Storage struct {
	Backend  string `toml:"backend"`
	BasePath string `toml:"base_path"`
	S3       S3     `toml:"s3"`
}

// Pipeline contains enrichment tuning.
type Pipeline struct {
	ProcessTimeoutSeconds  int   `toml:"process_timeout_seconds"`
	FetchTimeoutSeconds    int   `toml:"fetch_timeout_seconds"`
	StaleAfterSeconds      int   `toml:"stale_after_seconds"`
	ReclaimIntervalSeconds int   `toml:"reclaim_interval_seconds"`
	MirrorThumbnails       bool  `toml:"mirror_thumbnails"`
	MaxUploadBytes         int64 `toml:"max_upload_bytes"`
}

// Tracing contains OpenTelemetry export settings.
type Tracing struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Log contains log output settings.
type Log struct {
	Level string `toml:"level"`
}

// Config encapsulates all configuration values for curator.
type Config struct {
	Server   Server   `toml:"server"`
	Model    Model    `toml:"model"`
	Store    Store    `toml:"store"`
	Redis    Redis    `toml:"redis"`
	Storage  Storage  `toml:"storage"`
	Pipeline Pipeline `toml:"pipeline"`
	Tracing  Tracing  `toml:"tracing"`
	Log      Log      `toml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:                   ":8080",
			CORSOrigins:            []string{"*"},
			ShutdownTimeoutSeconds: 30,
		},
		Model: Model{
			Endpoint:       "https://generativelanguage.googleapis.com/v1beta",
			Name:           "gemini-2.0-flash",
			TimeoutSeconds: 60,
		},
		Store: Store{
			MaxOpenConns: 25,
		},
		Storage: Storage{
			Backend:  "filesystem",
			BasePath: "./storage",
		},
		Pipeline: Pipeline{
			ProcessTimeoutSeconds:  120,
			FetchTimeoutSeconds:    15,
			StaleAfterSeconds:      600,
			ReclaimIntervalSeconds: 60,
			MaxUploadBytes:         5 * 1024 * 1024,
		},
		Tracing: Tracing{
			Insecure:    true,
			SampleRatio: 1,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load builds the configuration. path names an optional TOML file; a missing
// file is not an error. A .env file in the working directory is loaded into the
// environment before environment overrides are applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv copies variables from files into the environment without
// overriding ones that are already set.
func loadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Model.APIKey, "MODEL_API_KEY", "GEMINI_API_KEY")
	setString(&c.Model.Endpoint, "MODEL_ENDPOINT")
	setString(&c.Model.Name, "MODEL_NAME")
	setString(&c.Store.URL, "STORE_URL", "DATABASE_URL")
	setString(&c.Store.ServiceKey, "STORE_SERVICE_KEY")
	setString(&c.Server.JWTSecret, "JWT_SECRET")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.BasePath, "STORAGE_BASE_PATH")
	setString(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.S3.Region, "S3_REGION")
	setString(&c.Storage.S3.Bucket, "S3_BUCKET")
	setString(&c.Storage.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Storage.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	setString(&c.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Log.Level, "LOG_LEVEL")

	if port, ok := lookup("PORT"); ok {
		c.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	if origins, ok := lookup("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(origins)
	}

	if err := setBool(&c.Storage.S3.UsePathStyle, "S3_USE_PATH_STYLE"); err != nil {
		return err
	}
	if err := setBool(&c.Tracing.Enabled, "TRACING_ENABLED"); err != nil {
		return err
	}
	if err := setBool(&c.Pipeline.MirrorThumbnails, "MIRROR_THUMBNAILS"); err != nil {
		return err
	}
	if err := setInt(&c.Pipeline.ProcessTimeoutSeconds, "PROCESS_TIMEOUT_SECONDS"); err != nil {
		return err
	}
	return setInt(&c.Pipeline.StaleAfterSeconds, "STALE_AFTER_SECONDS")
}

func (c *Config) normalize() {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	if c.Server.Addr == "" {
		c.Server.Addr = Default().Server.Addr
	}
	c.Model.Endpoint = strings.TrimRight(strings.TrimSpace(c.Model.Endpoint), "/")
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// Validate ensures the configuration is internally consistent. Settings that
// only some commands need are checked by RequireServe and RequireModel.
func (c *Config) Validate() error {
	if c.Store.URL == "" {
		return errors.New("store.url is required (set STORE_URL or DATABASE_URL)")
	}
	switch c.Storage.Backend {
	case "filesystem", "fs":
		if c.Storage.BasePath == "" {
			return errors.New("storage.base_path is required for the filesystem backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" || c.Storage.S3.Region == "" {
			return errors.New("storage.s3.bucket and storage.s3.region are required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of filesystem, s3", c.Storage.Backend)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Pipeline.ProcessTimeoutSeconds <= 0 {
		return errors.New("pipeline.process_timeout_seconds must be positive")
	}
	if c.Pipeline.StaleAfterSeconds <= 0 || c.Pipeline.ReclaimIntervalSeconds <= 0 {
		return errors.New("pipeline.stale_after_seconds and pipeline.reclaim_interval_seconds must be positive")
	}
	if c.Pipeline.MaxUploadBytes <= 0 {
		return errors.New("pipeline.max_upload_bytes must be positive")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// RequireModel checks the settings needed to call the model.
func (c *Config) RequireModel() error {
	if c.Model.APIKey == "" {
		return errors.New("model.api_key is required (set MODEL_API_KEY or GEMINI_API_KEY)")
	}
	if c.Model.Endpoint == "" {
		return errors.New("model.endpoint is required")
	}
	return nil
}

// RequireServe checks the settings needed to run the API server.
func (c *Config) RequireServe() error {
	if err := c.RequireModel(); err != nil {
		return err
	}
	if c.Server.JWTSecret == "" && c.Store.ServiceKey == "" {
		return errors.New("server.jwt_secret or store.service_key is required to authenticate requests")
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
}

// ProcessTimeout bounds one asynchronous enrichment.
func (c *Config) ProcessTimeout() time.Duration {
	return seconds(c.Pipeline.ProcessTimeoutSeconds)
}

// FetchTimeout bounds one page fetch.
func (c *Config) FetchTimeout() time.Duration {
	return seconds(c.Pipeline.FetchTimeoutSeconds)
}

// StaleAfter is how long a record may stay processing before it is reclaimed.
func (c *Config) StaleAfter() time.Duration {
	return seconds(c.Pipeline.StaleAfterSeconds)
}

// ReclaimInterval is how often the server looks for stale records.
func (c *Config) ReclaimInterval() time.Duration {
	return seconds(c.Pipeline.ReclaimIntervalSeconds)
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.Server.ShutdownTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// setString assigns the first non-empty variable among keys
func setString(target *string, keys ...string) {
	for _, key := range keys {
		if value, ok := lookup(key); ok {
			*target = value
			return
		}
	}
}

func setBool(target *bool, key string) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}

func setInt(target *int, key string) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
