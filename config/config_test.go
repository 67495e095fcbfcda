package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MODEL_API_KEY", "GEMINI_API_KEY", "MODEL_ENDPOINT", "MODEL_NAME",
		"STORE_URL", "DATABASE_URL", "STORE_SERVICE_KEY", "JWT_SECRET", "REDIS_URL",
		"STORAGE_BACKEND", "STORAGE_BASE_PATH", "S3_ENDPOINT", "S3_REGION", "S3_BUCKET",
		"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_USE_PATH_STYLE",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "LOG_LEVEL", "PORT", "CORS_ORIGINS",
		"TRACING_ENABLED", "MIRROR_THUMBNAILS", "PROCESS_TIMEOUT_SECONDS", "STALE_AFTER_SECONDS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/curator")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("PORT", "9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.URL != "postgres://localhost/curator" {
		t.Errorf("store url = %q", cfg.Store.URL)
	}
	if cfg.Model.APIKey != "gemini-key" {
		t.Errorf("model api key = %q", cfg.Model.APIKey)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.ProcessTimeout() != 120*time.Second || cfg.StaleAfter() != 10*time.Minute {
		t.Errorf("unexpected pipeline durations %v %v", cfg.ProcessTimeout(), cfg.StaleAfter())
	}
	if cfg.Model.Endpoint != Default().Model.Endpoint {
		t.Errorf("endpoint = %q", cfg.Model.Endpoint)
	}
}

func TestLoadEnvPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "postgres://primary")
	t.Setenv("DATABASE_URL", "postgres://secondary")
	t.Setenv("MODEL_API_KEY", "model-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.URL != "postgres://primary" || cfg.Model.APIKey != "model-key" {
		t.Errorf("explicit names should win: %q %q", cfg.Store.URL, cfg.Model.APIKey)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "curator.toml", `
[server]
addr = ":7000"
cors_origins = ["https://app.example.com"]

[store]
url = "postgres://from-file"
service_key = "svc"

[model]
endpoint = "https://model.example.com/v1/"

[pipeline]
process_timeout_seconds = 30
mirror_thumbnails = true

[log]
level = "DEBUG"
`)
	t.Setenv("STORE_URL", "postgres://from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if !reflect.DeepEqual(cfg.Server.CORSOrigins, []string{"https://app.example.com"}) {
		t.Errorf("cors origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Store.URL != "postgres://from-env" {
		t.Errorf("environment should override the file, got %q", cfg.Store.URL)
	}
	if cfg.Store.ServiceKey != "svc" {
		t.Errorf("service key = %q", cfg.Store.ServiceKey)
	}
	if cfg.Model.Endpoint != "https://model.example.com/v1" {
		t.Errorf("endpoint = %q", cfg.Model.Endpoint)
	}
	if cfg.ProcessTimeout() != 30*time.Second || !cfg.Pipeline.MirrorThumbnails {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if level, _ := cfg.LogLevel(); level != slog.LevelDebug {
		t.Errorf("log level = %v", level)
	}
	// Untouched sections keep their defaults
	if cfg.StaleAfter() != 10*time.Minute {
		t.Errorf("stale after = %v", cfg.StaleAfter())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "postgres://x")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing store url",
			wantErr: "store.url is required",
		},
		{
			name:    "malformed toml",
			file:    "[server\naddr = 1",
			env:     map[string]string{"STORE_URL": "postgres://x"},
			wantErr: "parse config",
		},
		{
			name:    "bad bool",
			env:     map[string]string{"STORE_URL": "postgres://x", "TRACING_ENABLED": "sometimes"},
			wantErr: "TRACING_ENABLED",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"STORE_URL": "postgres://x", "STORAGE_BACKEND": "ftp"},
			wantErr: "storage.backend",
		},
		{
			name:    "s3 without bucket",
			env:     map[string]string{"STORE_URL": "postgres://x", "STORAGE_BACKEND": "s3"},
			wantErr: "storage.s3.bucket",
		},
		{
			name:    "unknown log level",
			env:     map[string]string{"STORE_URL": "postgres://x", "LOG_LEVEL": "verbose"},
			wantErr: "log.level",
		},
		{
			name:    "zero timeout",
			env:     map[string]string{"STORE_URL": "postgres://x", "PROCESS_TIMEOUT_SECONDS": "0"},
			wantErr: "process_timeout_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, "curator.toml", tt.file)
			}

			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRequireServe(t *testing.T) {
	cfg := Default()
	if err := cfg.RequireServe(); err == nil || !strings.Contains(err.Error(), "model.api_key") {
		t.Errorf("expected model key error, got %v", err)
	}

	cfg.Model.APIKey = "k"
	if err := cfg.RequireServe(); err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("expected auth error, got %v", err)
	}

	cfg.Server.JWTSecret = "secret"
	if err := cfg.RequireServe(); err != nil {
		t.Errorf("RequireServe: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "from-process")
	path := writeFile(t, ".env", "REDIS_URL=redis://from-dotenv:6379/0\nJWT_SECRET=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("REDIS_URL") })

	if err := loadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("REDIS_URL"); got != "redis://from-dotenv:6379/0" {
		t.Errorf("REDIS_URL = %q", got)
	}
	if got := os.Getenv("JWT_SECRET"); got != "from-process" {
		t.Errorf(".env must not override the process environment, got %q", got)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example.com, ,https://b.example.com ")
	if want := []string{"https://a.example.com", "https://b.example.com"}; !reflect.DeepEqual(got, want) {
		t.Errorf("splitList = %v, want %v", got, want)
	}
}
