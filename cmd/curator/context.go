package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/docutag/curator"
	"github.com/docutag/curator/config"
	"github.com/docutag/curator/db"
	"github.com/docutag/curator/llm"
	"github.com/docutag/curator/realtime"
	"github.com/docutag/curator/storage"
	"github.com/docutag/curator/thumbnail"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// setupLogging installs the default logger. Commands log text to stderr;
// the server logs JSON lines.
func setupLogging(w io.Writer, cfg *config.Config, jsonOutput bool) error {
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func openDB(cfg *config.Config, skipMigrations bool) (*db.DB, error) {
	dbConfig := db.DefaultConfig()
	dbConfig.DSN = cfg.Store.URL
	dbConfig.MaxOpenConns = cfg.Store.MaxOpenConns
	dbConfig.SkipMigrations = skipMigrations
	return db.New(dbConfig)
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	return storage.Open(ctx, storage.Config{
		Backend:  cfg.Storage.Backend,
		BasePath: cfg.Storage.BasePath,
		S3: storage.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
		},
	})
}

// openBus connects to Redis when configured and falls back to the in-process bus
func openBus(ctx context.Context, cfg *config.Config) (realtime.Bus, error) {
	if cfg.Redis.URL == "" {
		slog.Info("using in-process change bus")
		return realtime.NewLocalBus(), nil
	}
	bus, err := realtime.NewRedisBus(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	slog.Info("using redis change bus")
	return bus, nil
}

func newModelClient(cfg *config.Config) *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:         cfg.Model.APIKey,
		Endpoint:       cfg.Model.Endpoint,
		Model:          cfg.Model.Name,
		TimeoutSeconds: cfg.Model.TimeoutSeconds,
	})
}

// pipeline is the enrichment stack shared by serve and enrich
type pipeline struct {
	orchestrator *curator.Orchestrator
	thumbnails   *thumbnail.Extractor
}

func newPipeline(cfg *config.Config, store curator.Store, files storage.Backend, model *llm.Client, notifier curator.Notifier) *pipeline {
	fetcherConfig := curator.DefaultFetcherConfig()
	fetcherConfig.HTTPTimeout = cfg.FetchTimeout()

	extractor := thumbnail.New(thumbnail.DefaultConfig())
	deps := curator.Dependencies{
		Store:      store,
		Fetcher:    curator.NewFetcher(fetcherConfig, files),
		Analyzer:   model,
		Thumbnails: extractor,
		Notifier:   notifier,
	}
	if cfg.Pipeline.MirrorThumbnails {
		deps.Mirror = thumbnail.NewMirror(thumbnail.DefaultMirrorConfig(), files)
	}

	return &pipeline{
		orchestrator: curator.New(curator.DefaultConfig(), deps),
		thumbnails:   extractor,
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
