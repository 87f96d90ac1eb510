package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/Veraticus/subdupes/internal/backend"
	"github.com/Veraticus/subdupes/internal/background"
	"github.com/Veraticus/subdupes/internal/config"
	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/reconcile"
	"github.com/Veraticus/subdupes/internal/storage"
)

// app bundles the opened store and the background service for one command.
type app struct {
	store *storage.SQLiteStorage
	svc   *background.Service
	cfg   config.Config
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens and migrates the configured database.
func initStorage(ctx context.Context, cfg config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// openApp loads config, opens storage and wires the background service.
// progress may be nil.
func openApp(ctx context.Context, progress reconcile.ProgressFunc) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := backend.NewHTTPClient(ctx, cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
	svc := background.New(store, client, background.Config{
		Progress:       progress,
		LockFile:       cfg.Sync.LockFile,
		RefreshTimeout: cfg.API.Timeout,
		PromptCooldown: cfg.Prompt.Cooldown,
	})

	return &app{store: store, svc: svc, cfg: cfg}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
}

func (a *app) scanner() (*detect.Scanner, error) {
	rules, err := a.cfg.Rules()
	if err != nil {
		return nil, err
	}
	return detect.NewScanner(rules), nil
}
