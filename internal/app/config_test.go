package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/florianilch/mediadeck/internal/app"
	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := app.Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Backend.RefreshPath != session.DefaultRefreshPath {
		t.Errorf("Backend.RefreshPath = %q, want %q", cfg.Backend.RefreshPath, session.DefaultRefreshPath)
	}
	if cfg.Session.RefreshTimeout != session.DefaultRefreshTimeout {
		t.Errorf("Session.RefreshTimeout = %v, want %v", cfg.Session.RefreshTimeout, session.DefaultRefreshTimeout)
	}
	if cfg.Auth.Storage != app.TokenStorageTypeFile || cfg.Auth.File == "" {
		t.Errorf("Auth = %+v, want file storage with a default path", cfg.Auth)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &app.Config{
		Server:  app.ServerConfig{Port: 9000},
		Backend: app.BackendConfig{BaseURL: "https://media.example.com/api", Timeout: time.Second},
		Auth:    app.AuthConfig{Storage: app.TokenStorageTypeRedis, RedisAddr: "cache:6379"},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://media.example.com/api" {
		t.Errorf("Backend.BaseURL = %q, want explicit value", cfg.Backend.BaseURL)
	}
	if cfg.Auth.RedisAddr != "cache:6379" {
		t.Errorf("Auth.RedisAddr = %q, want explicit value", cfg.Auth.RedisAddr)
	}
	if cfg.Auth.RedisPrefix != app.DefaultConfigAuthRedisPrefix {
		t.Errorf("Auth.RedisPrefix = %q, want default", cfg.Auth.RedisPrefix)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*app.Config)
		wantErr bool
	}{
		{
			name:   "defaults",
			mutate: func(*app.Config) {},
		},
		{
			name:    "unknown storage",
			mutate:  func(c *app.Config) { c.Auth.Storage = "env" },
			wantErr: true,
		},
		{
			name:    "backend url without scheme",
			mutate:  func(c *app.Config) { c.Backend.BaseURL = "media.example.com" },
			wantErr: true,
		},
		{
			name:    "relative refresh path",
			mutate:  func(c *app.Config) { c.Backend.RefreshPath = "token/refresh/" },
			wantErr: true,
		},
		{
			name:    "negative leeway",
			mutate:  func(c *app.Config) { c.Session.ExpiryLeeway = -time.Second },
			wantErr: true,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *app.Config) { c.LogFormat = "xml" },
			wantErr: true,
		},
		{
			name:    "unknown exporter",
			mutate:  func(c *app.Config) { c.Telemetry.Exporter = "zipkin" },
			wantErr: true,
		},
		{
			name: "sqlite without path",
			mutate: func(c *app.Config) {
				c.Auth.Storage = app.TokenStorageTypeSQLite
				c.Auth.SQLitePath = ""
			},
			wantErr: true,
		},
		{
			name: "memory storage",
			mutate: func(c *app.Config) {
				c.Auth.Storage = app.TokenStorageTypeMemory
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := app.Default()
			if err != nil {
				t.Fatalf("Default() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTokenStore(t *testing.T) {
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		auth app.AuthConfig
	}{
		{name: "file", auth: app.AuthConfig{Storage: app.TokenStorageTypeFile, File: filepath.Join(dir, "session.json")}},
		{name: "sqlite", auth: app.AuthConfig{Storage: app.TokenStorageTypeSQLite, SQLitePath: filepath.Join(dir, "db", "session.db")}},
		{name: "redis", auth: app.AuthConfig{Storage: app.TokenStorageTypeRedis, RedisAddr: mr.Addr(), RedisPrefix: "test:"}},
		{name: "memory", auth: app.AuthConfig{Storage: app.TokenStorageTypeMemory}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			store, closeStore, err := tt.auth.NewTokenStore(ctx)
			if err != nil {
				t.Fatalf("NewTokenStore() error = %v", err)
			}
			t.Cleanup(func() {
				if err := closeStore(); err != nil {
					t.Errorf("close: %v", err)
				}
			})

			if _, err := store.Access(ctx); !errors.Is(err, tokenstore.ErrNotFound) {
				t.Fatalf("Access() on empty store error = %v, want ErrNotFound", err)
			}
			want := tokenstore.Pair{Access: "a", Refresh: "r"}
			if err := store.SetPair(ctx, want); err != nil {
				t.Fatalf("SetPair() error = %v", err)
			}
			if got, err := store.Refresh(ctx); err != nil || got != want.Refresh {
				t.Errorf("Refresh() = %q, %v, want %q", got, err, want.Refresh)
			}
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		auth := app.AuthConfig{Storage: "env"}
		if _, _, err := auth.NewTokenStore(context.Background()); err == nil {
			t.Error("NewTokenStore() error = nil, want error")
		}
	})
}

func TestNewSessionWiresCoordinator(t *testing.T) {
	cfg, err := app.Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	cfg.Auth.Storage = app.TokenStorageTypeMemory

	sess, err := app.NewSession(context.Background(), cfg, session.NewNavigator(nil, nil))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	if got := sess.Coordinator.State(context.Background()); got != session.Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", got)
	}
}
