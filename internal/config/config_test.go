package config

import (
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("tauth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != DatabaseDriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database defaults: %+v", cfg)
	}
	if cfg.TAuthIssuer != "tauth" || cfg.TAuthCookieName != "app_session" {
		t.Fatalf("unexpected auth defaults: %+v", cfg)
	}
	if cfg.Realtime.SendBuffer != 256 || cfg.Realtime.MaxMessageBytes != 1<<20 {
		t.Fatalf("unexpected realtime defaults: %+v", cfg.Realtime)
	}
	if len(cfg.Realtime.AllowedOrigins) != 1 || cfg.Realtime.AllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard origins, got %v", cfg.Realtime.AllowedOrigins)
	}
	if cfg.Realtime.RequireAuthentication {
		t.Fatalf("expected anonymous websocket upgrades to be allowed by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CODECOLLAB_TAUTH_SIGNING_SECRET", "from-env")
	t.Setenv("CODECOLLAB_REALTIME_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CODECOLLAB_DATABASE_DRIVER", "Postgres")
	t.Setenv("CODECOLLAB_DATABASE_DSN", "host=localhost user=codecollab")
	t.Setenv("CODECOLLAB_REALTIME_REQUIRE_AUTHENTICATION", "true")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TAuthSigningKey != "from-env" {
		t.Fatalf("expected signing secret from env, got %q", cfg.TAuthSigningKey)
	}
	if cfg.DatabaseDriver != DatabaseDriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.DatabaseDriver)
	}
	if strings.Join(cfg.Realtime.AllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Realtime.AllowedOrigins)
	}
	if !cfg.Realtime.RequireAuthentication {
		t.Fatalf("expected websocket authentication to be required from env")
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name   string
		values map[string]any
		want   string
	}{
		{name: "missing secret", values: map[string]any{}, want: "tauth.signing_secret"},
		{name: "unknown driver", values: map[string]any{"tauth.signing_secret": "s", "database.driver": "mysql"}, want: "not supported"},
		{name: "postgres without dsn", values: map[string]any{"tauth.signing_secret": "s", "database.driver": "postgres"}, want: "database.dsn"},
		{name: "zero buffer", values: map[string]any{"tauth.signing_secret": "s", "realtime.send_buffer": 0}, want: "send_buffer"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.want) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.want, err)
			}
		})
	}
}
