package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "CODECOLLAB"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DatabaseDriverSQLite
	defaultDatabasePath      = "codecollab.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultTAuthIssuer       = "tauth"
	defaultSendBuffer        = 256
	defaultMaxMessageBytes   = 1 << 20
	defaultAllowedOriginsAll = "*"
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	LogLevel        string
	Realtime        RealtimeConfig
}

// RealtimeConfig tunes the websocket hub.
type RealtimeConfig struct {
	SendBuffer            int
	MaxMessageBytes       int64
	AllowedOrigins        []string
	RequireAuthentication bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultTAuthIssuer)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
	configViper.SetDefault("realtime.max_message_bytes", defaultMaxMessageBytes)
	configViper.SetDefault("realtime.allowed_origins", defaultAllowedOriginsAll)
	configViper.SetDefault("realtime.require_authentication", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		TAuthSigningKey: configViper.GetString("tauth.signing_secret"),
		TAuthCookieName: configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:     configViper.GetString("tauth.issuer"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		Realtime: RealtimeConfig{
			SendBuffer:            configViper.GetInt("realtime.send_buffer"),
			MaxMessageBytes:       configViper.GetInt64("realtime.max_message_bytes"),
			AllowedOrigins:        splitList(configViper.GetString("realtime.allowed_origins")),
			RequireAuthentication: configViper.GetBool("realtime.require_authentication"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.Realtime.MaxMessageBytes <= 0 {
		return fmt.Errorf("realtime.max_message_bytes must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
