package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/config"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/database"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/hub"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/server"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/users"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codecollab-api",
		Short: "Collaborative editor backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "Postgres connection string")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("cookie-name", defaults.GetString("tauth.cookie_name"), "Session cookie name")
	flags.String("allowed-origins", defaults.GetString("realtime.allowed_origins"), "Comma separated list of allowed origins")
	flags.Int("send-buffer", defaults.GetInt("realtime.send_buffer"), "Outbound frames queued per connection")
	flags.Bool("require-ws-auth", defaults.GetBool("realtime.require_authentication"), "Refuse websocket upgrades without a valid session token")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, "tauth.cookie_name", "cookie-name")
	bindFlag(cmd, "realtime.allowed_origins", "allowed-origins")
	bindFlag(cmd, "realtime.send_buffer", "send-buffer")
	bindFlag(cmd, "realtime.require_authentication", "require-ws-auth")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionStore, err := store.New(store.Config{
		Database:   db,
		Clock:      time.Now,
		IDProvider: store.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// No connection survives a restart, so nobody is present yet.
	if cleared, err := sessionStore.DeactivateAllParticipants(ctx); err != nil {
		return err
	} else if cleared > 0 {
		logger.Info("cleared stale participants", zap.Int64("count", cleared))
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := hub.NewMetrics(registry)
	if err != nil {
		return err
	}

	realtimeHub, err := hub.New(hub.Config{
		Gateway:    sessionStore,
		Logger:     logger,
		Metrics:    metrics,
		SendBuffer: appConfig.Realtime.SendBuffer,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Users:            userService,
		Store:            sessionStore,
		Hub:              realtimeHub,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Realtime: server.RealtimeConfig{
			AllowedOrigins:        appConfig.Realtime.AllowedOrigins,
			MaxMessageBytes:       appConfig.Realtime.MaxMessageBytes,
			RequireAuthentication: appConfig.Realtime.RequireAuthentication,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		realtimeHub.Close(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
