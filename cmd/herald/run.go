package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/spf13/cobra"

	githubadapter "github.com/ericfisherdev/herald/internal/adapter/driven/github"
	matrixadapter "github.com/ericfisherdev/herald/internal/adapter/driven/matrix"
	"github.com/ericfisherdev/herald/internal/adapter/driven/notify"
	relayadapter "github.com/ericfisherdev/herald/internal/adapter/driven/relay"
	sqliteadapter "github.com/ericfisherdev/herald/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/herald/internal/adapter/driven/vault"
	httphandler "github.com/ericfisherdev/herald/internal/adapter/driving/http"
	"github.com/ericfisherdev/herald/internal/application"
	"github.com/ericfisherdev/herald/internal/config"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dispatch daemon (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func runDaemon() error {
	// 1. Load configuration (fail fast on invalid values).
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	slog.Info("config loaded",
		"listen", cfg.Listen,
		"db_path", cfg.DBPath,
		"vault_enabled", cfg.Vault.Enabled,
		"ratelimit_enabled", cfg.RateLimitEnabled,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the journal database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on the writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Open the credential source: the encrypted vault, or the
	// environment when the vault is disabled.
	creds, err := openCredentials(cfg)
	if err != nil {
		return err
	}

	// 6. Build the event sinks.
	sinks := []driven.EventSink{notify.SlogSink{}, notify.MetricsSink{}}
	if cfg.Notify.NATS.Enabled {
		natsSink, err := notify.NewNATSSink(notify.NATSConfig{
			URL:     cfg.Notify.NATS.URL,
			Subject: cfg.Notify.NATS.Subject,
		})
		if err != nil {
			return err
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
		slog.Info("nats sink connected", "url", cfg.Notify.NATS.URL)
	}
	emitter := application.NewEventEmitter(sinks...)

	// 7. Build the mention handler chain in configured order.
	registry := application.NewHandlerRegistry(emitter)
	for _, name := range cfg.Handlers {
		h, err := builtinHandler(name)
		if err != nil {
			return err
		}
		registry.Register(h)
	}

	// 8. Wire the dispatch core and register enabled platforms.
	msgStore := sqliteadapter.NewMessageRepo(db)
	cursorStore := sqliteadapter.NewCursorRepo(db)
	limiter := application.NewRateLimiter(cfg.RateLimitEnabled)
	sup := application.NewSupervisor(creds, msgStore, cursorStore, limiter, registry, emitter)

	if err := addPlatforms(sup, cfg); err != nil {
		return err
	}

	// 9. Serve the ops API.
	apiHandler := httphandler.NewHandler(sup, msgStore, slog.Default())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.Info("http server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 10. Run the dispatch core until a shutdown signal arrives.
	slog.Info("herald started", "version", version)
	runErr := sup.Run(ctx)
	slog.Info("shutting down")

	// 11. Drain the HTTP server with a timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return runErr
}

// setupLogging replaces the default slog handler with one honoring the
// configured level.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// openCredentials opens the encrypted vault, or falls back to HERALD_CRED_*
// environment variables when the vault is disabled.
func openCredentials(cfg *config.Config) (driven.CredentialVault, error) {
	if !cfg.Vault.Enabled {
		slog.Info("vault disabled, resolving credentials from environment")
		return vault.NewEnvVault(), nil
	}

	key, err := config.LoadKeyFile(cfg.Vault.KeyFile)
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(cfg.Vault.Path, key)
	if err != nil {
		if errors.Is(err, driven.ErrMissing) {
			return nil, fmt.Errorf(`%w (run "herald vault init" first)`, err)
		}
		return nil, err
	}
	slog.Info("vault opened", "path", cfg.Vault.Path)
	return v, nil
}

// builtinHandler resolves a configured handler name.
func builtinHandler(name string) (driven.MentionHandler, error) {
	switch name {
	case "log":
		return application.LogHandler{}, nil
	default:
		return nil, fmt.Errorf("unknown mention handler %q", name)
	}
}

// addPlatforms registers each enabled platform with the supervisor.
func addPlatforms(sup *application.Supervisor, cfg *config.Config) error {
	if cfg.GitHub.Enabled {
		adapter, err := newGitHubAdapter(cfg.GitHub)
		if err != nil {
			return err
		}
		if err := sup.AddPlatform(adapter, platformConfig(cfg.GitHub)); err != nil {
			return err
		}
	}

	if cfg.Matrix.Enabled {
		if err := sup.AddPlatform(matrixadapter.NewAdapter(cfg.Matrix.Homeserver), platformConfig(cfg.Matrix)); err != nil {
			return err
		}
	}

	if cfg.Relay.Enabled {
		if err := sup.AddPlatform(relayadapter.NewAdapter(cfg.Relay.URL), platformConfig(cfg.Relay)); err != nil {
			return err
		}
	}

	return nil
}

func newGitHubAdapter(pc config.PlatformConfig) (*githubadapter.Adapter, error) {
	if pc.APIBase == "" {
		return githubadapter.NewAdapter(), nil
	}
	adapter, err := githubadapter.NewAdapterWithHTTPClient(nil, pc.APIBase)
	if err != nil {
		return nil, fmt.Errorf("github api_base: %w", err)
	}
	return adapter, nil
}

// platformConfig maps file settings onto the supervisor's runtime tuning.
func platformConfig(pc config.PlatformConfig) application.PlatformConfig {
	return application.PlatformConfig{
		MinInterval:         pc.MinInterval,
		PollInterval:        pc.PollInterval,
		MaxRetries:          pc.MaxRetries,
		ErrorBaseDelay:      pc.ErrorBaseDelay,
		MaxBackoff:          pc.MaxBackoff,
		MaxMentionsPerCycle: pc.MaxMentionsPerCycle,
		DefaultTarget:       pc.DefaultTarget,
	}
}
