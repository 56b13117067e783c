// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelpress/pixelpress/adapters/clock"
	"github.com/pixelpress/pixelpress/adapters/gate"
	apihttp "github.com/pixelpress/pixelpress/adapters/http"
	"github.com/pixelpress/pixelpress/adapters/idgen"
	"github.com/pixelpress/pixelpress/adapters/imaging"
	"github.com/pixelpress/pixelpress/adapters/memory"
	"github.com/pixelpress/pixelpress/adapters/metrics"
	"github.com/pixelpress/pixelpress/adapters/sqlite"
	"github.com/pixelpress/pixelpress/app"
	"github.com/pixelpress/pixelpress/config"
	"github.com/pixelpress/pixelpress/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Admission  *app.AdmissionService
	Ledger     *app.LedgerService
	Creds      ports.CredentialStore
	UsageStore ports.UsageStore

	holder        *config.Holder
	gate          *gate.Gate
	usageRecorder ports.UsageRecorder
	rateStore     *memory.RateLimitStore
}

// New creates and initializes the application. When configPath names an
// existing file it is loaded and watched for changes; otherwise
// configuration comes from PIXELPRESS_* environment variables.
func New(configPath string) (*App, error) {
	var (
		cfg    *config.Config
		holder *config.Holder
	)

	bootLog := setupLogger(config.LoggingConfig{Level: "info", Format: "json"})

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			h, err := config.NewHolder(configPath, bootLog)
			if err != nil {
				return nil, err
			}
			holder = h
			cfg = h.Get()
		}
	}
	if cfg == nil {
		c, err := config.LoadFromEnv()
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("environment", cfg.Server.Environment).
		Int64("gate_capacity", cfg.Gate.Capacity).
		Str("quota_enforce", cfg.Quota.Enforce).
		Msg("initializing pixelpress")

	a := &App{
		Logger: logger,
		Config: cfg,
		holder: holder,
	}

	if err := a.initStores(); err != nil {
		return nil, fmt.Errorf("init stores: %w", err)
	}

	a.initServices()

	if err := a.initHTTPServer(); err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	a.watchConfig()

	return a, nil
}

// initStores builds the persistence layer for the configured driver.
func (a *App) initStores() error {
	switch a.Config.Database.Driver {
	case "memory":
		a.Creds = memory.NewCredentialStore()
		a.UsageStore = memory.NewUsageStore()
		a.Logger.Info().Msg("using in-memory stores")
	default:
		db, err := sqlite.Open(a.Config.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		a.Creds = sqlite.NewCredentialStore(db)
		a.UsageStore = sqlite.NewUsageStore(db)
		a.Logger.Info().Str("dsn", a.Config.Database.DSN).Msg("database ready")
	}
	return nil
}

// initServices wires the domain services.
func (a *App) initServices() {
	cfg := a.Config

	a.Metrics = metrics.New()
	a.gate = gate.New(cfg.Gate.Capacity)
	a.Metrics.RegisterGate(a.gate)

	a.rateStore = memory.NewRateLimitStore(memory.RateLimitStoreConfig{})
	a.usageRecorder = NewLocalUsageRecorder(a.UsageStore, cfg.Usage.BatchSize, cfg.Usage.FlushInterval)

	realClock := clock.Real{}
	uuidGen := idgen.UUID{}

	a.Ledger = app.NewLedgerService(a.Creds, realClock, uuidGen, a.Metrics, a.Logger)

	a.Admission = app.NewAdmissionService(app.AdmissionDeps{
		Creds:     a.Creds,
		Ledger:    a.Ledger,
		Gate:      a.gate,
		Processor: imaging.New(),
		RateLimit: a.rateStore,
		Sandboxes: memory.NewSandboxCounter(memory.SandboxCounterConfig{}),
		Usage:     a.usageRecorder,
		Clock:     realClock,
		IDGen:     uuidGen,
		Metrics:   a.Metrics,
		Log:       a.Logger,
	}, dynamicConfig(cfg))
}

// initHTTPServer builds the router and http.Server.
func (a *App) initHTTPServer() error {
	cfg := a.Config

	handler := apihttp.New(apihttp.Deps{
		Admission: a.Admission,
		Usage:     a.UsageStore,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	}, apihttp.Options{
		Production:     cfg.Server.Production(),
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// watchConfig starts hot reload when a config file is in use. The gate
// capacity and listen address stay fixed until restart; plans, enforcement
// mode and sandbox limits swap atomically.
func (a *App) watchConfig() {
	if a.holder == nil {
		return
	}

	a.holder.OnChange(func(cfg *config.Config) {
		a.Admission.UpdateConfig(dynamicConfig(cfg))
		a.Metrics.ConfigReloads.Inc()
	})

	if err := a.holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	a.holder.WatchSignals()
}

func dynamicConfig(cfg *config.Config) app.DynamicConfig {
	return app.DynamicConfig{
		Catalog:       cfg.Catalog(),
		Mode:          cfg.Quota.Mode(),
		SandboxLimits: cfg.Sandbox.Limits(),
	}
}

// Run starts the HTTP server and blocks until interrupt.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown drains in-flight requests, flushes usage events and closes
// resources.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.usageRecorder != nil {
		if err := a.usageRecorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("usage recorder close error")
		}
	}

	if a.rateStore != nil {
		a.rateStore.Close()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
