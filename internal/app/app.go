// Package app wires the store, dispatcher, tracker and servers together.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/beacon/internal/api"
	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/config"
	"github.com/foxzi/beacon/internal/dispatch"
	"github.com/foxzi/beacon/internal/dkim"
	"github.com/foxzi/beacon/internal/metrics"
	"github.com/foxzi/beacon/internal/render"
	"github.com/foxzi/beacon/internal/smtp"
	"github.com/foxzi/beacon/internal/storage"
	beaconTLS "github.com/foxzi/beacon/internal/tls"
	"github.com/foxzi/beacon/internal/tracking"
)

// shutdownTimeout bounds the graceful shutdown of all components
const shutdownTimeout = 30 * time.Second

// App is the main application
type App struct {
	config        *config.Config
	store         *storage.BoltStorage
	pool          *smtp.Pool
	dispatcher    *dispatch.Dispatcher
	apiServer     *api.Server
	tlsProvider   *beaconTLS.Provider
	acmeServer    *http.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	store, err := storage.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a := &App{
		config: cfg,
		store:  store,
		logger: logger,
	}
	if err := a.init(version); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(version string) error {
	cfg := a.config
	logger := a.logger
	ctx := context.Background()

	fixed, err := a.store.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile campaign counters: %w", err)
	}
	if fixed > 0 {
		logger.Warn("campaign counters reconciled", "campaigns", fixed)
	}

	if err := seedSettings(ctx, a.store, cfg.Transport.SMTP, logger); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(
			a.store.DB(),
			m,
			a.store,
			a.store.Path(),
			cfg.Metrics.RefreshInterval,
			logger.With("component", "metrics_collector"),
		)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(
			m,
			cfg.Metrics.ListenAddr,
			cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"),
		)
	}

	a.pool = smtp.NewPool(smtp.PoolConfig{
		MaxConnections:           cfg.Transport.MaxConnections,
		MaxMessagesPerConnection: cfg.Transport.MaxMessagesPerConnection,
		ConnectionTimeout:        cfg.Transport.ConnectionTimeout,
		GreetingTimeout:          cfg.Transport.GreetingTimeout,
		SocketTimeout:            cfg.Transport.SocketTimeout,
		IdleTimeout:              cfg.Transport.IdleTimeout,
		HeloHostname:             cfg.Transport.HeloHostname,
	}, logger.With("component", "smtp_pool"))

	mailer := smtp.NewMailer(a.store, a.pool, cfg.Server.Hostname, logger.With("component", "mailer"))
	if cfg.DKIM.Enabled {
		signer, err := dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return fmt.Errorf("failed to load DKIM key: %w", err)
		}
		mailer.SetDKIMSigner(signer)
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	a.dispatcher = dispatch.New(
		a.store,
		mailer,
		render.New(cfg.Server.BaseURL),
		dispatch.Config{
			MinDelay:          cfg.Dispatch.MinDelay,
			MaxDelay:          cfg.Dispatch.MaxDelay,
			SendTimeout:       cfg.Dispatch.SendTimeout,
			ResumeInterrupted: cfg.Dispatch.Resume(),
			ScheduleInterval:  cfg.Dispatch.ScheduleInterval,
		},
		logger.With("component", "dispatcher"),
	)

	tracker := tracking.New(a.store, logger.With("component", "tracker"))

	tlsCfg := cfg.API.TLS
	switch {
	case tlsCfg.ACME.Enabled:
		a.tlsProvider = beaconTLS.NewACME(tlsCfg.ACME.Email, tlsCfg.ACME.Domains, tlsCfg.ACME.CacheDir)
		logger.Info("ACME (Let's Encrypt) enabled", "domains", tlsCfg.ACME.Domains)
	case tlsCfg.CertFile != "" && tlsCfg.KeyFile != "":
		a.tlsProvider, err = beaconTLS.LoadCertificate(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		logCertificate(tlsCfg.CertFile, logger)
	}

	a.apiServer = api.NewServer(
		a.store,
		a.dispatcher,
		tracker,
		&cfg.API,
		version,
		logger.With("component", "api"),
	)
	return nil
}

// seedSettings writes the configured relay settings when the store has none
func seedSettings(ctx context.Context, store *storage.BoltStorage, seed *config.SMTPSeed, logger *slog.Logger) error {
	if seed == nil {
		return nil
	}
	current, err := store.SMTPSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read smtp settings: %w", err)
	}
	if current != nil {
		return nil
	}

	settings := &campaign.SMTPSettings{
		Host:       seed.Host,
		Port:       seed.Port,
		Secure:     seed.Secure,
		User:       seed.User,
		Pass:       seed.Pass,
		SenderName: seed.SenderName,
		ReplyTo:    seed.ReplyTo,
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid transport.smtp settings: %w", err)
	}
	if err := store.SaveSMTPSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to seed smtp settings: %w", err)
	}
	logger.Info("smtp settings seeded from config", "smtp_host", settings.Host, "smtp_port", settings.Port)
	return nil
}

func logCertificate(certFile string, logger *slog.Logger) {
	info, err := beaconTLS.GetCertificateInfo(certFile)
	if err != nil {
		logger.Warn("failed to inspect TLS certificate", "error", err)
		return
	}
	logger.Info("TLS enabled with manual certificates",
		"subject", info.Subject,
		"not_after", info.NotAfter,
		"days_left", info.DaysLeft,
	)
	if info.DaysLeft < 14 {
		logger.Warn("TLS certificate expires soon", "days_left", info.DaysLeft)
	}
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting beacon",
		"hostname", a.config.Server.Hostname,
		"base_url", a.config.Server.BaseURL,
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Resumes interrupted sends before new ones can be requested
	if err := a.dispatcher.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	// Channel to collect errors
	errCh := make(chan error, 3)

	var tlsConfig *tls.Config
	if a.tlsProvider != nil {
		tlsConfig = a.tlsProvider.TLSConfig()
	}
	go func() {
		if err := a.apiServer.ListenAndServe(tlsConfig); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Start ACME HTTP challenge server if ACME is enabled
	if a.tlsProvider != nil && a.tlsProvider.ACME() {
		addr := a.config.API.TLS.ACME.ChallengeAddr
		a.acmeServer = &http.Server{
			Addr:              addr,
			Handler:           a.tlsProvider.ChallengeHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", "addr", addr)
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("ACME HTTP server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	// Graceful shutdown
	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Stop accepting requests before pausing the send loops
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	// Loops stop between recipients; their jobs resume on the next start
	done := make(chan struct{})
	go func() {
		a.dispatcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("dispatcher did not stop in time")
	}

	if err := a.pool.Close(); err != nil {
		a.logger.Error("smtp pool close error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists counters, so it runs before the store is closed
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
