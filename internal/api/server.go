// Package api serves the campaign HTTP API and the public tracking endpoints.
package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/config"
	"github.com/foxzi/beacon/internal/dispatch"
	"github.com/foxzi/beacon/internal/metrics"
	"github.com/foxzi/beacon/internal/storage"
	"github.com/foxzi/beacon/internal/tracking"
)

// Store is the persistence used by the API handlers
type Store interface {
	Create(ctx context.Context, c *campaign.Campaign) error
	GetOwned(ctx context.Context, id, userID string) (*campaign.Campaign, error)
	Meta(ctx context.Context, id string) (*campaign.Campaign, error)
	ListByOwner(ctx context.Context, userID string) ([]*campaign.Campaign, error)
	Update(ctx context.Context, id, userID string, patch storage.Patch) (*campaign.Campaign, error)
	Delete(ctx context.Context, id, userID string) error
	ListContacts(ctx context.Context, userID, listName string) ([]*campaign.Contact, error)
	SMTPSettings(ctx context.Context) (*campaign.SMTPSettings, error)
	SaveSMTPSettings(ctx context.Context, settings *campaign.SMTPSettings) error
}

// Dispatcher starts campaign sends
type Dispatcher interface {
	Send(ctx context.Context, campaignID, userID string) (*dispatch.Ack, error)
	Active() int
}

// Tracker records engagement events
type Tracker interface {
	RecordOpen(ctx context.Context, campaignID, recipientID, userAgent string) (campaign.ProxyType, error)
	RecordClick(ctx context.Context, click tracking.Click) (string, error)
	RecordTestOpen(ctx context.Context, campaignID, userID, email string) (*campaign.Recipient, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      Store
	dispatcher Dispatcher
	tracker    Tracker
	config     *config.APIConfig
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(store Store, dispatcher Dispatcher, tracker Tracker, cfg *config.APIConfig, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		store:      store,
		dispatcher: dispatcher,
		tracker:    tracker,
		config:     cfg,
		version:    version,
		logger:     logger,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	// Answers preflights before routing so they never reach the auth checks
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Auth-Token"},
		MaxAge:         300,
	}))
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// One limiter shared by every authenticated route
	protected := []func(http.Handler) http.Handler{s.authMiddleware}
	if s.config.RateLimit > 0 {
		protected = append([]func(http.Handler) http.Handler{s.rateLimitMiddleware()}, protected...)
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/campaigns", func(r chi.Router) {
		// Tracking beacons are fetched by mail clients without credentials
		r.Get("/track/open/{campaignId}/{recipientId}", s.handleTrackOpen)
		r.Get("/track/click/{campaignId}/{recipientId}", s.handleTrackClick)

		r.Group(func(r chi.Router) {
			r.Use(protected...)

			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)
			r.Post("/test-open/{campaignId}", s.handleTestOpen)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/send", s.handleSendCampaign)
			r.Get("/{id}/analytics", s.handleAnalytics)
		})
	})

	s.router.Route("/email-settings", func(r chi.Router) {
		r.Use(protected...)

		r.Get("/", s.handleGetSettings)
		r.Post("/", s.handleSaveSettings)
	})
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server. With a TLS config the listener
// serves HTTPS using its certificates.
func (s *Server) ListenAndServe(tlsConfig *tls.Config) error {
	if tlsConfig != nil {
		s.httpServer.TLSConfig = tlsConfig
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}
