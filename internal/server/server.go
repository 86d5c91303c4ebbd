// Package server exposes the dashboard over HTTP with gin.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ibkr-dashboard/internal/broker"
	"ibkr-dashboard/internal/observability"
	"ibkr-dashboard/internal/resilience"
	"ibkr-dashboard/internal/staging"
	"ibkr-dashboard/internal/watchlist"
)

// DefaultMaxUpload caps the size of a CSV upload.
const DefaultMaxUpload = 4 << 20

// DefaultSessionCookie names the cookie that keys staged uploads.
const DefaultSessionCookie = "dashboard_session"

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	gateway    broker.Gateway
	watchlists *watchlist.Service
	staging    *staging.Coordinator

	logger    zerolog.Logger
	metrics   *observability.Metrics
	cookie    string
	maxUpload int64

	checker *resilience.HealthChecker
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink and mounts /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithSessionCookie sets the session cookie name.
func WithSessionCookie(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.cookie = name
		}
	}
}

// WithMaxUpload caps upload size in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New builds a Server and its routes.
func New(gateway broker.Gateway, watchlists *watchlist.Service, coord *staging.Coordinator, opts ...Option) *Server {
	s := &Server{
		gateway:    gateway,
		watchlists: watchlists,
		staging:    coord,
		logger:     zerolog.Nop(),
		cookie:     DefaultSessionCookie,
		maxUpload:  DefaultMaxUpload,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.checker = s.healthChecks()
	s.router = s.routes()
	return s
}

func (s *Server) healthChecks() *resilience.HealthChecker {
	h := resilience.NewHealthChecker(5 * time.Second)
	h.Register("store", resilience.StoreHealthCheck(func(ctx context.Context) error {
		_, err := s.watchlists.Names(ctx)
		return err
	}))
	if s.gateway != nil {
		h.Register("gateway", resilience.GatewayHealthCheck(s.gateway.Authenticated, s.gateway.BreakerStats))
	}
	return h
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/accounts", s.accounts)
		api.GET("/accounts/summary", s.accountSummary)
		api.GET("/portfolio", s.portfolio)
		api.GET("/orders", s.orders)
		api.POST("/orders", s.placeOrder)
		api.DELETE("/orders/:id", s.cancelOrder)
		api.GET("/lookup", s.lookup)
		api.GET("/contracts/:conid", s.contract)
		api.GET("/scanner/params", s.scannerParams)
		api.POST("/scanner/run", s.runScanner)
	}

	wl := api.Group("/watchlists")
	{
		wl.GET("", s.listWatchlists)
		wl.POST("", s.createWatchlist)
		wl.GET("/:name", s.getWatchlist)
		wl.DELETE("/:name", s.deleteWatchlist)
		wl.GET("/:name/search", s.searchForWatchlist)
		wl.POST("/:name/instruments", s.addInstrument)
		wl.DELETE("/:name/instruments/:conid", s.removeInstrument)

		staged := wl.Group("/:name", s.session())
		staged.POST("/upload", s.upload)
		staged.GET("/stage", s.stage)
		staged.POST("/stage/confirm", s.confirmStage)
		staged.DELETE("/stage", s.discardStage)
	}

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
