package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auth-platform/savecache-service/internal/auth"
	"github.com/auth-platform/savecache-service/internal/observability"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	MetricsEnabled bool
	MetricsPath    string
	AuthMiddleware *auth.Middleware
	AdminScope     string
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// NewRouter creates the operator router.
func NewRouter(admin *AdminHandler, health *HealthHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlation)
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger))
	}
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(countRequests(cfg.Metrics))
	}

	r.Get("/health", health.Liveness)
	r.Get("/ready", health.Readiness)

	if cfg.MetricsEnabled {
		if cfg.Gatherer != nil {
			r.Handle(cfg.MetricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		} else {
			r.Handle(cfg.MetricsPath, promhttp.Handler())
		}
	}

	r.Route("/admin/cache", func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware.Authenticate)
			r.Use(cfg.AuthMiddleware.RequireScope(cfg.AdminScope))
		}
		r.Get("/", admin.Status)
		r.Put("/", admin.SetEnabled)
		r.Post("/flush", admin.FlushAll)
		r.Post("/flush/{kind}", admin.FlushKind)
	})

	return r
}

const correlationHeader = "X-Correlation-ID"

func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(correlationHeader); id != "" {
			ctx = observability.WithCorrelationID(ctx, id)
		}
		ctx, id := observability.EnsureCorrelationID(ctx)
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("correlation_id", observability.GetCorrelationID(r.Context())),
			)
		})
	}
}

func countRequests(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				endpoint = rctx.RoutePattern()
			}
			m.RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(ww.Status())).Inc()
		})
	}
}

// Server wraps the operator listener.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server on addr.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
		},
		logger: logger,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
