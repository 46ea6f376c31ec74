// Пакет server — HTTP-сервер агента с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/provenance/internal/api/handlers"
	"github.com/bigkaa/provenance/internal/api/middleware"
	"github.com/bigkaa/provenance/internal/api/openapi"
	"github.com/bigkaa/provenance/internal/config"
)

// Middleware — HTTP middleware в стиле chi.
type Middleware = func(http.Handler) http.Handler

// Routes — обработчики и middleware, из которых собирается роутер.
type Routes struct {
	API    *handlers.APIHandler
	Health *handlers.HealthHandler
	// Auth — аутентификация /api/v1 (JWT или local)
	Auth Middleware
	// Validator — проверка запросов по OpenAPI; nil — без проверки
	Validator Middleware
}

// Server — HTTP-сервер агента.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, routes Routes) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, routes),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает роутер: публичные endpoints без аутентификации,
// /api/v1 за Auth и Validator.
func NewRouter(logger *slog.Logger, routes Routes) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", routes.Health.HealthLive)
	router.Get("/health/ready", routes.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(openapi.Document())
	})

	router.Group(func(r chi.Router) {
		r.Use(routes.Auth)
		if routes.Validator != nil {
			r.Use(routes.Validator)
		}
		routes.API.Routes(r)
	})

	return router
}

// Run запускает сервер и ожидает отмены ctx (сигнал завершения).
// После отмены выполняется graceful shutdown с таймаутом из конфигурации.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("ошибка запуска HTTP-сервера: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает соединения из ln до отмены ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", ln.Addr().String()))

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
