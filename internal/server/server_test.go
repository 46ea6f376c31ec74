package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/provenance/internal/api/handlers"
	"github.com/bigkaa/provenance/internal/api/middleware"
	"github.com/bigkaa/provenance/internal/config"
	"github.com/bigkaa/provenance/internal/geo"
	"github.com/bigkaa/provenance/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// denyAll — аутентификация, отклоняющая все запросы.
func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
}

func newTestRoutes(auth Middleware) Routes {
	registry := service.NewRegistry(1, time.Minute, func(id string) *service.Session {
		return nil
	}, testLogger())
	return Routes{
		API:    handlers.NewAPIHandler(registry, geo.ClientSource{}, testLogger()),
		Health: handlers.NewHealthHandler(nil, nil, nil),
		Auth:   auth,
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := NewRouter(testLogger(), newTestRoutes(denyAll))

	tests := []struct {
		path     string
		contains string
	}{
		{"/health/live", `"status":"ok"`},
		{"/health/ready", `"spool"`},
		{"/metrics", "pv_http_requests_total"},
		{"/api/v1/openapi.json", `"openapi"`},
	}

	// /metrics содержит счётчик только после первого запроса
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: статус %d", tt.path, rec.Code)
			continue
		}
		if !strings.Contains(rec.Body.String(), tt.contains) {
			t.Errorf("%s: ответ не содержит %q", tt.path, tt.contains)
		}
	}
}

func TestRouter_APIRequiresAuth(t *testing.T) {
	router := NewRouter(testLogger(), newTestRoutes(denyAll))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус %d, ожидался 401", rec.Code)
	}
}

func TestRouter_RequestID(t *testing.T) {
	router := NewRouter(testLogger(), newTestRoutes(middleware.LocalAuth()))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("статус %d", rec.Code)
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: time.Second}
	srv := New(cfg, testLogger(), newTestRoutes(denyAll))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health/live")
	if err != nil {
		t.Fatalf("запрос к серверу: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve вернул ошибку: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("сервер не остановился")
	}
}
