package openapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRouter собирает роутер с проверкой и двумя маршрутами из документа.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := NewValidator(doc, testLogger())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(v.Middleware())
		ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
		r.Post("/api/v1/wallet/connect", ok)
		r.Post("/api/v1/record/hash", ok)
		r.Post("/api/v1/record", ok)
		r.Get("/api/v1/undocumented", ok)
	})
	return r
}

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Paths.Find("/api/v1/record/submit") == nil {
		t.Error("в документе нет /api/v1/record/submit")
	}
}

func TestValidator(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		wantStatus  int
	}{
		{"подключение без пароля", "/api/v1/wallet/connect", "application/json", `{}`, http.StatusBadRequest},
		{"подключение", "/api/v1/wallet/connect", "application/json", `{"passphrase":"secret"}`, http.StatusOK},
		{"некорректный адрес", "/api/v1/wallet/connect", "application/json",
			`{"passphrase":"secret","address":"0x12"}`, http.StatusBadRequest},
		{"хэш без тела", "/api/v1/record/hash", "", "", http.StatusOK},
		{"хэш с координатами", "/api/v1/record/hash", "application/json",
			`{"location":{"latitude":55.75,"longitude":37.61}}`, http.StatusOK},
		{"широта вне диапазона", "/api/v1/record/hash", "application/json",
			`{"location":{"latitude":91,"longitude":0}}`, http.StatusBadRequest},
		{"лишнее поле", "/api/v1/record/hash", "application/json", `{"foo":1}`, http.StatusBadRequest},
		{"multipart не читается", "/api/v1/record", "multipart/form-data; boundary=x", "--x--", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидался %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestValidator_UndocumentedPassesThrough(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/undocumented", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("статус %d, ожидался 200", rec.Code)
	}
}
