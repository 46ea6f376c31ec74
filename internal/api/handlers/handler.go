// handler.go — APIHandler: HTTP-обработчики сессии, кошелька и конвейера.
// Сессия выбирается по клиенту из контекста (JWT sub или local).
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/provenance/internal/api/errors"
	"github.com/bigkaa/provenance/internal/api/middleware"
	"github.com/bigkaa/provenance/internal/domain/failure"
	"github.com/bigkaa/provenance/internal/domain/pipeline"
	"github.com/bigkaa/provenance/internal/geo"
	"github.com/bigkaa/provenance/internal/service"
	"github.com/bigkaa/provenance/internal/storage/spool"
)

// SessionProvider выдаёт сессию по идентификатору, создавая её при необходимости.
type SessionProvider interface {
	Get(id string) *service.Session
}

// APIHandler — обработчики /api/v1.
type APIHandler struct {
	sessions SessionProvider
	geo      geo.Source
	logger   *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
// source определяет, откуда берутся координаты при хэшировании.
func NewAPIHandler(sessions SessionProvider, source geo.Source, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		sessions: sessions,
		geo:      source,
		logger:   logger.With(slog.String("component", "api")),
	}
}

// Routes регистрирует маршруты /api/v1 в роутере.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/api/v1/session", h.GetSession)

	r.Post("/api/v1/wallet/connect", h.ConnectWallet)
	r.Post("/api/v1/wallet/disconnect", h.DisconnectWallet)

	r.Post("/api/v1/record", h.SelectFile)
	r.Delete("/api/v1/record", h.ResetRecord)
	r.Post("/api/v1/record/hash", h.HashRecord)
	r.Post("/api/v1/record/location/proceed", h.ProceedWithoutLocation)
	r.Post("/api/v1/record/location/abort", h.AbortLocation)
	r.Post("/api/v1/record/upload", h.UploadRecord)
	r.Post("/api/v1/record/submit", h.SubmitRecord)

	r.Get("/api/v1/records/confirmed", h.ListConfirmed)
}

// client возвращает клиента запроса; без аутентификации — локальную сессию.
func client(r *http.Request) middleware.Client {
	c, ok := middleware.ClientFromContext(r.Context())
	if !ok || c.Session == "" {
		return middleware.Client{Session: middleware.LocalSession}
	}
	return c
}

// session возвращает сессию клиента запроса.
func (h *APIHandler) session(r *http.Request) *service.Session {
	return h.sessions.Get(client(r).Session)
}

// writeJSON записывает успешный JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError преобразует ошибку сервиса в ответ API.
// Ошибки-запреты (переход, кошелёк, решение о геолокации) не меняют
// состояние конвейера; ошибки стадий отдаются кодом своего вида.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var te *pipeline.TransitionError
	switch {
	case errors.As(err, &te):
		if te.Code == pipeline.CodeStagePending {
			apierrors.StagePending(w, te.Message)
			return
		}
		apierrors.InvalidTransition(w, te.Message)
	case errors.Is(err, service.ErrWalletNotConnected):
		apierrors.WalletNotConnected(w, err.Error())
	case errors.Is(err, service.ErrNoLocationDecision):
		apierrors.NoLocationDecision(w, err.Error())
	case errors.Is(err, service.ErrStaleResult):
		apierrors.StaleResult(w, err.Error())
	case errors.Is(err, spool.ErrTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	default:
		if fe, ok := failure.As(err); ok {
			apierrors.Failure(w, fe)
			return
		}
		h.logger.Error("Необработанная ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
