// record.go — обработчики стадий конвейера текущей записи.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apierrors "github.com/bigkaa/provenance/internal/api/errors"
	"github.com/bigkaa/provenance/internal/domain/model"
)

// fileField — имя multipart-поля с файлом.
const fileField = "file"

// hashRequest — тело POST /api/v1/record/hash. Тело необязательно.
type hashRequest struct {
	// Location — координаты устройства клиента
	Location *model.Location `json:"location,omitempty"`
	// LocationDenied — клиент запретил доступ к геолокации
	LocationDenied bool `json:"location_denied,omitempty"`
}

// SelectFile обрабатывает POST /api/v1/record (multipart/form-data, поле file).
// Файл потоково пишется в спул; предыдущая запись отбрасывается.
func (h *APIHandler) SelectFile(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "Отсутствует поле "+fileField)
			return
		}
		if err != nil {
			apierrors.ValidationError(w, "Ошибка чтения multipart: "+err.Error())
			return
		}
		if part.FormName() != fileField {
			_ = part.Close()
			continue
		}

		name := part.FileName()
		if name == "" {
			_ = part.Close()
			apierrors.ValidationError(w, "Не указано имя файла")
			return
		}

		snap, err := h.session(r).Pipeline.SelectFile(name, part)
		_ = part.Close()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
}

// ResetRecord обрабатывает DELETE /api/v1/record.
func (h *APIHandler) ResetRecord(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).Pipeline.Reset("сброшено пользователем"))
}

// HashRecord обрабатывает POST /api/v1/record/hash.
// Хэширование и захват геолокации идут параллельно; при отказе
// геолокации конвейер ждёт решения proceed или abort.
func (h *APIHandler) HashRecord(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
	}

	loc := h.geo.Locator(req.Location, req.LocationDenied)
	snap, err := h.session(r).Pipeline.Hash(context.WithoutCancel(r.Context()), loc)
	h.respond(w, r, snap, err)
}

// ProceedWithoutLocation обрабатывает POST /api/v1/record/location/proceed.
func (h *APIHandler) ProceedWithoutLocation(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session(r).Pipeline.ProceedWithoutLocation()
	h.respond(w, r, snap, err)
}

// AbortLocation обрабатывает POST /api/v1/record/location/abort.
func (h *APIHandler) AbortLocation(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session(r).Pipeline.AbortLocation()
	h.respond(w, r, snap, err)
}

// UploadRecord обрабатывает POST /api/v1/record/upload.
// Стадия не прерывается обрывом клиентского соединения: её ограничивает
// собственный таймаут загрузки.
func (h *APIHandler) UploadRecord(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session(r).Pipeline.Upload(context.WithoutCancel(r.Context()))
	h.respond(w, r, snap, err)
}

// SubmitRecord обрабатывает POST /api/v1/record/submit.
// Ожидание подтверждения ограничено таймаутом реестра.
func (h *APIHandler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session(r).Pipeline.Submit(context.WithoutCancel(r.Context()))
	h.respond(w, r, snap, err)
}

// ListConfirmed обрабатывает GET /api/v1/records/confirmed.
func (h *APIHandler) ListConfirmed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).Pipeline.Confirmed())
}

func (h *APIHandler) respond(w http.ResponseWriter, r *http.Request, snap any, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
