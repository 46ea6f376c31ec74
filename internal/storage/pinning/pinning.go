// Пакет pinning — закрепление файлов в распределённом хранилище
// с адресацией по содержимому. Каждый бэкенд возвращает CID; пустой
// или некорректный CID в ответе считается ошибкой загрузки.
package pinning

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// Request — файл для закрепления.
type Request struct {
	// Name — исходное имя файла (в метаданных пина)
	Name string
	// FileHash — SHA-256 содержимого
	FileHash string
	Content  io.Reader
	Size     int64
}

// Uploader закрепляет байты и возвращает CID.
// Один вызов — не более одной загрузки; повторять после успеха — задача вызывающего.
type Uploader interface {
	Pin(ctx context.Context, req Request) (string, error)
	// Backend — имя бэкенда для логов и метрик.
	Backend() string
	// Endpoint — базовый URL сервиса для проверки доступности.
	Endpoint() string
}

// ValidateCID проверяет CID из ответа сервиса.
func ValidateCID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", failure.New(failure.KindUploadFailed, "сервис не вернул CID")
	}
	c, err := cid.Decode(s)
	if err != nil {
		return "", failure.Wrap(failure.KindUploadFailed, err, "некорректный CID %q", s)
	}
	return c.String(), nil
}

// statusError переводит HTTP-статус ответа сервиса в таксономию.
func statusError(backend string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return failure.New(failure.KindAuthentication, "%s отклонил учётные данные (%d)", backend, resp.StatusCode)
	default:
		return failure.New(failure.KindUploadFailed, "%s вернул %d: %s", backend, resp.StatusCode, msg)
	}
}

// transportError оборачивает сетевую ошибку запроса.
func transportError(backend string, err error) error {
	if errors.Is(err, context.Canceled) {
		return failure.Wrap(failure.KindUploadFailed, err, "загрузка в %s отменена", backend)
	}
	return failure.Wrap(failure.KindUploadFailed, err, "%s недоступен", backend)
}

// multipartBody формирует тело multipart/form-data потоково, без буферизации файла.
// fields пишутся перед файлом.
func multipartBody(field, name string, content io.Reader, fields map[string]string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := newMultipartWriter(pw)

	go func() {
		err := mw.writeAll(field, name, content, fields)
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}
