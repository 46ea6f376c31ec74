// Пакет errors — конструкторы стандартных ошибок API агента.
// Единый формат: {"error": {"code": "...", "message": "...", "reason": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется как apierrors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// Коды ошибок, определённые в OpenAPI контракте.
// Ошибки стадий конвейера передаются кодом своего вида (failure.Kind).
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeStagePending       = "STAGE_PENDING"
	CodeWalletNotConnected = "WALLET_NOT_CONNECTED"
	CodeWalletMismatch     = "WALLET_MISMATCH"
	CodeNoLocationDecision = "NO_LOCATION_DECISION"
	CodeStaleResult        = "STALE_RESULT"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// kindStatus — HTTP-статус для вида ошибки стадии.
var kindStatus = map[failure.Kind]int{
	failure.KindIO:                  http.StatusInternalServerError,
	failure.KindLocationUnavailable: http.StatusUnprocessableEntity,
	failure.KindWalletUnavailable:   http.StatusServiceUnavailable,
	failure.KindConnectionRejected:  http.StatusForbidden,
	failure.KindConfiguration:       http.StatusInternalServerError,
	failure.KindUploadFailed:        http.StatusBadGateway,
	failure.KindAuthentication:      http.StatusBadGateway,
	failure.KindTransactionRejected: http.StatusForbidden,
	failure.KindTransactionReverted: http.StatusConflict,
	failure.KindNetwork:             http.StatusGatewayTimeout,
}

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Reason — причина отката от реестра (только TRANSACTION_REVERTED)
	Reason string `json:"reason,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// StatusFor возвращает HTTP-статус для вида ошибки.
func StatusFor(kind failure.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Failure записывает ошибку стадии: код — вид ошибки, статус — по таблице видов.
func Failure(w http.ResponseWriter, fe *failure.Error) {
	msg := fe.Message
	if fe.Err != nil {
		msg += ": " + fe.Err.Error()
	}
	writeBody(w, StatusFor(fe.Kind), errorDetail{
		Code:    string(fe.Kind),
		Message: msg,
		Reason:  fe.Reason,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// InvalidTransition — 409 действие недоступно в текущем состоянии конвейера.
func InvalidTransition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeInvalidTransition, message)
}

// StagePending — 409 стадия уже выполняется.
func StagePending(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeStagePending, message)
}

// WalletNotConnected — 409 загрузка и отправка требуют подключённого кошелька.
func WalletNotConnected(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeWalletNotConnected, message)
}

// WalletMismatch — 403 токен клиента привязан к другому адресу подписи.
func WalletMismatch(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeWalletMismatch, message)
}

// NoLocationDecision — 409 нет ожидающего решения о геолокации.
func NoLocationDecision(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeNoLocationDecision, message)
}

// StaleResult — 409 запись сброшена во время выполнения стадии.
func StaleResult(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeStaleResult, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
