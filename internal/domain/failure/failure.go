// Пакет failure — таксономия ошибок конвейера происхождения файлов.
// Каждая ошибка стадии несёт вид (Kind), по которому конвейер решает,
// можно ли повторить стадию и нужна ли новая транзакция.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind — вид ошибки стадии.
type Kind string

const (
	// KindIO — не удалось прочитать байты файла.
	KindIO Kind = "IO_ERROR"
	// KindLocationUnavailable — геолокация запрещена или не получена за таймаут.
	KindLocationUnavailable Kind = "LOCATION_UNAVAILABLE"
	// KindWalletUnavailable — нет совместимого подписанта.
	KindWalletUnavailable Kind = "WALLET_UNAVAILABLE"
	// KindConnectionRejected — пользователь отклонил подключение кошелька.
	KindConnectionRejected Kind = "CONNECTION_REJECTED"
	// KindConfiguration — отсутствует или некорректен обязательный параметр.
	KindConfiguration Kind = "CONFIGURATION_ERROR"
	// KindUploadFailed — сетевая ошибка или ошибка сервиса закрепления.
	KindUploadFailed Kind = "UPLOAD_FAILED"
	// KindAuthentication — неверные учётные данные сервиса хранения.
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	// KindTransactionRejected — подпись транзакции отклонена.
	KindTransactionRejected Kind = "TRANSACTION_REJECTED"
	// KindTransactionReverted — реестр отклонил транзакцию.
	KindTransactionReverted Kind = "TRANSACTION_REVERTED"
	// KindNetwork — отправка или ожидание подтверждения не завершились.
	KindNetwork Kind = "NETWORK_ERROR"
)

// Error — ошибка стадии с видом и человекочитаемой причиной.
// Reason заполняется причиной отката, если реестр её сообщил.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap возвращает исходную ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду: errors.Is(err, failure.New(KindNetwork, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New создаёт ошибку заданного вида.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает err в ошибку заданного вида.
// Если err уже является *Error, он возвращается без изменений.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Reverted создаёт ошибку отката с причиной от реестра.
func Reverted(reason string, err error) *Error {
	return &Error{
		Kind:    KindTransactionReverted,
		Message: "транзакция отклонена реестром",
		Reason:  reason,
		Err:     err,
	}
}

// KindOf возвращает вид ошибки. Ошибки вне таксономии классифицируются
// как fallback; истечение контекста всегда считается сетевой ошибкой.
func KindOf(err error, fallback Kind) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return fallback
}

// As извлекает *Error из цепочки.
func As(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}

// Retryable сообщает, можно ли повторить стадию без побочных эффектов
// неудачной попытки.
func Retryable(kind Kind) bool {
	switch kind {
	case KindUploadFailed, KindNetwork, KindIO, KindLocationUnavailable:
		return true
	default:
		return false
	}
}

// NeedsNewTransaction сообщает, что повтор возможен только новой подписанной транзакцией.
func NeedsNewTransaction(kind Kind) bool {
	return kind == KindTransactionRejected || kind == KindTransactionReverted
}
