// Пакет journal — файловый журнал внешних операций конвейера.
// Закрепление файла и отправка транзакции необратимы, поэтому каждая
// такая операция сначала журналируется со статусом pending, а после
// ответа внешней системы коммитится или откатывается.
// Каждая операция — отдельный файл {entry_id}.journal.json.
package journal

import (
	"time"
)

// Operation — тип журналируемой операции.
type Operation string

const (
	// OpPin — закрепление файла в хранилище (результат — CID)
	OpPin Operation = "pin"
	// OpAnchor — запись доказательства в реестр (результат — хэш транзакции)
	OpAnchor Operation = "anchor"
)

// Status — статус записи журнала.
type Status string

const (
	// StatusPending — операция начата, ответ не получен
	StatusPending Status = "pending"
	// StatusCommitted — операция завершилась успешно
	StatusCommitted Status = "committed"
	// StatusRolledBack — операция завершилась ошибкой
	StatusRolledBack Status = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {entry_id}.journal.json.
type Entry struct {
	EntryID   string    `json:"entry_id"`
	Operation Operation `json:"operation"`
	Status    Status    `json:"status"`

	// Session — владелец сессии (sub из JWT)
	Session string `json:"session"`
	// FileHash — SHA-256 файла, к которому относится операция
	FileHash string `json:"file_hash"`
	// ContentID — CID закреплённого файла
	ContentID string `json:"content_id,omitempty"`
	// TxHash — хэш отправленной транзакции; появляется до подтверждения
	TxHash string `json:"tx_hash,omitempty"`
	// Reason — вид и причина ошибки для rolled_back
	Reason string `json:"reason,omitempty"`
	// Stale — результат пришёл после отмены записи пользователем
	Stale bool `json:"stale,omitempty"`

	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil для pending записей
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Broadcast сообщает, что транзакция ушла в сеть, но исход неизвестен.
func (e *Entry) Broadcast() bool {
	return e.Operation == OpAnchor && e.Status == StatusPending && e.TxHash != ""
}

// fileName возвращает имя файла журнала для записи.
func fileName(id string) string {
	return id + ".journal.json"
}
