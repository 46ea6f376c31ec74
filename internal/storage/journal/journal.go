package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const fileSuffix = ".journal.json"

// Journal — файловый журнал операций.
type Journal struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт журнал. Проверяет и создаёт директорию, если она не существует,
// и проверяет доступность на запись.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	if err := checkDirWritable(dir); err != nil {
		return nil, err
	}

	return &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "journal")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// checkDirWritable проверяет запись в директорию через temp файл.
func checkDirWritable(dir string) error {
	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)
	return nil
}

// CheckWritable проверяет, что журнал может писать (для readiness-проверки).
func (j *Journal) CheckWritable() error {
	return checkDirWritable(j.dir)
}

// Start создаёт запись со статусом pending.
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (j *Journal) Start(op Operation, session, fileHash string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		EntryID:   uuid.New().String(),
		Operation: op,
		Status:    StatusPending,
		Session:   session,
		FileHash:  fileHash,
		StartedAt: j.now(),
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	j.logger.Debug("Операция начата",
		slog.String("entry_id", entry.EntryID),
		slog.String("operation", string(op)),
		slog.String("file_hash", fileHash),
	)
	return entry, nil
}

// MarkBroadcast сохраняет хэш отправленной транзакции до её подтверждения.
func (j *Journal) MarkBroadcast(id, txHash string) error {
	return j.update(id, func(e *Entry) {
		e.TxHash = txHash
	}, StatusPending)
}

// Commit помечает операцию успешной. apply дописывает результат (CID, tx hash).
func (j *Journal) Commit(id string, apply func(*Entry)) error {
	return j.update(id, func(e *Entry) {
		if apply != nil {
			apply(e)
		}
		now := j.now()
		e.Status = StatusCommitted
		e.CompletedAt = &now
	}, StatusPending)
}

// Rollback помечает операцию неуспешной с причиной.
func (j *Journal) Rollback(id, reason string) error {
	return j.update(id, func(e *Entry) {
		now := j.now()
		e.Status = StatusRolledBack
		e.Reason = reason
		e.CompletedAt = &now
	}, StatusPending)
}

// update читает запись, проверяет статус, применяет изменения и сохраняет.
func (j *Journal) update(id string, mutate func(*Entry), want Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntry(id)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", id, err)
	}
	if entry.Status != want {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", id, entry.Status, want)
	}

	mutate(entry)

	if err := j.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", id, err)
	}

	if entry.Status != StatusPending {
		j.logger.Debug("Операция завершена",
			slog.String("entry_id", id),
			slog.String("operation", string(entry.Operation)),
			slog.String("status", string(entry.Status)),
		)
	}
	return nil
}

// Get читает запись по идентификатору.
func (j *Journal) Get(id string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readEntry(id)
}

// List возвращает все записи журнала, упорядоченные по времени начала.
func (j *Journal) List() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.listLocked()
}

func (j *Journal) listLocked() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	entries := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), fileSuffix)
		entry, err := j.readEntry(id)
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(a, b int) bool {
		return entries[a].StartedAt.Before(entries[b].StartedAt)
	})
	return entries, nil
}

// RecoverPending возвращает незавершённые записи. Вызывается при старте.
// Отправленные, но не подтверждённые транзакции не переотправляются:
// отправка не идемпотентна, исход проверяется по хэшу транзакции.
func (j *Journal) RecoverPending() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.listLocked()
	if err != nil {
		return nil, err
	}

	var pending []*Entry
	for _, entry := range all {
		if entry.Status != StatusPending {
			continue
		}
		pending = append(pending, entry)

		attrs := []any{
			slog.String("entry_id", entry.EntryID),
			slog.String("operation", string(entry.Operation)),
			slog.String("file_hash", entry.FileHash),
			slog.Time("started_at", entry.StartedAt),
		}
		if entry.Broadcast() {
			j.logger.Warn("Транзакция отправлена, подтверждение не получено",
				append(attrs, slog.String("tx_hash", entry.TxHash))...)
			continue
		}
		j.logger.Warn("Обнаружена незавершённая операция", attrs...)
	}
	return pending, nil
}

// CleanCompleted удаляет завершённые записи, закрытые раньше olderThan назад.
func (j *Journal) CleanCompleted(olderThan time.Duration) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.listLocked()
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-olderThan)
	cleaned := 0
	for _, entry := range all {
		if entry.Status == StatusPending || entry.CompletedAt == nil || entry.CompletedAt.After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, fileName(entry.EntryID))
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Не удалось удалить запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		j.logger.Info("Очистка журнала завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// writeEntry атомарно записывает запись на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (j *Journal) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(j.dir, fileName(entry.EntryID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// readEntry читает запись из файла.
func (j *Journal) readEntry(id string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, fileName(id)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}
