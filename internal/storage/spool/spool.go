// Пакет spool — временное хранение выбранных пользователем файлов.
// Байты файла живут на диске, пока запись не подтверждена или не
// отброшена; хэширование и загрузка читают их потоково.
package spool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// blobExt — расширение готового файла спула.
const blobExt = ".blob"

// ErrTooLarge — файл превышает допустимый размер.
var ErrTooLarge = errors.New("файл превышает максимальный размер")

// Spool — директория временных файлов сессий.
type Spool struct {
	dir     string
	maxSize int64
}

// Blob — сохранённый в спуле файл.
type Blob struct {
	// Name — имя файла в директории спула
	Name string
	// Path — абсолютный путь
	Path string
	// Size — размер в байтах
	Size int64
}

// New создаёт Spool. Проверяет и создаёт директорию, если она не существует.
func New(dir string, maxSize int64) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию спула %s: %w", dir, err)
	}
	return &Spool{dir: dir, maxSize: maxSize}, nil
}

// CheckWritable проверяет, что спул принимает запись (для readiness-проверки):
// директория доступна и на диске помещается файл максимального размера.
func (s *Spool) CheckWritable() error {
	testFile := filepath.Join(s.dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("директория спула %s недоступна для записи: %w", s.dir, err)
	}
	_ = os.Remove(testFile)

	_, _, available, err := s.DiskUsage()
	if err != nil {
		return err
	}
	if available < s.maxSize {
		return fmt.Errorf("на диске спула свободно %d байт, требуется %d", available, s.maxSize)
	}
	return nil
}

// Save записывает данные из reader в спул.
// Формат имени: {owner}_{timestamp}_{uuid}.blob
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *Spool) Save(reader io.Reader, owner string) (*Blob, error) {
	name := generateName(owner)
	fullPath := filepath.Join(s.dir, name)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Читаем на байт больше лимита, чтобы отличить ровно maxSize от превышения
	size, err := io.Copy(f, io.LimitReader(reader, s.maxSize+1))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size > s.maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w (%d байт)", ErrTooLarge, s.maxSize)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &Blob{Name: name, Path: fullPath, Size: size}, nil
}

// Open открывает файл спула для чтения. Вызывающий код обязан закрыть файл.
func (s *Spool) Open(b *Blob) (*os.File, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл спула не найден: %s", b.Name)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", b.Name, err)
	}
	return f, nil
}

// Delete удаляет файл спула. Возвращает nil, если файла уже нет.
func (s *Spool) Delete(b *Blob) error {
	if b == nil {
		return nil
	}
	err := os.Remove(b.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", b.Name, err)
	}
	return nil
}

// Sweep удаляет файлы спула старше olderThan, включая брошенные .tmp.
// Файлы, для которых keep возвращает true, остаются; keep может быть nil.
// Возвращает число удалённых файлов.
func (s *Spool) Sweep(olderThan time.Duration, keep func(name string) bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории спула: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), blobExt) && !strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if keep != nil && keep(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Dir возвращает путь к директории спула.
func (s *Spool) Dir() string {
	return s.dir
}

// generateName генерирует имя файла спула.
// Пример: alice_20260221150405_a1b2c3d4.blob
func generateName(owner string) string {
	o := sanitize(owner)
	if len(o) > 40 {
		o = o[:40]
	}
	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%s_%s%s", o, ts, uid, blobExt)
}

// sanitize оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "session"
	}
	return result.String()
}
