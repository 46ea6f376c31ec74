package spool

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNew_CreatesDirectory проверяет создание директории спула.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")

	s, err := New(dir, 1024)
	if err != nil {
		t.Fatalf("ошибка создания Spool: %v", err)
	}
	if s.Dir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, s.Dir())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("директория не создана: %v", err)
	}
}

// TestSaveOpenDelete проверяет полный цикл файла спула.
func TestSaveOpenDelete(t *testing.T) {
	s, _ := New(t.TempDir(), 1024)
	content := []byte("hello")

	blob, err := s.Save(bytes.NewReader(content), "alice@example.com")
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if blob.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), blob.Size)
	}
	if !strings.HasPrefix(blob.Name, "aliceexamplecom_") || !strings.HasSuffix(blob.Name, blobExt) {
		t.Errorf("неожиданное имя файла: %s", blob.Name)
	}
	if _, err := os.Stat(blob.Path + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не должен оставаться")
	}

	f, err := s.Open(blob)
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	got, _ := io.ReadAll(f)
	f.Close()
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое: ожидалось %q, получено %q", content, got)
	}

	if err := s.Delete(blob); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if err := s.Delete(blob); err != nil {
		t.Errorf("повторное удаление должно быть идемпотентным: %v", err)
	}
	if _, err := s.Open(blob); err == nil {
		t.Error("ожидалась ошибка открытия удалённого файла")
	}
}

// TestSave_TooLarge проверяет ограничение размера.
func TestSave_TooLarge(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, 4)

	if _, err := s.Save(strings.NewReader("1234"), "u"); err != nil {
		t.Fatalf("файл ровно лимита должен приниматься: %v", err)
	}
	_, err := s.Save(strings.NewReader("12345"), "u")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидалась ErrTooLarge, получено %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("в спуле должен остаться один файл, найдено %d", len(entries))
	}
}

// TestSweep проверяет удаление старых файлов.
func TestSweep(t *testing.T) {
	s, _ := New(t.TempDir(), 1024)
	old, _ := s.Save(strings.NewReader("old"), "u")
	fresh, _ := s.Save(strings.NewReader("fresh"), "u")

	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old.Path, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Sweep(time.Hour, nil)
	if err != nil {
		t.Fatalf("ошибка Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("ожидалось удаление 1 файла, удалено %d", removed)
	}
	if _, err := os.Stat(fresh.Path); err != nil {
		t.Error("свежий файл не должен удаляться")
	}
}

// TestSweep_Keep проверяет, что занятые файлы не удаляются независимо от возраста.
func TestSweep_Keep(t *testing.T) {
	s, _ := New(t.TempDir(), 1024)
	busy, _ := s.Save(strings.NewReader("busy"), "u")
	idle, _ := s.Save(strings.NewReader("idle"), "u")

	past := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{busy.Path, idle.Path} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.Sweep(time.Hour, func(name string) bool { return name == busy.Name })
	if err != nil {
		t.Fatalf("ошибка Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("ожидалось удаление 1 файла, удалено %d", removed)
	}
	if _, err := os.Stat(busy.Path); err != nil {
		t.Error("занятый файл удалён")
	}
	if _, err := os.Stat(idle.Path); !os.IsNotExist(err) {
		t.Error("незанятый старый файл не удалён")
	}
}

// TestCheckWritable проверяет readiness спула с учётом свободного места.
func TestCheckWritable(t *testing.T) {
	s, _ := New(t.TempDir(), 1024)
	if err := s.CheckWritable(); err != nil {
		t.Fatalf("ожидался доступный спул: %v", err)
	}

	total, used, available, err := s.DiskUsage()
	if err != nil {
		t.Fatalf("DiskUsage: %v", err)
	}
	if total <= 0 || available > total || used != total-available {
		t.Errorf("некорректная ёмкость: total=%d used=%d available=%d", total, used, available)
	}

	huge, _ := New(s.Dir(), total+1)
	if err := huge.CheckWritable(); err == nil {
		t.Error("ожидалась ошибка: файл максимального размера не помещается на диск")
	}
}
