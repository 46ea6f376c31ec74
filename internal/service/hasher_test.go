package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

// TestHasher_Hello проверяет известный SHA-256.
func TestHasher_Hello(t *testing.T) {
	got, err := NewHasher().Digest(context.Background(), strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if got != helloHash {
		t.Errorf("ожидалось %s, получено %s", helloHash, got)
	}
}

// TestHasher_DeterministicAndSensitive проверяет стабильность и чувствительность
// к изменению любого байта на выборке случайных файлов.
func TestHasher_DeterministicAndSensitive(t *testing.T) {
	h := &Hasher{chunk: 64} // маленький блок, чтобы пройти по границам чтения
	rng := rand.New(rand.NewPCG(1, 2))
	ctx := context.Background()

	for i := range 200 {
		data := make([]byte, 1+rng.IntN(1024))
		for j := range data {
			data[j] = byte(rng.UintN(256))
		}

		a, _ := h.Digest(ctx, bytes.NewReader(data))
		b, _ := h.Digest(ctx, bytes.NewReader(bytes.Clone(data)))
		if a != b {
			t.Fatalf("образец %d: одинаковые байты дали разные хэши", i)
		}

		mutated := bytes.Clone(data)
		pos := rng.IntN(len(mutated))
		mutated[pos] ^= byte(1 + rng.UintN(255))
		c, _ := h.Digest(ctx, bytes.NewReader(mutated))
		if a == c {
			t.Fatalf("образец %d: изменение байта %d не изменило хэш", i, pos)
		}
	}
}

// failingReader отдаёт часть данных и затем ошибку.
type failingReader struct {
	sent bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("permission denied")
}

// TestHasher_ReadFailure проверяет вид ошибки при сбое чтения.
func TestHasher_ReadFailure(t *testing.T) {
	_, err := NewHasher().Digest(context.Background(), &failingReader{})
	if failure.KindOf(err, "") != failure.KindIO {
		t.Errorf("ожидалась IO_ERROR, получено %v", err)
	}
}

// TestHasher_Cancelled проверяет прерывание по контексту.
func TestHasher_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHasher().Digest(ctx, io.LimitReader(zeroReader{}, 1<<20))
	if failure.KindOf(err, "") != failure.KindIO {
		t.Errorf("ожидалась IO_ERROR, получено %v", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// TestHasher_DigestFile проверяет хэширование файла и отсутствующий путь.
func TestHasher_DigestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	h := NewHasher()
	got, err := h.DigestFile(context.Background(), path)
	if err != nil || got != helloHash {
		t.Errorf("DigestFile: %s, %v", got, err)
	}

	if _, err := h.DigestFile(context.Background(), path+".missing"); failure.KindOf(err, "") != failure.KindIO {
		t.Errorf("ожидалась IO_ERROR для отсутствующего файла, получено %v", err)
	}
}
