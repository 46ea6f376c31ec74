// Пакет service — бизнес-логика provenance-agent.
// hasher.go — потоковый SHA-256 по всему содержимому файла.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// hashChunkSize — размер блока чтения при хэшировании.
const hashChunkSize = 256 * 1024

// Hasher вычисляет SHA-256 содержимого. Никаких побочных эффектов кроме чтения.
type Hasher struct {
	chunk int
}

// NewHasher создаёт Hasher.
func NewHasher() *Hasher {
	return &Hasher{chunk: hashChunkSize}
}

// Digest читает r до EOF и возвращает hex SHA-256.
// Ошибка чтения возвращается как failure.KindIO; отмена контекста
// проверяется между блоками.
func (h *Hasher) Digest(ctx context.Context, r io.Reader) (string, error) {
	sum := sha256.New()
	buf := make([]byte, h.chunk)

	for {
		if err := ctx.Err(); err != nil {
			return "", failure.Wrap(failure.KindIO, err, "хэширование прервано")
		}
		n, err := r.Read(buf)
		if n > 0 {
			sum.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", failure.Wrap(failure.KindIO, err, "ошибка чтения файла")
		}
	}

	return hex.EncodeToString(sum.Sum(nil)), nil
}

// DigestFile хэширует файл по пути.
func (h *Hasher) DigestFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", failure.Wrap(failure.KindIO, err, "ошибка открытия файла %s", path)
	}
	defer f.Close()
	return h.Digest(ctx, f)
}
