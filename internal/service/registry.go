// registry.go — реестр сессий агента.
//
// Сессия ищется по subject из JWT. Хранение — expirable LRU: время жизни
// продлевается при каждом обращении, размер ограничен. Вытесненная сессия
// закрывается: кошелёк отключается, незавершённая запись отбрасывается.
package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Registry — сессии по subject.
type Registry struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	factory  func(id string) *Session
	closing  sync.WaitGroup
	logger   *slog.Logger
}

// NewRegistry создаёт реестр не более чем на maxSessions сессий с временем жизни ttl.
// factory создаёт сессию для нового subject.
func NewRegistry(maxSessions int, ttl time.Duration, factory func(id string) *Session, logger *slog.Logger) *Registry {
	r := &Registry{
		factory: factory,
		logger:  logger.With(slog.String("component", "registry")),
	}
	r.sessions = expirable.NewLRU[string, *Session](maxSessions, r.onEvict, ttl)
	return r
}

// Get возвращает сессию subject, создавая её при необходимости.
// Обращение продлевает время жизни сессии.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions.Get(id); ok {
		r.sessions.Add(id, s)
		return s
	}

	// Истёкшая, но ещё не вычищенная запись закрывается через onEvict
	r.sessions.Remove(id)

	s := r.factory(id)
	r.sessions.Add(id, s)
	sessionsActive.Inc()
	r.logger.Info("Сессия создана", slog.String("session", id))
	return s
}

// Peek возвращает существующую сессию без продления.
func (r *Registry) Peek(id string) (*Session, bool) {
	return r.sessions.Peek(id)
}

// Len возвращает число сессий.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// RevokeAddress отключает кошелёк во всех сессиях, где подключён addr.
// Возвращает число затронутых сессий.
func (r *Registry) RevokeAddress(addr common.Address, reason string) int {
	n := 0
	for _, s := range r.sessions.Values() {
		if s.Wallet.RevokeIf(addr, reason) {
			n++
		}
	}
	if n > 0 {
		r.logger.Warn("Ключ отозван в сессиях",
			slog.String("address", addr.Hex()),
			slog.Int("sessions", n),
		)
	}
	return n
}

// LiveBlobs возвращает имена файлов спула, занятых незавершёнными записями сессий.
func (r *Registry) LiveBlobs() map[string]bool {
	live := make(map[string]bool)
	for _, s := range r.sessions.Values() {
		if name := s.Pipeline.BlobName(); name != "" {
			live[name] = true
		}
	}
	return live
}

// Close закрывает все сессии и ждёт их завершения.
func (r *Registry) Close() {
	r.sessions.Purge()
	r.closing.Wait()
}

// onEvict вызывается LRU под его блокировкой, поэтому сессия закрывается в горутине.
func (r *Registry) onEvict(id string, s *Session) {
	sessionsActive.Dec()
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		s.Close("сессия истекла")
		r.logger.Info("Сессия закрыта", slog.String("session", id))
	}()
}
