// Пакет wallet — сессия кошелька: подключение, адрес и возможность
// подписи транзакций реестра. Сессия создаётся на клиента и передаётся
// явно; глобальных дескрипторов кошелька нет.
package wallet

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// Signer — возможность подписывать и отправлять транзакции реестра.
// Используется только LedgerSubmitter.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// Capability — подписант, которого сессия может отозвать.
type Capability interface {
	Signer
	Revoke()
}

// Connector открывает подписанта для аккаунта.
// Ошибки: KindWalletUnavailable, KindConnectionRejected, KindConfiguration.
type Connector interface {
	Connect(ctx context.Context, account, passphrase string) (Capability, error)
}

// Status — состояние подключения для API.
type Status struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// Session — подключение кошелька одного клиента.
type Session struct {
	mu        sync.Mutex
	connector Connector
	cap       Capability
	listeners []func(reason string)
}

// NewSession создаёт отключённую сессию.
func NewSession(c Connector) *Session {
	return &Session{connector: c}
}

// Connect подключает кошелёк. Повторное подключение заменяет подписанта:
// прежний отзывается, подписчики уведомляются об отключении.
func (s *Session) Connect(ctx context.Context, account, passphrase string) (common.Address, error) {
	c, err := s.connector.Connect(ctx, account, passphrase)
	if err != nil {
		return common.Address{}, failure.Wrap(failure.KindWalletUnavailable, err, "кошелёк недоступен")
	}

	s.mu.Lock()
	prev := s.cap
	s.cap = c
	listeners := s.listeners
	s.mu.Unlock()

	if prev != nil {
		prev.Revoke()
		notify(listeners, "переподключение кошелька")
	}
	return c.Address(), nil
}

// Disconnect отзывает подписанта и уведомляет подписчиков.
// Возвращает false, если сессия уже была отключена.
func (s *Session) Disconnect(reason string) bool {
	s.mu.Lock()
	prev := s.cap
	s.cap = nil
	listeners := s.listeners
	s.mu.Unlock()

	if prev == nil {
		return false
	}
	prev.Revoke()
	notify(listeners, reason)
	return true
}

// RevokeIf отключает сессию, если подключён указанный адрес
// (ключ удалён из keystore внешней стороной).
func (s *Session) RevokeIf(addr common.Address, reason string) bool {
	s.mu.Lock()
	match := s.cap != nil && s.cap.Address() == addr
	s.mu.Unlock()

	if !match {
		return false
	}
	return s.Disconnect(reason)
}

// Signer возвращает текущего подписанта или KindWalletUnavailable.
func (s *Session) Signer() (Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return nil, failure.New(failure.KindWalletUnavailable, "кошелёк не подключён")
	}
	return s.cap, nil
}

// Connected сообщает, подключён ли кошелёк.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap != nil
}

// Status возвращает состояние подключения.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap == nil {
		return Status{}
	}
	return Status{Connected: true, Address: s.cap.Address().Hex()}
}

// OnDisconnect регистрирует обработчик отключения. Вызывается вне блокировки.
func (s *Session) OnDisconnect(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func notify(listeners []func(string), reason string) {
	for _, fn := range listeners {
		fn(reason)
	}
}
