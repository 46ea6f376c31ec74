package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/provenance/internal/wallet"
)

// Session — клиент агента: один кошелёк и один конвейер.
// Сессии не разделяют изменяемого состояния.
type Session struct {
	ID       string
	Wallet   *wallet.Session
	Pipeline *Pipeline
	logger   *slog.Logger
}

// NewSession создаёт сессию с отключённым кошельком и конвейером в idle.
func NewSession(id string, connector wallet.Connector, deps PipelineDeps) *Session {
	w := wallet.NewSession(connector)
	return &Session{
		ID:       id,
		Wallet:   w,
		Pipeline: NewPipeline(id, w, deps),
		logger:   deps.Logger.With(slog.String("component", "session"), slog.String("session", id)),
	}
}

// ConnectWallet подключает кошелёк. Переподключение сбрасывает незавершённую запись.
func (s *Session) ConnectWallet(ctx context.Context, account, passphrase string) (Snapshot, error) {
	addr, err := s.Wallet.Connect(ctx, account, passphrase)
	if err != nil {
		s.logger.Warn("Кошелёк не подключён", slog.String("error", err.Error()))
		return s.Pipeline.Snapshot(), err
	}
	s.logger.Info("Кошелёк подключён", slog.String("address", addr.Hex()))
	return s.Pipeline.Snapshot(), nil
}

// DisconnectWallet отключает кошелёк; конвейер возвращается в idle.
func (s *Session) DisconnectWallet() Snapshot {
	if s.Wallet.Disconnect("отключено пользователем") {
		s.logger.Info("Кошелёк отключён")
	}
	return s.Pipeline.Snapshot()
}

// Close завершает сессию: отзывает подписанта и освобождает спул.
func (s *Session) Close(reason string) {
	if !s.Wallet.Disconnect(reason) {
		s.Pipeline.Reset(reason)
	}
	s.logger.Debug("Сессия закрыта", slog.String("reason", reason))
}
