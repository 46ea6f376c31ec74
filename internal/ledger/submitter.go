package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bigkaa/provenance/internal/domain/failure"
	"github.com/bigkaa/provenance/internal/domain/model"
	"github.com/bigkaa/provenance/internal/wallet"
)

// gasMarginPercent — запас к оценке газа.
const gasMarginPercent = 20

// Backend — узел реестра (ethclient.Client).
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Submitter отправляет addMedia и ждёт подтверждения.
// Отправка не идемпотентна: каждый вызов Submit — новая транзакция.
type Submitter struct {
	backend        Backend
	address        common.Address
	contract       *bind.BoundContract
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// NewSubmitter создаёт Submitter для контракта по адресу.
func NewSubmitter(backend Backend, address common.Address, confirmTimeout time.Duration, logger *slog.Logger) (*Submitter, error) {
	if address == (common.Address{}) {
		return nil, failure.New(failure.KindConfiguration, "адрес контракта не задан")
	}
	if confirmTimeout <= 0 {
		return nil, failure.New(failure.KindConfiguration, "ожидание подтверждения должно быть ограничено")
	}
	return &Submitter{
		backend:        backend,
		address:        address,
		contract:       bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		confirmTimeout: confirmTimeout,
		logger:         logger.With(slog.String("component", "ledger")),
	}, nil
}

// Submit подписывает и отправляет addMedia. Возвращается сразу после
// отправки; подтверждение ждёт Pending.Wait.
//
// Газ оценивается заранее отдельным вызовом: так причина отката контракта
// доходит до вызывающего без потерь. Обращения к узлу до отправки
// ограничены тем же таймаутом, что и ожидание подтверждения.
func (s *Submitter) Submit(ctx context.Context, signer wallet.Signer, p model.LedgerPayload) (*Pending, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	data, err := PackAddMedia(p)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransactionRejected, err, "некорректные данные записи")
	}

	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransactionRejected, err, "подписант недоступен")
	}

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: opts.From,
		To:   &s.address,
		Data: data,
	})
	if err != nil {
		return nil, classify(err, "оценка газа")
	}
	opts.GasLimit = gas + gas*gasMarginPercent/100

	tx, err := s.contract.RawTransact(opts, data)
	if err != nil {
		return nil, classify(err, "отправка транзакции")
	}

	s.logger.Info("Транзакция отправлена",
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.String("file_hash", p.FileHash),
		slog.String("from", opts.From.Hex()),
	)
	return &Pending{tx: tx, from: opts.From, s: s}, nil
}

// Pending — отправленная, ещё не подтверждённая транзакция.
type Pending struct {
	tx   *types.Transaction
	from common.Address
	s    *Submitter
}

// Hash возвращает хэш транзакции.
func (p *Pending) Hash() string {
	return p.tx.Hash().Hex()
}

// Wait ждёт включения транзакции в блок не дольше таймаута подтверждения.
// Неуспешный receipt — TransactionReverted с причиной, если узел её сообщит.
func (p *Pending) Wait(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.s.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, p.s.backend, p.tx)
	if err != nil {
		return failure.Wrap(failure.KindNetwork, err, "подтверждение %s не получено", p.Hash())
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := p.replay(ctx, receipt)
		p.s.logger.Warn("Транзакция отменена контрактом",
			slog.String("tx_hash", p.Hash()),
			slog.String("reason", reason),
		)
		return failure.Reverted(reason, nil)
	}

	p.s.logger.Info("Транзакция подтверждена",
		slog.String("tx_hash", p.Hash()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return nil
}

// replay повторяет вызов в блоке транзакции, чтобы получить причину отката.
func (p *Pending) replay(ctx context.Context, receipt *types.Receipt) string {
	_, err := p.s.backend.CallContract(ctx, ethereum.CallMsg{
		From:  p.from,
		To:    p.tx.To(),
		Gas:   p.tx.Gas(),
		Value: p.tx.Value(),
		Data:  p.tx.Data(),
	}, receipt.BlockNumber)
	if err != nil {
		if reason, ok := revertReason(err); ok && reason != "" {
			return reason
		}
	}
	return fmt.Sprintf("транзакция отменена в блоке %s", receipt.BlockNumber)
}
