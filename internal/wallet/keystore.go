package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// ErrSignerRevoked — подписант отозван (кошелёк отключён).
var ErrSignerRevoked = errors.New("подписант отозван")

// Keystore — Connector поверх каталога keystore go-ethereum.
// Каждое подключение расшифровывает ключ отдельно, поэтому сессии
// с одним аккаунтом не влияют друг на друга.
type Keystore struct {
	ks             *keystore.KeyStore
	chainID        *big.Int
	defaultAccount string
	contract       common.Address
	code           CodeReader
	logger         *slog.Logger
}

// CodeReader читает байткод по адресу (ethclient.Client).
type CodeReader interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
}

// CheckContract проверяет, что по адресу развёрнут контракт.
func CheckContract(ctx context.Context, r CodeReader, contract common.Address) error {
	code, err := r.CodeAt(ctx, contract, nil)
	if err != nil {
		return failure.Wrap(failure.KindNetwork, err, "проверка контракта %s", contract.Hex())
	}
	if len(code) == 0 {
		return failure.New(failure.KindConfiguration, "контракт не найден по адресу %s", contract.Hex())
	}
	return nil
}

// NewKeystore создаёт Connector. Нулевой адрес контракта — ошибка
// конфигурации: подписывать транзакции некуда. С непустым code каждое
// подключение заново проверяет, что контракт развёрнут.
func NewKeystore(dir string, chainID *big.Int, defaultAccount string, contract common.Address, code CodeReader, logger *slog.Logger) (*Keystore, error) {
	if contract == (common.Address{}) {
		return nil, failure.New(failure.KindConfiguration, "адрес контракта не задан")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, failure.New(failure.KindConfiguration, "идентификатор сети не определён")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, failure.Wrap(failure.KindWalletUnavailable, err, "каталог keystore недоступен")
	}

	return &Keystore{
		ks:             keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP),
		chainID:        new(big.Int).Set(chainID),
		defaultAccount: defaultAccount,
		contract:       contract,
		code:           code,
		logger:         logger.With(slog.String("component", "wallet")),
	}, nil
}

// Accounts возвращает адреса аккаунтов keystore.
func (k *Keystore) Accounts() []common.Address {
	accs := k.ks.Accounts()
	out := make([]common.Address, 0, len(accs))
	for _, a := range accs {
		out = append(out, a.Address)
	}
	return out
}

// Connect расшифровывает ключ аккаунта. Пустой account — аккаунт по умолчанию
// или первый в keystore. Неверная парольная фраза — отказ в подключении.
func (k *Keystore) Connect(ctx context.Context, account, passphrase string) (Capability, error) {
	if k.code != nil {
		if err := CheckContract(ctx, k.code, k.contract); err != nil {
			return nil, err
		}
	}

	acc, err := k.resolve(account)
	if err != nil {
		return nil, err
	}

	keyJSON, err := os.ReadFile(acc.URL.Path)
	if err != nil {
		return nil, failure.Wrap(failure.KindWalletUnavailable, err, "ключ %s недоступен", acc.Address.Hex())
	}

	key, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, failure.Wrap(failure.KindConnectionRejected, err, "подключение отклонено")
		}
		return nil, failure.Wrap(failure.KindWalletUnavailable, err, "ключ %s повреждён", acc.Address.Hex())
	}

	k.logger.Info("Кошелёк подключён", slog.String("address", key.Address.Hex()))
	return newKeySigner(key.PrivateKey, key.Address, k.chainID), nil
}

func (k *Keystore) resolve(account string) (accounts.Account, error) {
	if account == "" {
		account = k.defaultAccount
	}

	all := k.ks.Accounts()
	if len(all) == 0 {
		return accounts.Account{}, failure.New(failure.KindWalletUnavailable, "в keystore нет аккаунтов")
	}
	if account == "" {
		return all[0], nil
	}

	if !common.IsHexAddress(account) {
		return accounts.Account{}, failure.New(failure.KindWalletUnavailable, "некорректный адрес %q", account)
	}
	acc, err := k.ks.Find(accounts.Account{Address: common.HexToAddress(account)})
	if err != nil {
		return accounts.Account{}, failure.Wrap(failure.KindWalletUnavailable, err, "аккаунт %s не найден", account)
	}
	return acc, nil
}

// Watch вызывает onDrop для каждого аккаунта, ключ которого удалён из keystore.
// Блокируется до отмены контекста.
func (k *Keystore) Watch(ctx context.Context, onDrop func(common.Address)) {
	events := make(chan accounts.WalletEvent, 16)
	sub := k.ks.Subscribe(events)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				k.logger.Warn("Подписка на keystore прервана", slog.String("error", err.Error()))
			}
			return
		case ev := <-events:
			if ev.Kind != accounts.WalletDropped {
				continue
			}
			for _, acc := range ev.Wallet.Accounts() {
				k.logger.Warn("Ключ удалён из keystore", slog.String("address", acc.Address.Hex()))
				onDrop(acc.Address)
			}
		}
	}
}

// keySigner — подписант с расшифрованным ключом в памяти.
type keySigner struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

func newKeySigner(key *ecdsa.PrivateKey, addr common.Address, chainID *big.Int) *keySigner {
	return &keySigner{
		key:     key,
		address: addr,
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Address реализует Signer.
func (s *keySigner) Address() common.Address {
	return s.address
}

// TransactOpts реализует Signer. Подпись проверяет отзыв в момент подписи,
// поэтому отключение во время подготовки транзакции её останавливает.
func (s *keySigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	s.mu.RLock()
	revoked := s.key == nil
	s.mu.RUnlock()
	if revoked {
		return nil, failure.Wrap(failure.KindTransactionRejected, ErrSignerRevoked, "подпись невозможна")
	}

	return &bind.TransactOpts{
		From:    s.address,
		Context: ctx,
		Signer:  s.sign,
	}, nil
}

func (s *keySigner) sign(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, failure.Wrap(failure.KindTransactionRejected, ErrSignerRevoked, "подпись отклонена")
	}
	if addr != s.address {
		return nil, failure.Wrap(failure.KindTransactionRejected, bind.ErrNotAuthorized,
			"подпись от имени %s отклонена", addr.Hex())
	}
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи: %w", err)
	}
	return signed, nil
}

// Revoke реализует Capability: ключ стирается из сессии.
func (s *keySigner) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = nil
}
