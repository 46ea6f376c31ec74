package ledger

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// Коды JSON-RPC, которыми узел сообщает об отказе в исполнении транзакции.
const (
	rpcCodeServerError     = -32000
	rpcCodeExecutionRevert = 3
)

const (
	revertMarker            = "execution reverted"
	insufficientFundsMarker = "insufficient funds"
)

// classify переводит ошибку узла в таксономию конвейера: откат контракта
// даёт TransactionReverted, нехватка средств у отправителя даёт
// ConfigurationError, остальное (отказ узла, транспорт, таймауты) — NetworkError.
func classify(err error, action string) error {
	if err == nil {
		return nil
	}
	if fe, ok := failure.As(err); ok {
		return fe
	}
	if reason, ok := revertReason(err); ok {
		return failure.Reverted(reason, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeExecutionRevert:
			return failure.Reverted(rpcErr.Error(), err)
		case rpcCodeServerError:
			// -32000 узел использует и для отказов пула транзакций
			if strings.Contains(rpcErr.Error(), insufficientFundsMarker) {
				return failure.Wrap(failure.KindConfiguration, err, "%s: недостаточно средств на счёте отправителя", action)
			}
			return failure.Wrap(failure.KindNetwork, err, "%s: узел отклонил транзакцию", action)
		}
	}
	return failure.Wrap(failure.KindNetwork, err, "%s", action)
}

// revertReason извлекает причину отката из данных ошибки узла
// (ABI-кодированный Error(string)) или из текста сообщения.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	i := strings.Index(msg, revertMarker)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(msg[i+len(revertMarker):], ":"))
	return rest, true
}
