// Пакет ledger — запись доказательства происхождения в реестр
// (контракт MediaVerification) и ожидание подтверждения транзакции.
package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/bigkaa/provenance/internal/domain/model"
)

// MediaVerificationABI — ABI метода записи контракта.
const MediaVerificationABI = `[
  {
    "type": "function",
    "name": "addMedia",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_fileHash", "type": "string"},
      {"name": "_timestamp", "type": "uint256"},
      {"name": "_latitude", "type": "int256"},
      {"name": "_longitude", "type": "int256"},
      {"name": "_ipfsCID", "type": "string"}
    ],
    "outputs": []
  }
]`

const methodAddMedia = "addMedia"

// parsedABI разбирает ABI один раз при инициализации пакета.
var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(MediaVerificationABI))
	if err != nil {
		panic(fmt.Sprintf("ledger: некорректный ABI: %v", err))
	}
	return parsed
}

// PackAddMedia кодирует вызов addMedia.
func PackAddMedia(p model.LedgerPayload) ([]byte, error) {
	if p.UnixSeconds < 0 {
		return nil, fmt.Errorf("время %d до начала эпохи не кодируется в uint256", p.UnixSeconds)
	}
	return parsedABI.Pack(methodAddMedia,
		p.FileHash,
		big.NewInt(p.UnixSeconds),
		big.NewInt(p.LatitudeE6),
		big.NewInt(p.LongitudeE6),
		p.ContentID,
	)
}

// UnpackAddMedia декодирует аргументы addMedia из calldata.
func UnpackAddMedia(data []byte) (model.LedgerPayload, error) {
	if len(data) < 4 {
		return model.LedgerPayload{}, fmt.Errorf("calldata короче селектора")
	}
	method, err := parsedABI.MethodById(data[:4])
	if err != nil || method.Name != methodAddMedia {
		return model.LedgerPayload{}, fmt.Errorf("calldata не является вызовом addMedia")
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return model.LedgerPayload{}, fmt.Errorf("ошибка декодирования addMedia: %w", err)
	}
	return model.LedgerPayload{
		FileHash:    args[0].(string),
		UnixSeconds: args[1].(*big.Int).Int64(),
		LatitudeE6:  args[2].(*big.Int).Int64(),
		LongitudeE6: args[3].(*big.Int).Int64(),
		ContentID:   args[4].(string),
	}, nil
}
