// wallet.go — обработчики сессии и кошелька.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	apierrors "github.com/bigkaa/provenance/internal/api/errors"
	"github.com/bigkaa/provenance/internal/api/middleware"
)

// connectRequest — тело POST /api/v1/wallet/connect.
type connectRequest struct {
	Passphrase string `json:"passphrase"`
	// Address — аккаунт keystore; пустой — аккаунт по умолчанию
	Address string `json:"address,omitempty"`
}

// GetSession обрабатывает GET /api/v1/session.
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).Pipeline.Snapshot())
}

// ConnectWallet обрабатывает POST /api/v1/wallet/connect.
// Клиент, привязанный токеном к адресу, подключает только этот аккаунт.
func (h *APIHandler) ConnectWallet(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c := client(r)
	account, ok := accountFor(c, req.Address)
	if !ok {
		apierrors.WalletMismatch(w, "токен клиента разрешает подпись только адресом "+c.Wallet.Hex())
		return
	}

	snap, err := h.session(r).ConnectWallet(r.Context(), account, req.Passphrase)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// accountFor выбирает аккаунт keystore с учётом привязки клиента:
// без явного адреса привязанный клиент получает свой.
func accountFor(c middleware.Client, requested string) (string, bool) {
	switch {
	case !c.Bound():
		return requested, true
	case requested == "":
		return c.Wallet.Hex(), true
	case common.IsHexAddress(requested) && common.HexToAddress(requested) == c.Wallet:
		return requested, true
	}
	return "", false
}

// DisconnectWallet обрабатывает POST /api/v1/wallet/disconnect.
// Незавершённая запись сбрасывается вместе с подключением.
func (h *APIHandler) DisconnectWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).DisconnectWallet())
}
