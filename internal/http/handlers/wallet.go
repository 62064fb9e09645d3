package handlers

import (
	"net/http"

	"github.com/wolfman30/consult-escrow/internal/wallet"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// WalletHandler reports the caller's balance.
type WalletHandler struct {
	ledger *wallet.LedgerClient
	logger *logging.Logger
}

func NewWalletHandler(ledger *wallet.LedgerClient, logger *logging.Logger) *WalletHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WalletHandler{ledger: ledger, logger: logger}
}

// BalanceResponse is the body of GET /wallet/balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// Balance handles GET /wallet/balance. The value is always read fresh.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	bal, err := h.ledger.Balance(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: uid, Balance: bal})
}
