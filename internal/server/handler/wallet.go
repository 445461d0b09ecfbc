package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// WalletLedger is the slice of the ledger the wallet endpoints need.
type WalletLedger interface {
	Wallet(ctx context.Context, userID string, mode domain.WalletMode) (domain.Wallet, error)
	Deposit(ctx context.Context, userID string, mode domain.WalletMode, amount int64, refID string) (domain.Wallet, error)
}

// WalletEvents is notified after a demo top-up.
type WalletEvents interface {
	WalletUpdated(ctx context.Context, w domain.Wallet)
}

// WalletHandler serves wallet balances and demo credits.
type WalletHandler struct {
	ledger WalletLedger
	events WalletEvents
	// demoGrant is the default and maximum single demo top-up.
	demoGrant int64
	logger    *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(ledger WalletLedger, events WalletEvents, demoGrant int64, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		ledger:    ledger,
		events:    events,
		demoGrant: demoGrant,
		logger:    logHandler(logger, "wallet"),
	}
}

// GetWallet returns the caller's wallet for a mode.
// GET /api/wallet?mode=real
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	mode, err := parseMode(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	wallet, err := h.ledger.Wallet(r.Context(), userID, mode)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletView(wallet))
}

type topUpRequest struct {
	Amount string `json:"amount"`
}

// DemoTopUp credits the caller's demo wallet. The body is optional; without
// an amount the default grant is credited.
// POST /api/wallet/demo/topup
func (h *WalletHandler) DemoTopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	if h.demoGrant <= 0 {
		writeError(w, http.StatusNotFound, "demo wallet disabled")
		return
	}

	amount := h.demoGrant
	if r.ContentLength != 0 {
		var req topUpRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		if req.Amount != "" {
			n, err := domain.ParseAmount(req.Amount)
			if err != nil {
				writeDomainError(w, r, h.logger, err)
				return
			}
			if n > h.demoGrant {
				writeDomainError(w, r, h.logger, domain.Invalid("amount",
					fmt.Sprintf("demo top-up is capped at %s", domain.FormatAmount(h.demoGrant))))
				return
			}
			amount = n
		}
	}

	wallet, err := h.ledger.Deposit(r.Context(), userID, domain.ModeDemo, amount, "demo-topup:"+uuid.NewString())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "demo wallet credited",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
	)
	h.events.WalletUpdated(r.Context(), wallet)
	writeJSON(w, http.StatusOK, newWalletView(wallet))
}
