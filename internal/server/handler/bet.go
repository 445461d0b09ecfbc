package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/roundbet/internal/admission"
	"github.com/alanyoungcy/roundbet/internal/domain"
)

// Admitter places and cancels bets. *admission.Controller satisfies it.
type Admitter interface {
	PlaceBet(ctx context.Context, req admission.PlaceRequest) (domain.Bet, error)
	CancelBet(ctx context.Context, userID, betID string) (domain.Bet, error)
}

// BetHandler serves bet placement, cancellation and listing.
type BetHandler struct {
	admitter Admitter
	bets     domain.BetStore
	logger   *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(admitter Admitter, bets domain.BetStore, logger *slog.Logger) *BetHandler {
	return &BetHandler{admitter: admitter, bets: bets, logger: logHandler(logger, "bet")}
}

type placeBetRequest struct {
	RoundID string            `json:"round_id"`
	Market  domain.Market     `json:"market"`
	Side    domain.Side       `json:"side"`
	Amount  string            `json:"amount"`
	Mode    domain.WalletMode `json:"mode"`
}

// PlaceBet admits a bet for the caller.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeReal
	}

	bet, err := h.admitter.PlaceBet(r.Context(), admission.PlaceRequest{
		UserID:  userID,
		RoundID: req.RoundID,
		Market:  req.Market,
		Side:    req.Side,
		Amount:  amount,
		Mode:    req.Mode,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBetView(bet))
}

// CancelBet cancels one of the caller's open bets.
// DELETE /api/bets/{id}
func (h *BetHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bet, err := h.admitter.CancelBet(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBetView(bet))
}

// ListBets returns the caller's bets, optionally for one round.
// GET /api/bets?round_id=
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bets, err := h.bets.ListByUser(r.Context(), userID, r.URL.Query().Get("round_id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]betView, len(bets))
	for i, b := range bets {
		out[i] = newBetView(b)
	}
	writeJSON(w, http.StatusOK, out)
}
