package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// RoundSource answers lifecycle queries. *round.Clock satisfies it.
type RoundSource interface {
	Classes() []domain.DurationClass
	Class(name string) (domain.DurationClass, bool)
	Current(ctx context.Context, class string) (domain.Round, error)
}

// ResultSource returns stored settlement results. *settlement.Engine
// satisfies it.
type ResultSource interface {
	Result(ctx context.Context, roundID string) (domain.SettlementResult, error)
}

// RoundHandler serves round state, live totals and history.
type RoundHandler struct {
	source  RoundSource
	rounds  domain.RoundStore
	totals  domain.TotalsCache
	results ResultSource
	logger  *slog.Logger
}

// NewRoundHandler creates a RoundHandler.
func NewRoundHandler(source RoundSource, rounds domain.RoundStore, totals domain.TotalsCache, results ResultSource, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{
		source:  source,
		rounds:  rounds,
		totals:  totals,
		results: results,
		logger:  logHandler(logger, "round"),
	}
}

// GetCurrent returns the class's latest unsettled round.
// GET /api/rounds/current?class=5m
func (h *RoundHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	class, err := h.class(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	rd, err := h.source.Current(r.Context(), class)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(rd))
}

// GetTotals returns per-side stake totals. Open rounds report the live
// snapshot; settled rounds report the figures settlement used.
// GET /api/rounds/{id}/totals
func (h *RoundHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	rd, err := h.rounds.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if rd.IsSettled() {
		res, err := h.results.Result(r.Context(), rd.ID)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newTotalsView(rd, res.Totals, true))
		return
	}

	snap, err := h.totals.Snapshot(r.Context(), rd.ID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "totals snapshot unavailable",
			slog.String("round_id", rd.ID),
			slog.String("error", err.Error()),
		)
		snap = nil
	}
	writeJSON(w, http.StatusOK, newTotalsView(rd, snap, false))
}

// ListHistory returns settled rounds, newest first.
// GET /api/rounds/history?class=5m&limit=&offset=
func (h *RoundHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	class, err := h.class(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	rounds, err := h.rounds.History(r.Context(), class, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]roundView, len(rounds))
	for i, rd := range rounds {
		out[i] = newRoundView(rd)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetResult returns the settlement result of a settled round.
// GET /api/rounds/{id}/result
func (h *RoundHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.results.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListClasses returns the configured duration classes.
// GET /api/rounds/classes
func (h *RoundHandler) ListClasses(w http.ResponseWriter, _ *http.Request) {
	type classView struct {
		Name          string `json:"name"`
		DurationSec   int64  `json:"duration_seconds"`
		FreezeSeconds int64  `json:"freeze_seconds"`
	}
	classes := h.source.Classes()
	out := make([]classView, len(classes))
	for i, c := range classes {
		out[i] = classView{
			Name:          c.Name,
			DurationSec:   int64(c.Duration.Seconds()),
			FreezeSeconds: int64(c.FreezeWindow.Seconds()),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// class resolves the class query parameter, defaulting to the first
// configured class.
func (h *RoundHandler) class(r *http.Request) (string, error) {
	name := r.URL.Query().Get("class")
	if name == "" {
		classes := h.source.Classes()
		if len(classes) == 0 {
			return "", errors.New("handler: no duration classes configured")
		}
		return classes[0].Name, nil
	}
	if _, ok := h.source.Class(name); !ok {
		return "", domain.Invalid("class", fmt.Sprintf("unknown duration class %q", name))
	}
	return name, nil
}
