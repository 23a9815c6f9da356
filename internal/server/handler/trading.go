package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// LiveBook exposes the order manager's in-memory positions and orders.
type LiveBook interface {
	OpenPositions() []domain.Position
	OpenOrders() []domain.Order
}

// TradingHandler serves positions, orders, decisions and the report.
type TradingHandler struct {
	live      LiveBook
	orders    domain.OrderStore
	decisions domain.DecisionStore
	report    domain.ReportStore
	logger    *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(live LiveBook, stores domain.Stores, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		live:      live,
		orders:    stores.Orders,
		decisions: stores.Decisions,
		report:    stores.Report,
		logger:    logger,
	}
}

// ListPositions returns open positions.
// GET /api/positions
func (h *TradingHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.live.OpenPositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// ListOpenOrders returns resting orders.
// GET /api/orders/open
func (h *TradingHandler) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.live.OpenOrders()
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListOrders pages through persisted orders.
// GET /api/orders?mode=paper&since=...&limit=50
func (h *TradingHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC3339")
		return
	}
	orders, err := h.orders.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListDecisions pages through decision snapshots.
// GET /api/decisions?since=...&limit=50
func (h *TradingHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC3339")
		return
	}
	snaps, err := h.decisions.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list decisions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}
	if snaps == nil {
		snaps = []domain.DecisionSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": snaps})
}

// Report returns the persisted activity summary.
// GET /api/report?mode=live
func (h *TradingHandler) Report(w http.ResponseWriter, r *http.Request) {
	sum, err := h.report.Summary(r.Context(), r.URL.Query().Get("mode"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "report failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
