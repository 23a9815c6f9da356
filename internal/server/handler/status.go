package handler

import (
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// StatusProvider reports the bot's live state.
type StatusProvider interface {
	Status() domain.BotStatus
}

// StatusHandler serves the bot status.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// GetStatus returns mode, active window, feed health, risk state and the
// last decision reason.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Status())
}
