package handler

import (
	"log/slog"
	"net/http"

	"github.com/brandon/medievalmarkets/internal/ledger"
)

// AdminHandler exposes operational endpoints.
type AdminHandler struct {
	ledger     *ledger.Ledger
	ledgerPath string
}

// NewAdminHandler creates an AdminHandler that snapshots the ledger to
// the given path.
func NewAdminHandler(l *ledger.Ledger, ledgerPath string) *AdminHandler {
	return &AdminHandler{ledger: l, ledgerPath: ledgerPath}
}

// Save handles POST /admin/save: forces a full ledger snapshot.
func (h *AdminHandler) Save(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.SaveToFile(h.ledgerPath); err != nil {
		slog.Error("ledger save failed", "path", h.ledgerPath, "error", err)
		WriteError(w, http.StatusInternalServerError, "save_failed", "Could not write the ledger file")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
