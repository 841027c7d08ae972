package http

import (
	"context"
	"log/slog"
	"net/http"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/pkg/httputil"
	"github.com/k-yomo/kagu-miru/services/search/internal/catalog"
)

// AdminHandler serves maintenance endpoints of the local search engine.
type AdminHandler struct {
	reindexer *catalog.Reindexer
	logger    *slog.Logger
	// runCtx outlives the request that triggers a reindex.
	runCtx context.Context
}

// NewAdminHandler creates a handler. Reindex runs are bound to ctx.
func NewAdminHandler(ctx context.Context, reindexer *catalog.Reindexer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{reindexer: reindexer, logger: logger, runCtx: ctx}
}

// Reindex handles POST /api/v1/admin/reindex. The run continues in the
// background; a second request while one is running gets 409.
func (h *AdminHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.reindexer.Running() {
		httputil.WriteError(w, r, apperrors.Conflict("catalog reindex already running"), h.logger)
		return
	}

	go func() {
		if _, err := h.reindexer.Run(h.runCtx); err != nil {
			h.logger.Error("catalog reindex failed", slog.String("error", err.Error()))
		}
	}()

	httputil.WriteData(w, http.StatusAccepted, ReindexResponse{Status: "started"})
}
