package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/pkg/httputil"
	"github.com/k-yomo/kagu-miru/pkg/validator"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/service"
	"github.com/k-yomo/kagu-miru/services/search/internal/session"
)

// SearchPath is the page path shareable URLs are rendered under.
const SearchPath = "/search"

// SessionHandler serves the search session API.
type SessionHandler struct {
	sessions     *service.SessionManager
	awaitTimeout time.Duration
	logger       *slog.Logger
}

// NewSessionHandler creates a handler. Responses wait up to awaitTimeout
// for the in-flight search; after that the snapshot is returned with
// loading set.
func NewSessionHandler(sessions *service.SessionManager, awaitTimeout time.Duration, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		awaitTimeout: awaitTimeout,
		logger:       logger,
	}
}

// Create handles POST /api/v1/sessions?<search query string>.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context(), r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, http.StatusCreated, s)
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeSnapshot(w, r, http.StatusOK, s)
}

// Dispatch handles POST /api/v1/sessions/{id}/actions.
func (h *SessionHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	action, err := req.ToAction()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Controller().Dispatch(action); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, http.StatusOK, s)
}

// Click handles POST /api/v1/sessions/{id}/clicks.
func (h *SessionHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Controller().ReportItemClick(req.SearchID, req.ItemID)
	w.WriteHeader(http.StatusAccepted)
}

// Suggestions handles GET /api/v1/sessions/{id}/suggestions?q=.
func (h *SessionHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	fragment := r.URL.Query().Get("q")
	s.Suggestions().Fetch(fragment)

	ctx, cancel := context.WithTimeout(r.Context(), h.awaitTimeout)
	defer cancel()
	suggestions, _ := s.Suggestions().Await(ctx)
	if suggestions == nil {
		suggestions = &domain.QuerySuggestions{Query: strings.TrimSpace(fragment), SuggestedQueries: []string{}}
	}
	httputil.WriteData(w, http.StatusOK, suggestions)
}

// SelectSuggestion handles POST /api/v1/sessions/{id}/suggestions/select.
func (h *SessionHandler) SelectSuggestion(w http.ResponseWriter, r *http.Request) {
	var req SelectSuggestionRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Suggestions().Select(s.Controller(), req.Query); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, http.StatusOK, s)
}

// Close handles DELETE /api/v1/sessions/{id}.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.sessions.Close(r.Context(), id.String()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Get(r.Context(), id.String())
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) writeSnapshot(w http.ResponseWriter, r *http.Request, status int, s *service.Session) {
	ctx, cancel := context.WithTimeout(r.Context(), h.awaitTimeout)
	defer cancel()

	snap, err := s.Controller().Await(ctx)
	if err != nil && r.Context().Err() != nil {
		// Client went away.
		return
	}

	resp := SessionResponse{
		SessionID: s.ID(),
		State:     snap.State,
		URL:       s.Route().URL(SearchPath),
		Result:    snap.Result,
		Loading:   snap.Loading,
	}
	if snap.Err != nil {
		resp.SearchError = "search failed"
	}
	httputil.WriteData(w, status, resp)
}

func (h *SessionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrClosed) {
		err = apperrors.Gone("search session closed")
	}
	httputil.WriteError(w, r, err, h.logger)
}
