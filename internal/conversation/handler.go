package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-frontdesk/internal/lock"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Engine is the conversation surface the HTTP handler needs.
type Engine interface {
	StartConversation(ctx context.Context, req StartRequest) (*Response, error)
	ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error)
	GetHistory(ctx context.Context, conversationID string) ([]Message, error)
	EndConversation(ctx context.Context, conversationID string) error
}

// Handler wires HTTP requests to the conversation service.
type Handler struct {
	engine Engine
	logger *logging.Logger
}

func NewHandler(engine Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// Start handles POST /conversations/start. An empty body is allowed.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	resp, err := h.engine.StartConversation(r.Context(), req)
	if err != nil {
		h.fail(w, "failed to start conversation", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// Message handles POST /conversations/message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" {
		h.writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	resp, err := h.engine.ProcessMessage(r.Context(), req)
	if err != nil {
		h.fail(w, "failed to process message", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// History handles GET /conversations/{id}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := h.engine.GetHistory(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to load history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "messages": history})
}

// End handles DELETE /conversations/{id}.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EndConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "failed to end conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrUnknownConversation):
		h.writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, ErrEmptyMessage):
		h.writeError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, ErrConversationExists):
		h.writeError(w, http.StatusConflict, "conversation already exists")
	case errors.Is(err, lock.ErrLockTimeout):
		h.writeError(w, http.StatusServiceUnavailable, "conversation is busy, try again")
	default:
		h.logger.Error(msg, "error", err)
		h.writeError(w, http.StatusInternalServerError, msg)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
