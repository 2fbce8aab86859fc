package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/conversation"
)

// List pagination bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	MaxListOffset    = 100000
)

// ConversationHandler serves the conversation CRUD endpoints.
type ConversationHandler struct {
	orchestrator *chat.Orchestrator
	logger       *slog.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(orchestrator *chat.Orchestrator, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{orchestrator: orchestrator, logger: logger}
}

// RegisterRoutes registers conversation routes on the mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.create)
	mux.HandleFunc("GET /api/conversations", h.list)
	mux.HandleFunc("DELETE /api/conversations", h.deactivateAll)
	mux.HandleFunc("GET /api/conversations/{id}/history", h.history)
	mux.HandleFunc("GET /api/conversations/{id}/busy", h.busy)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.deactivate)
}

// ConversationSummary is the JSON shape of one conversation aggregate.
type ConversationSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func summarize(c *conversation.Conversation) ConversationSummary {
	return ConversationSummary{
		ID:           c.ID.String(),
		Name:         c.Name,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		CreatedAt:    c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *ConversationHandler) create(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
		return
	}

	conv, err := h.orchestrator.Create(r.Context(), owner)
	if err != nil {
		h.logger.Error("creating conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "CREATE_FAILED", "could not create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, summarize(conv))
}

func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
		return
	}

	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	convs, err := h.orchestrator.List(r.Context(), owner, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", "could not list conversations")
		return
	}

	summaries := make([]ConversationSummary, len(convs))
	for i, c := range convs {
		summaries[i] = summarize(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": summaries,
		"total":         len(summaries),
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *ConversationHandler) history(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.scoped(w, r)
	if !ok {
		return
	}

	transcript, err := h.orchestrator.History(r.Context(), owner, id)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("reading history", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "HISTORY_FAILED", "could not read history")
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

func (h *ConversationHandler) busy(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.scoped(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"busy": h.orchestrator.Busy(id)})
}

func (h *ConversationHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.scoped(w, r)
	if !ok {
		return
	}

	err := h.orchestrator.Deactivate(r.Context(), owner, id)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("deactivating conversation", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "DEACTIVATE_FAILED", "could not deactivate conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) deactivateAll(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
		return
	}

	n, err := h.orchestrator.DeactivateAll(r.Context(), owner)
	if err != nil {
		h.logger.Error("deactivating conversations", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "DEACTIVATE_FAILED", "could not deactivate conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deactivated": n})
}

// scoped extracts the owner header and path id, writing the error response
// itself when either is unusable.
func (h *ConversationHandler) scoped(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing owner identity")
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "conversation id is not a UUID")
		return "", uuid.Nil, false
	}
	return owner, id, true
}

// parseIntParam parses an integer query parameter with bounds.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
