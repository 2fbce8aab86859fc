package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/firebase/genkit/go/genkit"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/conversation"
)

// ChatHandler serves the completion endpoints through the conversation
// flow: genkit's handler for the synchronous endpoint and a custom SSE
// writer for streaming.
type ChatHandler struct {
	flow   *chat.Flow
	logger *slog.Logger
}

// NewChatHandler creates a chat handler around the flow from
// chat.NewFlow().
func NewChatHandler(flow *chat.Flow, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{flow: flow, logger: logger}
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.flow == nil {
		h.logger.Warn("chat flow is nil, chat endpoints not registered")
		return
	}
	mux.Handle("POST /api/chat", genkit.Handler(h.flow))
	mux.HandleFunc("POST /api/chat/stream", h.handleStream)
}

// SSE event payloads.
type (
	// SSEChunkData is the "chunk" event body.
	SSEChunkData struct {
		Text string `json:"text"`
	}

	// SSEDoneData is the "done" event body.
	SSEDoneData struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversationId"`
	}

	// SSEErrorData is the "error" event body.
	SSEErrorData struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// handleStream runs the flow in streaming mode and writes each fragment as
// a "chunk" event, finishing with "done" or "error". The owner identity is
// always taken from the authenticated header, never the body.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx buffering off

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var input chat.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	input.OwnerID = ownerID(r)
	if input.OwnerID == "" {
		h.writeSSEError(w, flusher, "UNAUTHENTICATED", "missing owner identity")
		return
	}

	ctx := r.Context()
	h.logger.Info("stream started", "conversation_id", input.ConversationID)

	var finalOutput chat.Output
	var streamErr error
	for streamValue, err := range h.flow.Stream(ctx, input) {
		select {
		case <-ctx.Done():
			// Client went away; the orchestrator aborts and persists nothing.
			h.logger.Info("client disconnected", "conversation_id", input.ConversationID)
			return
		default:
		}

		if err != nil {
			streamErr = err
			break
		}
		if streamValue.Done {
			finalOutput = streamValue.Output
			break
		}
		if streamValue.Stream.Text != "" {
			h.writeSSEChunk(w, flusher, streamValue.Stream.Text)
		}
	}

	if streamErr != nil {
		code := errorCode(streamErr)
		h.logger.Error("stream failed",
			"conversation_id", input.ConversationID, "code", code, "error", streamErr)
		h.writeSSEError(w, flusher, code, streamErr.Error())
		return
	}

	h.writeSSEDone(w, flusher, finalOutput)
	h.logger.Info("stream completed",
		"conversation_id", input.ConversationID, "response_len", len(finalOutput.Response))
}

// errorCode maps orchestrator sentinels to stable client-facing codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return "BUSY"
	case errors.Is(err, chat.ErrValidation):
		return "INVALID_REQUEST"
	case errors.Is(err, chat.ErrUnknownModel):
		return "UNKNOWN_MODEL"
	case errors.Is(err, conversation.ErrNotFound):
		return "NOT_FOUND"
	default:
		return "STREAM_ERROR"
	}
}

func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, out chat.Output) {
	data, _ := json.Marshal(SSEDoneData{Response: out.Response, ConversationID: out.ConversationID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
