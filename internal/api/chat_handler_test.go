package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/log"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"busy", fmt.Errorf("wrapped: %w", chat.ErrBusy), "BUSY"},
		{"validation", chat.ErrValidation, "INVALID_REQUEST"},
		{"unknown model", chat.ErrUnknownModel, "UNKNOWN_MODEL"},
		{"not found", conversation.ErrNotFound, "NOT_FOUND"},
		{"other", errors.New("boom"), "STREAM_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestWriteSSEEvents(t *testing.T) {
	h := NewChatHandler(nil, log.NewNop())
	w := httptest.NewRecorder()

	h.writeSSEChunk(w, w, "hello ")
	h.writeSSEDone(w, w, chat.Output{Response: "hello world", ConversationID: "c1"})

	events := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.Len(t, events, 2)

	assert.True(t, strings.HasPrefix(events[0], "event: chunk\ndata: "))
	var chunk SSEChunkData
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[0], "event: chunk\ndata: ")), &chunk))
	assert.Equal(t, "hello ", chunk.Text)

	assert.True(t, strings.HasPrefix(events[1], "event: done\ndata: "))
	var done SSEDoneData
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[1], "event: done\ndata: ")), &done))
	assert.Equal(t, "hello world", done.Response)
	assert.Equal(t, "c1", done.ConversationID)
}

func TestWriteSSEError(t *testing.T) {
	h := NewChatHandler(nil, log.NewNop())
	w := httptest.NewRecorder()

	h.writeSSEError(w, w, "BUSY", "conversation busy")

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: error\ndata: "))
	var payload SSEErrorData
	data := strings.TrimSpace(strings.TrimPrefix(body, "event: error\ndata: "))
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, "BUSY", payload.Code)
	assert.Equal(t, "conversation busy", payload.Message)
}
