package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	data := map[string]string{"message": "hello"}
	writeJSON(w, 200, data)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "hello", result["message"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	writeError(w, 400, "INVALID_REQUEST", "invalid input")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", result.Error)
	assert.Equal(t, "invalid input", result.Message)
}

func TestOwnerID(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/conversations", nil)
	assert.Empty(t, ownerID(r))

	r.Header.Set("X-Owner-ID", "user-42")
	assert.Equal(t, "user-42", ownerID(r))
}
