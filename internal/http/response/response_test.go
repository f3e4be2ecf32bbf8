package response

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"message": "test"}, discardLogger())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Equal(t, map[string]any{"message": "test"}, env.Data)
	assert.Empty(t, env.Error)
}

func TestJSON_ErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusNotFound, map[string]string{"message": "test"}, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, decode(t, w).Success, "Success should be false for status >= 400")
}

func TestCreatedAndAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	Created(w, "x", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	Accepted(w, "x", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, decode(t, w).Success)
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()
	TooManyRequests(w, "3", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	assert.Equal(t, "too many requests", decode(t, w).Error)
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"not found", errors.NotFound("book not found"), http.StatusNotFound, "NOT_FOUND", "book not found"},
		{"wrapped conflict", fmt.Errorf("open: %w", errors.Conflictf("too many sessions")), http.StatusConflict, "CONFLICT", "too many sessions"},
		{"unreachable", errors.Unreachablef("timeout"), http.StatusBadGateway, "UNREACHABLE", "timeout"},
		{"closed", errors.ErrClosed, http.StatusGone, "CLOSED", "closed"},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError, "", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err, discardLogger())

			assert.Equal(t, tt.status, w.Code)
			env := decode(t, w)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
			assert.Equal(t, tt.msg, env.Error)
		})
	}
}

func TestHandleError_ValidationDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.ValidationWithDetails("validation failed", map[string]string{"title": "title is required"})

	HandleError(w, err, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.Equal(t, map[string]any{"title": "title is required"}, env.Details)
}
