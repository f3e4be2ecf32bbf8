package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := Unreachablef("chapter %s", "https://example.com/1")

	assert.True(t, Is(err, ErrUnreachable))
	assert.False(t, Is(err, ErrUnsupported))

	wrapped := fmt.Errorf("load chapter: %w", err)
	assert.True(t, Is(wrapped, ErrUnreachable))
}

func TestError_WithCause(t *testing.T) {
	err := ErrUnreachable.WithCause(io.ErrUnexpectedEOF)

	assert.Equal(t, "source unreachable: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Nil(t, ErrUnreachable.Unwrap(), "sentinel must not be mutated")
}

func TestWrapf(t *testing.T) {
	err := Wrapf(io.EOF, CodeUnsupported, "command %q not found", "say")

	assert.True(t, Is(err, ErrUnsupported))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidChapter, http.StatusBadRequest},
		{CodeUnreachable, http.StatusBadGateway},
		{CodeClosed, http.StatusGone},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}
