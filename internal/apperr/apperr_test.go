package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs_ThroughWrapping(t *testing.T) {
	req := require.New(t)
	base := Forbidden("not a participant", nil)
	wrapped := fmt.Errorf("send: %w", base)

	req.True(Is(wrapped, CodeForbidden))
	req.False(Is(wrapped, CodeNotFound))
	req.False(Is(errors.New("plain"), CodeForbidden))
}

func TestConstructors_Status(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
		code   string
	}{
		{Unauthorized("x", nil), http.StatusUnauthorized, CodeUnauthorized},
		{Forbidden("x", nil), http.StatusForbidden, CodeForbidden},
		{Validation("x", nil), http.StatusBadRequest, CodeValidation},
		{NotFound("conversation", nil), http.StatusNotFound, CodeNotFound},
		{Conflict("x", nil), http.StatusConflict, CodeConflict},
		{Internal("x", nil), http.StatusInternalServerError, CodeInternal},
		{Transient("x", nil), http.StatusServiceUnavailable, CodeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			require.Equal(t, tt.status, tt.err.Status)
			require.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := FanOut("conversation:1", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "conversation:1")
	require.Equal(t, "conversation not found", NotFound("conversation", nil).Message)
}
