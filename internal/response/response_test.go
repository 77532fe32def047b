package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-foodie/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestError_AppError(t *testing.T) {
	req := require.New(t)
	rec := httptest.NewRecorder()

	Error(rec, zap.NewNop(), apperr.Forbidden("not a participant of this conversation", nil))

	req.Equal(http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	req.Equal(apperr.CodeForbidden, body.Error.Code)
	req.Equal("not a participant of this conversation", body.Error.Message)
}

func TestError_ValidationErrors(t *testing.T) {
	req := require.New(t)
	type input struct {
		Content string `validate:"required,max=5"`
	}
	err := validator.New().Struct(input{Content: "far too long"})
	req.Error(err)

	rec := httptest.NewRecorder()
	Error(rec, zap.NewNop(), err)

	req.Equal(http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	req.Equal(apperr.CodeValidation, body.Error.Code)
	req.Equal("content must be at most 5 characters", body.Error.Message)
}

func TestError_UnknownIsHidden(t *testing.T) {
	req := require.New(t)
	rec := httptest.NewRecorder()

	Error(rec, zap.NewNop(), errors.New("pq: relation does not exist"))

	req.Equal(http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	req.Equal(apperr.CodeInternal, body.Error.Code)
	req.NotContains(body.Error.Message, "relation")
}
