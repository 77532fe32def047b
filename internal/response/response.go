package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go-foodie/internal/apperr"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error maps err onto the JSON error envelope. Unknown errors are logged and hidden.
func Error(w http.ResponseWriter, log *zap.Logger, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		JSON(w, http.StatusBadRequest, ErrorBody{Error: ErrorInfo{
			Code:    apperr.CodeValidation,
			Message: validationMessage(validationErrs),
		}})
		return
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Status >= http.StatusInternalServerError && log != nil {
			log.Error("request failed", zap.String("code", appErr.Code), zap.Error(err))
		}
		JSON(w, appErr.Status, ErrorBody{Error: ErrorInfo{Code: appErr.Code, Message: appErr.Message}})
		return
	}

	if log != nil {
		log.Error("unexpected error", zap.Error(err))
	}
	JSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorInfo{
		Code:    apperr.CodeInternal,
		Message: "An unexpected error occurred",
	}})
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid input data"
	}
	fe := errs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "alphanum":
		return field + " must contain only letters and digits"
	default:
		return field + " is invalid"
	}
}
