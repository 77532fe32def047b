package notification

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go-foodie/internal/apperr"
	myMiddleware "go-foodie/internal/middleware"
	"go-foodie/internal/response"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	service     *Service
	log         *zap.Logger
	maxPageSize int
}

func NewHandler(service *Service, log *zap.Logger, maxPageSize int) *Handler {
	return &Handler{service: service, log: log, maxPageSize: maxPageSize}
}

// List: GET /api/notifications?limit=&offset=&unreadOnly=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), DefaultPageSize)
	if err != nil || limit < 1 {
		response.Error(w, h.log, apperr.Validation("limit must be a positive integer", err))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		response.Error(w, h.log, apperr.Validation("offset must be a non-negative integer", err))
		return
	}
	unreadOnly := false
	if raw := q.Get("unreadOnly"); raw != "" {
		if unreadOnly, err = strconv.ParseBool(raw); err != nil {
			response.Error(w, h.log, apperr.Validation("unreadOnly must be a boolean", err))
			return
		}
	}

	result, err := h.service.List(r.Context(), userID, min(limit, h.maxPageSize), offset, unreadOnly)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// Create is the activity trigger: POST /api/notifications
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, h.log, apperr.Validation("malformed request body", err))
		return
	}

	n, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	response.JSON(w, http.StatusCreated, n)
}

// Update: PATCH /api/notifications {notification_id | mark_all_read, read}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, h.log, apperr.Validation("malformed request body", err))
		return
	}

	if req.MarkAllRead {
		changed, err := h.service.MarkAllRead(r.Context(), userID)
		if err != nil {
			response.Error(w, h.log, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]int64{"updated": changed})
		return
	}

	if req.NotificationID == nil || *req.NotificationID == uuid.Nil {
		response.Error(w, h.log, apperr.Validation("notification_id or mark_all_read is required", nil))
		return
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}
	n, err := h.service.MarkRead(r.Context(), userID, *req.NotificationID, read)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, n)
}

// Delete: DELETE /api/notifications {notification_id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotificationID == uuid.Nil {
		response.Error(w, h.log, apperr.Validation("notification_id must be a valid uuid", err))
		return
	}

	if err := h.service.Delete(r.Context(), userID, req.NotificationID); err != nil {
		response.Error(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, _, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, h.log, apperr.Unauthorized("unauthorized", nil))
	}
	return userID, ok
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
