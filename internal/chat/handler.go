package chat

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
	pageSize    int
	maxPageSize int
}

func NewHandler(service *Service, log *zap.Logger, pageSize, maxPageSize int) *Handler {
	return &Handler{service: service, log: log, pageSize: pageSize, maxPageSize: maxPageSize}
}

// StartConversation finds or creates a chat: POST /api/conversations
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, h.log, apperr.Validation("malformed request body", err))
		return
	}

	conv, err := h.service.CreateConversation(r.Context(), userID, req)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, conv)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	summaries, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, summaries)
}

// GetChatHistory loads one page: GET /api/messages?conversationId=&page=&limit=
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	conversationID, err := uuid.Parse(q.Get("conversationId"))
	if err != nil {
		response.Error(w, h.log, apperr.Validation("conversationId must be a valid uuid", err))
		return
	}
	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		response.Error(w, h.log, apperr.Validation("page must be a positive integer", err))
		return
	}
	limit, err := intParam(q.Get("limit"), h.pageSize)
	if err != nil || limit < 1 {
		response.Error(w, h.log, apperr.Validation("limit must be a positive integer", err))
		return
	}
	limit = min(limit, h.maxPageSize)

	result, err := h.service.Fetch(r.Context(), userID, conversationID, page, limit)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, h.log, apperr.Validation("malformed request body", err))
		return
	}

	msg, err := h.service.Send(r.Context(), userID, req)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == uuid.Nil {
		response.Error(w, h.log, apperr.Validation("conversation_id must be a valid uuid", err))
		return
	}

	receipt, err := h.service.MarkRead(r.Context(), userID, req.ConversationID)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, receipt)
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
