package user

import (
	"encoding/json"
	"net/http"

	"go-foodie/internal/apperr"
	"go-foodie/internal/response"

	"go.uber.org/zap"
)

type Handler struct {
	Service *Service
	log     *zap.Logger
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, h.log, apperr.Validation("malformed request body", err))
		return
	}

	u, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}

	response.JSON(w, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, h.log, apperr.Validation("malformed request body", err))
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		response.Error(w, h.log, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		response.Error(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}
