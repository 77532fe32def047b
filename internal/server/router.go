package server

import (
	"net/http"

	"go-foodie/internal/chat"
	myMiddleware "go-foodie/internal/middleware"
	"go-foodie/internal/notification"
	"go-foodie/internal/realtime"
	"go-foodie/internal/response"
	"go-foodie/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Users         *user.Handler
	Chat          *chat.Handler
	Notifications *notification.Handler
	Realtime      *realtime.Handler
	Auth          *myMiddleware.AuthMiddleware
}

func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", h.Users.Register)
	r.Post("/login", h.Users.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Handle)

		r.Get("/ws", h.Realtime.ServeWs)
		r.Get("/api/users/search", h.Users.SearchUsers)

		r.Route("/api/conversations", func(r chi.Router) {
			r.Get("/", h.Chat.ListConversations)
			r.Post("/", h.Chat.StartConversation)
		})

		r.Route("/api/messages", func(r chi.Router) {
			r.Get("/", h.Chat.GetChatHistory)
			r.Post("/", h.Chat.SendMessage)
			r.Post("/read", h.Chat.MarkRead)
		})

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", h.Notifications.List)
			r.Post("/", h.Notifications.Create)
			r.Patch("/", h.Notifications.Update)
			r.Delete("/", h.Notifications.Delete)
		})
	})

	return r
}
