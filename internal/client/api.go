package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-foodie/internal/apperr"
	"go-foodie/internal/chat"
	"go-foodie/internal/notification"
	"go-foodie/internal/response"
	"go-foodie/internal/user"

	"github.com/google/uuid"
)

// API is a REST client for the gateway. It is safe for concurrent use.
type API struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	token  string
	userID uuid.UUID
}

func New(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (a *API) BaseURL() string {
	return a.baseURL
}

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// UserID is the logged-in user, or uuid.Nil before Login.
func (a *API) UserID() uuid.UUID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

func (a *API) Register(ctx context.Context, username, password string) (*user.User, error) {
	var u user.User
	err := a.do(ctx, http.MethodPost, "/register", nil, user.RegisterRequest{Username: username, Password: password}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login stores the returned credential for subsequent calls.
func (a *API) Login(ctx context.Context, username, password string) (*user.LoginResponse, error) {
	var res user.LoginResponse
	err := a.do(ctx, http.MethodPost, "/login", nil, user.LoginRequest{Username: username, Password: password}, &res)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.token, a.userID = res.AccessToken, res.ID
	a.mu.Unlock()
	return &res, nil
}

func (a *API) SearchUsers(ctx context.Context, query string) ([]user.User, error) {
	var users []user.User
	err := a.do(ctx, http.MethodGet, "/api/users/search", url.Values{"q": {query}}, nil, &users)
	return users, err
}

func (a *API) StartConversation(ctx context.Context, participantIDs []uuid.UUID, isGroup bool) (*chat.Conversation, error) {
	var conv chat.Conversation
	body := chat.CreateConversationRequest{ParticipantIDs: participantIDs, IsGroup: isGroup}
	if err := a.do(ctx, http.MethodPost, "/api/conversations", nil, body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (a *API) ListConversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	var summaries []chat.ConversationSummary
	err := a.do(ctx, http.MethodGet, "/api/conversations", nil, nil, &summaries)
	return summaries, err
}

func (a *API) FetchMessages(ctx context.Context, conversationID uuid.UUID, page, limit int) (*chat.MessagePage, error) {
	q := url.Values{
		"conversationId": {conversationID.String()},
		"page":           {strconv.Itoa(page)},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res chat.MessagePage
	if err := a.do(ctx, http.MethodGet, "/api/messages", q, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) SendMessage(ctx context.Context, req chat.SendMessageRequest) (*chat.Message, error) {
	var msg chat.Message
	if err := a.do(ctx, http.MethodPost, "/api/messages", nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) MarkRead(ctx context.Context, conversationID uuid.UUID) (*chat.Receipt, error) {
	var receipt chat.Receipt
	err := a.do(ctx, http.MethodPost, "/api/messages/read", nil, chat.MarkReadRequest{ConversationID: conversationID}, &receipt)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (a *API) ListNotifications(ctx context.Context, limit, offset int, unreadOnly bool) (*notification.ListResult, error) {
	q := url.Values{
		"offset":     {strconv.Itoa(offset)},
		"unreadOnly": {strconv.FormatBool(unreadOnly)},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res notification.ListResult
	if err := a.do(ctx, http.MethodGet, "/api/notifications", q, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateNotification returns nil without error when the server skipped a self-notification.
func (a *API) CreateNotification(ctx context.Context, req notification.CreateRequest) (*notification.Notification, error) {
	var n *notification.Notification
	if err := a.do(ctx, http.MethodPost, "/api/notifications", nil, req, &n); err != nil {
		return nil, err
	}
	return n, nil
}

func (a *API) MarkNotificationRead(ctx context.Context, id uuid.UUID, read bool) (*notification.Notification, error) {
	var n notification.Notification
	body := notification.UpdateRequest{NotificationID: &id, Read: &read}
	if err := a.do(ctx, http.MethodPatch, "/api/notifications", nil, body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (a *API) MarkAllNotificationsRead(ctx context.Context) error {
	return a.do(ctx, http.MethodPatch, "/api/notifications", nil, notification.UpdateRequest{MarkAllRead: true}, nil)
}

func (a *API) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	return a.do(ctx, http.MethodDelete, "/api/notifications", nil, notification.DeleteRequest{NotificationID: id}, nil)
}

// do sends one request. Transport failures come back as TRANSIENT_NETWORK_ERROR and
// server rejections as the *apperr.Error carried in the response envelope.
func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperr.Transient(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Transient(fmt.Sprintf("decode %s %s", method, path), err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var envelope response.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
		if resp.StatusCode >= http.StatusInternalServerError {
			return apperr.Transient(resp.Status, err)
		}
		return apperr.New(apperr.CodeInternal, resp.Status, resp.StatusCode, err)
	}
	return apperr.New(envelope.Error.Code, envelope.Error.Message, resp.StatusCode, nil)
}
