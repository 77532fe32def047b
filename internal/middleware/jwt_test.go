package myMiddleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	token string
	id    uuid.UUID
}

func (s stubValidator) ValidateToken(token string) (uuid.UUID, string, error) {
	if token != s.token {
		return uuid.Nil, "", errors.New("bad token")
	}
	return s.id, "alice", nil
}

func TestAuthMiddleware(t *testing.T) {
	id := uuid.New()
	am := NewAuthMiddleware(stubValidator{token: "good", id: id})

	var seen uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, username, ok := UserFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, "alice", username)
		seen = userID
		w.WriteHeader(http.StatusNoContent)
	})
	h := am.Handle(next)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer good", "", http.StatusNoContent},
		{"query fallback", "", "?token=good", http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"invalid", "Bearer nope", "", http.StatusUnauthorized},
		{"malformed header", "good", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = uuid.Nil
			r := httptest.NewRequest(http.MethodGet, "/api/conversations"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				require.Equal(t, id, seen)
			} else {
				require.Equal(t, uuid.Nil, seen)
			}
		})
	}
}
