package user

import (
	"context"
	"testing"
	"time"

	"go-foodie/internal/apperr"

	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, "test-secret", time.Hour), repo
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("should register and hash the password", func(t *testing.T) {
		req := require.New(t)
		svc, repo := newTestService()

		u, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret123"})
		req.NoError(err)
		req.NotEqual("secret123", u.Password)
		req.True(repo.Exists(u.ID))
	})

	t.Run("should reject a taken username", func(t *testing.T) {
		req := require.New(t)
		svc, _ := newTestService()

		_, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret123"})
		req.NoError(err)
		_, err = svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "other123"})
		req.True(apperr.Is(err, apperr.CodeConflict))
	})

	t.Run("should validate fields", func(t *testing.T) {
		req := require.New(t)
		svc, _ := newTestService()

		_, err := svc.Register(ctx, &RegisterRequest{Username: "al", Password: "secret123"})
		req.True(apperr.Is(err, apperr.CodeValidation))
		_, err = svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "123"})
		req.True(apperr.Is(err, apperr.CodeValidation))
	})
}

func TestService_LoginAndValidateToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	registered, err := svc.Register(ctx, &RegisterRequest{Username: "bob", Password: "hunter22"})
	require.NoError(t, err)

	t.Run("should issue a token that validates back to the user", func(t *testing.T) {
		req := require.New(t)

		res, err := svc.Login(ctx, &LoginRequest{Username: "bob", Password: "hunter22"})
		req.NoError(err)
		req.Equal(registered.ID, res.ID)

		id, name, err := svc.ValidateToken(res.AccessToken)
		req.NoError(err)
		req.Equal(registered.ID, id)
		req.Equal("bob", name)
	})

	t.Run("should reject wrong password and unknown user alike", func(t *testing.T) {
		req := require.New(t)

		_, err := svc.Login(ctx, &LoginRequest{Username: "bob", Password: "wrong"})
		req.True(apperr.Is(err, apperr.CodeUnauthorized))
		_, err = svc.Login(ctx, &LoginRequest{Username: "nobody", Password: "hunter22"})
		req.True(apperr.Is(err, apperr.CodeUnauthorized))
	})

	t.Run("should reject tokens signed with another secret", func(t *testing.T) {
		req := require.New(t)
		other := NewService(NewMemoryRepository(), "other-secret", time.Hour)
		token, err := other.IssueToken(registered.ID, "bob")
		req.NoError(err)

		_, _, err = svc.ValidateToken(token)
		req.Error(err)
	})

	t.Run("should reject expired tokens", func(t *testing.T) {
		req := require.New(t)
		expired := NewService(NewMemoryRepository(), "test-secret", -time.Minute)
		token, err := expired.IssueToken(registered.ID, "bob")
		req.NoError(err)

		_, _, err = svc.ValidateToken(token)
		req.Error(err)
	})
}

func TestService_SearchUsers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, _ := newTestService()
	for _, name := range []string{"pizzafan", "PizzaLover", "sushi"} {
		_, err := svc.Register(ctx, &RegisterRequest{Username: name, Password: "secret123"})
		req.NoError(err)
	}

	users, err := svc.SearchUsers(ctx, "pizza")
	req.NoError(err)
	req.Len(users, 2)

	users, err = svc.SearchUsers(ctx, "  ")
	req.NoError(err)
	req.Empty(users)
}
