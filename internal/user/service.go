package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"go-foodie/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "go-foodie"

var validate = validator.New()

type Service struct {
	repo      Store
	jwtSecret string
	tokenTTL  time.Duration
}

type MyJWTClaims struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid registration", err)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	u := &User{
		ID:        uuid.New(),
		Username:  req.Username,
		Password:  string(hashedPwd),
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateUser(ctx, u)
	if errors.Is(err, ErrUsernameTaken) {
		return nil, apperr.Conflict("username already taken", err)
	}
	if err != nil {
		return nil, apperr.Internal("create user", err)
	}
	return created, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid credentials", err)
	}

	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthorized("invalid credentials", err)
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorized("invalid credentials", err)
	}

	token, err := s.IssueToken(u.ID, u.Username)
	if err != nil {
		return nil, apperr.Internal("sign token", err)
	}

	return &LoginResponse{
		AccessToken: token,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

func (s *Service) IssueToken(id uuid.UUID, username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateToken(tokenString string) (uuid.UUID, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))

	if err != nil {
		return uuid.Nil, "", err
	}
	if !token.Valid || claims.ID == uuid.Nil {
		return uuid.Nil, "", errors.New("invalid token claims")
	}

	return claims.ID, claims.Username, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []User{}, nil
	}
	users, err := s.repo.SearchUsers(ctx, query)
	if err != nil {
		return nil, apperr.Internal("search users", err)
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}
