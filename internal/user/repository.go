package user

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

const searchLimit = 10

// Store is the account table.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := "INSERT INTO users (id, username, password) VALUES ($1, $2, $3) RETURNING created_at"

	err := r.db.QueryRowContext(ctx, query, user.ID, user.Username, user.Password).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, username, password, created_at FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	q := `SELECT id, username, created_at FROM users WHERE username ILIKE $1 ORDER BY username LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", searchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// MemoryRepository backs STORE_DRIVER=memory and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*User
	byKey map[string]*User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[uuid.UUID]*User),
		byKey: make(map[string]*User),
	}
}

func (r *MemoryRepository) CreateUser(_ context.Context, user *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[user.Username]; ok {
		return nil, ErrUsernameTaken
	}
	stored := *user
	r.byID[user.ID] = &stored
	r.byKey[user.Username] = &stored
	return user, nil
}

func (r *MemoryRepository) GetUserByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byKey[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) SearchUsers(_ context.Context, query string) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	needle := strings.ToLower(query)
	var users []User
	for _, u := range r.byID {
		if strings.Contains(strings.ToLower(u.Username), needle) {
			users = append(users, User{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt})
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if len(users) > searchLimit {
		users = users[:searchLimit]
	}
	return users, nil
}

// Exists plays the users foreign key for the other in-memory stores.
func (r *MemoryRepository) Exists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}
