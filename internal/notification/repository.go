package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound    = errors.New("notification not found")
	ErrUnknownUser = errors.New("unknown user")
)

type Repository interface {
	Insert(ctx context.Context, n Notification) error
	// List returns the recipient's notifications newest first.
	List(ctx context.Context, recipientID uuid.UUID, offset, limit int, unreadOnly bool) ([]Notification, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error)
	// SetRead and Delete match on (id, recipient) so nobody else can touch the row.
	SetRead(ctx context.Context, id, recipientID uuid.UUID, read bool) (*Notification, error)
	SetAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id, recipientID uuid.UUID) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, recipient_id, sender_id, type, payload, read, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*Notification, error) {
	var (
		n       Notification
		sender  uuid.NullUUID
		payload []byte
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &sender, &n.Type, &payload, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	if sender.Valid {
		n.SenderID = &sender.UUID
	}
	n.Payload = json.RawMessage(payload)
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, n Notification) error {
	var sender uuid.NullUUID
	if n.SenderID != nil {
		sender = uuid.NullUUID{UUID: *n.SenderID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.RecipientID, sender, n.Type, []byte(n.Payload), n.Read, n.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrUnknownUser
	}
	return err
}

func (r *PostgresRepository) List(ctx context.Context, recipientID uuid.UUID, offset, limit int, unreadOnly bool) ([]Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT read`, recipientID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) SetRead(ctx context.Context, id, recipientID uuid.UUID, read bool) (*Notification, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE notifications SET read = $3
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+columns,
		id, recipientID, read)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (r *PostgresRepository) SetAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND NOT read`, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Delete(ctx context.Context, id, recipientID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryRepository backs STORE_DRIVER=memory and tests.
type MemoryRepository struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*Notification
	userExists func(uuid.UUID) bool
}

func NewMemoryRepository(userExists func(uuid.UUID) bool) *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]*Notification), userExists: userExists}
}

func (r *MemoryRepository) Insert(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userExists != nil && !r.userExists(n.RecipientID) {
		return ErrUnknownUser
	}
	r.items[n.ID] = &n
	return nil
}

func (r *MemoryRepository) List(_ context.Context, recipientID uuid.UUID, offset, limit int, unreadOnly bool) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Notification
	for _, n := range r.items {
		if n.RecipientID == recipientID && (!unreadOnly || !n.Read) {
			all = append(all, *n)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) CountUnread(_ context.Context, recipientID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) SetRead(_ context.Context, id, recipientID uuid.UUID, read bool) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, ErrNotFound
	}
	n.Read = read
	cp := *n
	return &cp, nil
}

func (r *MemoryRepository) SetAllRead(_ context.Context, recipientID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id, recipientID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.RecipientID != recipientID {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}
