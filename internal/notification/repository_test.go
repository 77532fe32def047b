package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"go-foodie/internal/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openPostgres(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DB_DSN")
	if testing.Short() || dsn == "" {
		t.Skip("Skipping postgres test: needs DB_DSN and no -short")
	}
	ctx := context.Background()
	database, err := db.NewDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate(ctx))
	return database.Conn
}

func insertUser(t *testing.T, conn *sql.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := conn.Exec(`INSERT INTO users (id, username, password) VALUES ($1, $2, 'x')`, id, "pg-"+id.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Exec(`DELETE FROM users WHERE id = $1`, id) })
	return id
}

func TestPostgresRepository(t *testing.T) {
	conn := openPostgres(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	recipient, sender, stranger := insertUser(t, conn), insertUser(t, conn), insertUser(t, conn)

	base := time.Now().UTC().Truncate(time.Microsecond)
	var ids []uuid.UUID
	for i := range 4 {
		n := Notification{
			ID:          uuid.New(),
			RecipientID: recipient,
			SenderID:    &sender,
			Type:        TypeLike,
			Payload:     json.RawMessage(`{"review_id": "r1"}`),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.Insert(ctx, n))
		ids = append(ids, n.ID)
	}

	t.Run("should list newest first and page", func(t *testing.T) {
		req := require.New(t)
		page, err := repo.List(ctx, recipient, 0, 3, false)
		req.NoError(err)
		req.Len(page, 3)
		req.Equal(ids[3], page[0].ID)
		req.Equal(sender, *page[0].SenderID)
		req.JSONEq(`{"review_id":"r1"}`, string(page[0].Payload))
		req.True(page[0].CreatedAt.Equal(base.Add(3 * time.Second)))

		rest, err := repo.List(ctx, recipient, 3, 3, false)
		req.NoError(err)
		req.Len(rest, 1)
		req.Equal(ids[0], rest[0].ID)
	})

	t.Run("should only let the recipient mark read", func(t *testing.T) {
		req := require.New(t)
		_, err := repo.SetRead(ctx, ids[1], stranger, true)
		req.ErrorIs(err, ErrNotFound)

		n, err := repo.SetRead(ctx, ids[1], recipient, true)
		req.NoError(err)
		req.True(n.Read)

		unread, err := repo.CountUnread(ctx, recipient)
		req.NoError(err)
		req.Equal(3, unread)

		onlyUnread, err := repo.List(ctx, recipient, 0, 10, true)
		req.NoError(err)
		req.Len(onlyUnread, 3)
		for _, item := range onlyUnread {
			req.NotEqual(ids[1], item.ID)
		}
	})

	t.Run("should only let the recipient delete", func(t *testing.T) {
		req := require.New(t)
		req.ErrorIs(repo.Delete(ctx, ids[0], stranger), ErrNotFound)
		req.NoError(repo.Delete(ctx, ids[0], recipient))
		req.ErrorIs(repo.Delete(ctx, ids[0], recipient), ErrNotFound)

		unread, err := repo.CountUnread(ctx, recipient)
		req.NoError(err)
		req.Equal(2, unread)
	})

	t.Run("should mark the rest read once", func(t *testing.T) {
		req := require.New(t)
		changed, err := repo.SetAllRead(ctx, recipient)
		req.NoError(err)
		req.EqualValues(2, changed)

		changed, err = repo.SetAllRead(ctx, recipient)
		req.NoError(err)
		req.Zero(changed)
	})

	t.Run("should reject unknown recipients", func(t *testing.T) {
		err := repo.Insert(ctx, Notification{ID: uuid.New(), RecipientID: uuid.New(), Type: TypeFollow, Payload: json.RawMessage(`{}`), CreatedAt: base})
		require.ErrorIs(t, err, ErrUnknownUser)
	})
}
