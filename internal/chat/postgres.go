package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgForeignKeyViolation = "23503"

	conversationColumns = `c.id, c.is_group, c.created_at, c.updated_at, c.last_message_at, c.last_message_id`
	participantColumns  = `conversation_id, user_id, joined_at, is_active, last_read_at`
	messageColumns      = `id, conversation_id, sender_id, content, type, created_at, delivered_at, read_at, is_deleted`
)

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) CreateConversation(ctx context.Context, conv Conversation, participantIDs []uuid.UUID) (*Conversation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var key sql.NullString
	if !conv.IsGroup {
		if len(participantIDs) != 2 {
			return nil, fmt.Errorf("direct conversation needs 2 participants, got %d", len(participantIDs))
		}
		key = sql.NullString{String: directKey(participantIDs[0], participantIDs[1]), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, direct_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (direct_key) DO NOTHING`,
		conv.ID, conv.IsGroup, key, conv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		// The pair already has a direct conversation (possibly created concurrently).
		row := tx.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.direct_key = $1`, key.String)
		return scanConversation(row)
	}

	for _, userID := range participantIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO participants (conversation_id, user_id, joined_at, is_active, last_read_at)
			VALUES ($1, $2, $3, TRUE, $3)`,
			conv.ID, userID, conv.CreatedAt)
		if err != nil {
			return nil, mapPgError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *PostgresRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*Participant, error) {
	var (
		joinedAt, lastReadAt sql.NullTime
		isActive             sql.NullBool
		member               uuid.NullUUID
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT p.user_id, p.joined_at, p.is_active, p.last_read_at
		FROM conversations c
		LEFT JOIN participants p ON p.conversation_id = c.id AND p.user_id = $2
		WHERE c.id = $1`,
		conversationID, userID).Scan(&member, &joinedAt, &isActive, &lastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !member.Valid {
		return nil, ErrNotParticipant
	}
	return &Participant{
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       joinedAt.Time,
		IsActive:       isActive.Bool,
		LastReadAt:     lastReadAt.Time,
	}, nil
}

func (r *PostgresRepository) ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE conversation_id = $1 AND is_active`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.IsActive, &p.LastReadAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Row lock serialises concurrent senders so created_at stays monotonic.
	var last sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE`, msg.ConversationID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var lastAt *time.Time
	if last.Valid {
		lastAt = &last.Time
	}
	createdAt := nextMessageTime(time.Now(), lastAt)
	msg.CreatedAt = createdAt
	msg.DeliveredAt = &createdAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at, delivered_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $6, FALSE)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), createdAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = $2, last_message_id = $3, updated_at = $2
		WHERE id = $1`,
		msg.ConversationID, createdAt, msg.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, conversationID uuid.UUID, offset, limit int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) AdvanceReadCursor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback()

	var cursor time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE participants
		SET last_read_at = GREATEST(last_read_at, $3,
			(SELECT last_message_at FROM conversations WHERE id = $1 AND last_message_at <= $3::timestamptz + interval '1 second'))
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING last_read_at`,
		conversationID, userID, at).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotParticipant
	}
	if err != nil {
		return time.Time{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE messages
		SET read_at = $3, delivered_at = COALESCE(delivered_at, $3)
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
		  AND created_at <= $4 AND NOT is_deleted`,
		conversationID, userID, at, cursor)
	if err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	return cursor.UTC(), nil
}

func (r *PostgresRepository) CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $2
		WHERE m.conversation_id = $1 AND m.created_at > p.last_read_at
		  AND m.sender_id <> $2 AND NOT m.is_deleted`,
		conversationID, userID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) ListConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`,
			m.id, m.sender_id, m.content, m.type, m.created_at, m.delivered_at, m.read_at,
			p.last_read_at,
			(SELECT COUNT(*) FROM messages um
			 WHERE um.conversation_id = c.id AND um.created_at > p.last_read_at
			   AND um.sender_id <> p.user_id AND NOT um.is_deleted) AS unread
		FROM participants p
		JOIN conversations c ON c.id = p.conversation_id
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE p.user_id = $1 AND p.is_active
		ORDER BY c.last_message_at DESC NULLS LAST, c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ConversationSummary
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			s                            ConversationSummary
			lastAt                       sql.NullTime
			lastID, msgID, senderID      uuid.NullUUID
			content, msgType             sql.NullString
			createdAt, deliveredAt, read sql.NullTime
		)
		err := rows.Scan(&s.Conversation.ID, &s.Conversation.IsGroup, &s.Conversation.CreatedAt, &s.Conversation.UpdatedAt,
			&lastAt, &lastID, &msgID, &senderID, &content, &msgType, &createdAt, &deliveredAt, &read, &s.LastReadAt, &s.UnreadCount)
		if err != nil {
			return nil, err
		}
		if lastAt.Valid {
			s.Conversation.LastMessageAt = &lastAt.Time
		}
		if lastID.Valid {
			s.Conversation.LastMessageID = &lastID.UUID
		}
		if msgID.Valid {
			s.LastMessage = &Message{
				ID:             msgID.UUID,
				ConversationID: s.Conversation.ID,
				SenderID:       senderID.UUID,
				Content:        content.String,
				Type:           MessageType(msgType.String),
				CreatedAt:      createdAt.Time,
				DeliveredAt:    nullTime(deliveredAt),
				ReadAt:         nullTime(read),
			}
		}
		index[s.Conversation.ID] = len(summaries)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	others, err := r.db.QueryContext(ctx, `
		SELECT op.conversation_id, op.user_id, op.joined_at, op.is_active, op.last_read_at
		FROM participants op
		JOIN participants me ON me.conversation_id = op.conversation_id AND me.user_id = $1 AND me.is_active
		WHERE op.user_id <> $1 AND op.is_active`, userID)
	if err != nil {
		return nil, err
	}
	defer others.Close()

	for others.Next() {
		var p Participant
		if err := others.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.IsActive, &p.LastReadAt); err != nil {
			return nil, err
		}
		if i, ok := index[p.ConversationID]; ok {
			summaries[i].Participants = append(summaries[i].Participants, p)
		}
	}
	return summaries, others.Err()
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c      Conversation
		lastAt sql.NullTime
		lastID uuid.NullUUID
	)
	if err := row.Scan(&c.ID, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt, &lastAt, &lastID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastAt.Valid {
		c.LastMessageAt = &lastAt.Time
	}
	if lastID.Valid {
		c.LastMessageID = &lastID.UUID
	}
	return &c, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg               Message
		msgType           string
		deliveredAt, read sql.NullTime
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msgType,
		&msg.CreatedAt, &deliveredAt, &read, &msg.IsDeleted)
	if err != nil {
		return nil, err
	}
	msg.Type = MessageType(msgType)
	msg.DeliveredAt = nullTime(deliveredAt)
	msg.ReadAt = nullTime(read)
	return &msg, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrUnknownUser
	}
	return err
}
