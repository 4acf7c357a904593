package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"matchchat/internal/domain"
	"matchchat/pkg/logger"
)

type MessageRepository interface {
	// Append сохраняет сообщение. ID, Seq и время назначает хранилище;
	// CreatedAt не убывает в порядке вставки внутри матча. В той же
	// транзакции входящие сообщения отправителя отмечаются прочитанными
	// (ответ означает, что он их видел); они возвращаются как acked.
	Append(ctx context.Context, msg *domain.Message) (acked []domain.Message, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// List возвращает страницу журнала по возрастанию (CreatedAt, Seq).
	List(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]domain.Message, error)
	Latest(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error)
	LatestByConversations(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error)

	// MarkRead отмечает одно сообщение. false - сообщение уже было прочитано.
	MarkRead(ctx context.Context, id uuid.UUID) (*domain.Message, bool, error)
	// MarkConversationRead одним UPDATE отмечает все непрочитанные сообщения
	// для readerID и возвращает именно их.
	MarkConversationRead(ctx context.Context, conversationID uuid.UUID, readerID string) ([]domain.Message, error)
	UnreadCount(ctx context.Context, conversationID uuid.UUID, readerID string) (int, error)
	UnreadCounts(ctx context.Context, conversationIDs []uuid.UUID, readerID string) (map[uuid.UUID]int, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

const messageColumns = `id, seq, match_id, sender_id, receiver_id, content, read, read_at, created_at, updated_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	err := row.Scan(
		&msg.ID, &msg.Seq, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
		&msg.Content, &msg.Read, &msg.ReadAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()
	messages := make([]domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) ([]domain.Message, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin append transaction", "error", err)
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Блокировка строки матча сериализует вставки внутри одного матча.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM matches WHERE id = $1 FOR UPDATE`, msg.ConversationID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("Failed to lock conversation", "error", err, "conversation_id", msg.ConversationID)
		return nil, err
	}

	ackQuery := `
		UPDATE messages
		SET read = TRUE, read_at = now(), updated_at = now()
		WHERE match_id = $1 AND receiver_id = $2 AND NOT read
		RETURNING ` + messageColumns
	rows, err := tx.Query(ctx, ackQuery, msg.ConversationID, msg.SenderID)
	if err != nil {
		r.log.Error("Failed to ack inbound messages", "error", err, "conversation_id", msg.ConversationID)
		return nil, err
	}
	acked, err := collectMessages(rows)
	if err != nil {
		r.log.Error("Failed to scan acked messages", "error", err, "conversation_id", msg.ConversationID)
		return nil, err
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	// GREATEST игнорирует NULL, поэтому первое сообщение получает clock_timestamp().
	query := `
		INSERT INTO messages (id, match_id, sender_id, receiver_id, content, read, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, FALSE, ts, ts
		FROM (
			SELECT GREATEST(clock_timestamp(), (SELECT MAX(created_at) FROM messages WHERE match_id = $2)) AS ts
		) t
		RETURNING seq, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content,
	).Scan(&msg.Seq, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		r.log.Error("Failed to insert message", "error", err, "conversation_id", msg.ConversationID)
		return nil, mapPgError(err)
	}

	if _, err := tx.Exec(ctx, `UPDATE matches SET updated_at = $2 WHERE id = $1`, msg.ConversationID, msg.CreatedAt); err != nil {
		r.log.Error("Failed to touch conversation", "error", err, "conversation_id", msg.ConversationID)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit message", "error", err, "conversation_id", msg.ConversationID)
		return nil, err
	}

	msg.Read = false
	msg.ReadAt = nil
	domain.SortMessages(acked)
	return acked, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("Failed to get message by ID", "error", err, "message_id", id)
		return nil, err
	}
	return msg, nil
}

func (r *messageRepository) List(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]domain.Message, error) {
	page = page.Normalize()
	// Seq растет в порядке вставки под блокировкой матча, поэтому курсор по
	// seq согласован с порядком (created_at, seq).
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE match_id = $1 AND seq > $2
		ORDER BY created_at ASC, seq ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, page.After, page.Limit)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		r.log.Error("Failed to scan messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) Latest(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE match_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("Failed to get latest message", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	return msg, nil
}

func (r *messageRepository) LatestByConversations(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	result := make(map[uuid.UUID]domain.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT DISTINCT ON (match_id) ` + messageColumns + `
		FROM messages
		WHERE match_id = ANY($1::uuid[])
		ORDER BY match_id, created_at DESC, seq DESC
	`

	rows, err := r.db.Query(ctx, query, uuidStrings(conversationIDs))
	if err != nil {
		r.log.Error("Failed to get latest messages", "error", err, "conversations", len(conversationIDs))
		return nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		r.log.Error("Failed to scan latest messages", "error", err)
		return nil, err
	}
	for _, msg := range messages {
		result[msg.ConversationID] = msg
	}
	return result, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, id uuid.UUID) (*domain.Message, bool, error) {
	query := `
		UPDATE messages
		SET read = TRUE, read_at = now(), updated_at = now()
		WHERE id = $1 AND NOT read
		RETURNING ` + messageColumns

	msg, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("Failed to mark message read", "error", err, "message_id", id)
		return nil, false, err
	}

	// Либо сообщения нет, либо оно уже прочитано.
	msg, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return msg, false, nil
}

func (r *messageRepository) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, readerID string) ([]domain.Message, error) {
	// now() фиксирован в пределах транзакции: у всей пачки один read_at.
	query := `
		UPDATE messages
		SET read = TRUE, read_at = now(), updated_at = now()
		WHERE match_id = $1 AND receiver_id = $2 AND NOT read
		RETURNING ` + messageColumns

	rows, err := r.db.Query(ctx, query, conversationID, readerID)
	if err != nil {
		r.log.Error("Failed to mark conversation read", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		r.log.Error("Failed to scan read messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	domain.SortMessages(messages)
	return messages, nil
}

func (r *messageRepository) UnreadCount(ctx context.Context, conversationID uuid.UUID, readerID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE match_id = $1 AND receiver_id = $2 AND NOT read`

	var count int
	if err := r.db.QueryRow(ctx, query, conversationID, readerID).Scan(&count); err != nil {
		r.log.Error("Failed to count unread messages", "error", err, "conversation_id", conversationID)
		return 0, err
	}
	return count, nil
}

func (r *messageRepository) UnreadCounts(ctx context.Context, conversationIDs []uuid.UUID, readerID string) (map[uuid.UUID]int, error) {
	result := make(map[uuid.UUID]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT match_id, COUNT(*)
		FROM messages
		WHERE match_id = ANY($1::uuid[]) AND receiver_id = $2 AND NOT read
		GROUP BY match_id
	`

	rows, err := r.db.Query(ctx, query, uuidStrings(conversationIDs), readerID)
	if err != nil {
		r.log.Error("Failed to count unread messages", "error", err, "reader_id", readerID)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			r.log.Error("Failed to scan unread count", "error", err)
			return nil, err
		}
		result[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
