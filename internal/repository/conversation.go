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

type ConversationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	// GetByPair ищет матч по канонической паре (low < high).
	GetByPair(ctx context.Context, low, high string) (*domain.Conversation, error)
	// CreateIfAbsent вставляет матч, если пары еще нет. false означает, что
	// пару уже создал кто-то другой и ее нужно перечитать.
	CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (bool, error)
	ListByParticipant(ctx context.Context, userID string, status domain.ConversationStatus) ([]domain.Conversation, error)
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

const conversationColumns = `id, user_a, user_b, initiated_by, status, created_at, updated_at`

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	var status string
	err := row.Scan(
		&conv.ID, &conv.ParticipantLow, &conv.ParticipantHigh, &conv.InitiatedBy,
		&status, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.Status = domain.ConversationStatus(status)
	return conv, nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM matches WHERE id = $1`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("Failed to get conversation by ID", "error", err, "conversation_id", id)
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepository) GetByPair(ctx context.Context, low, high string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM matches WHERE user_a = $1 AND user_b = $2`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, low, high))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("Failed to get conversation by pair", "error", err, "user_a", low, "user_b", high)
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepository) CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (bool, error) {
	query := `
		INSERT INTO matches (id, user_a, user_b, initiated_by, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_a, user_b) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		conv.ID, conv.ParticipantLow, conv.ParticipantHigh, conv.InitiatedBy, string(conv.Status),
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)

	if err != nil {
		// ON CONFLICT DO NOTHING без RETURNING-строки: пару уже вставили.
		if errors.Is(err, pgx.ErrNoRows) {
			r.log.Debug("Conversation pair already exists", "user_a", conv.ParticipantLow, "user_b", conv.ParticipantHigh)
			return false, nil
		}
		r.log.Error("Failed to create conversation", "error", err, "user_a", conv.ParticipantLow, "user_b", conv.ParticipantHigh)
		return false, mapPgError(err)
	}
	return true, nil
}

func (r *conversationRepository) ListByParticipant(ctx context.Context, userID string, status domain.ConversationStatus) ([]domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM matches
		WHERE (user_a = $1 OR user_b = $1) AND status = $2
		ORDER BY created_at DESC, id
	`

	rows, err := r.db.Query(ctx, query, userID, string(status))
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			r.log.Error("Failed to scan conversation", "error", err)
			return nil, err
		}
		convs = append(convs, *conv)
	}
	if err := rows.Err(); err != nil {
		r.log.Error("Failed to iterate conversations", "error", err)
		return nil, err
	}
	return convs, nil
}
