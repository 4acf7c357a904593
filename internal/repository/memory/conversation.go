package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
)

type conversationRepository struct {
	s *Store
}

var _ repository.ConversationRepository = (*conversationRepository)(nil)

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &conv, nil
}

func (r *conversationRepository) GetByPair(ctx context.Context, low, high string) (*domain.Conversation, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.pairs[[2]string{low, high}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	conv := r.s.conversations[id]
	return &conv, nil
}

func (r *conversationRepository) CreateIfAbsent(ctx context.Context, conv *domain.Conversation) (bool, error) {
	if err := r.s.enter(ctx); err != nil {
		return false, err
	}
	if conv.ParticipantLow >= conv.ParticipantHigh || !conv.HasParticipant(conv.InitiatedBy) || !conv.Status.Valid() {
		return false, repository.ErrConstraint
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]string{conv.ParticipantLow, conv.ParticipantHigh}
	if _, exists := r.s.pairs[key]; exists {
		return false, nil
	}
	now := r.s.now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	r.s.conversations[conv.ID] = *conv
	r.s.pairs[key] = conv.ID
	return true, nil
}

func (r *conversationRepository) ListByParticipant(ctx context.Context, userID string, status domain.ConversationStatus) ([]domain.Conversation, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Conversation
	for _, conv := range r.s.conversations {
		if conv.Status == status && conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	slices.SortFunc(out, func(a, b domain.Conversation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}
