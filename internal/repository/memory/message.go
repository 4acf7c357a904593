package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
)

type messageRepository struct {
	s *Store
}

var _ repository.MessageRepository = (*messageRepository)(nil)

func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) ([]domain.Message, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	if msg.SenderID == msg.ReceiverID || msg.Content == "" {
		return nil, repository.ErrConstraint
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[msg.ConversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	now := r.s.now()
	acked := r.markReadLocked(conv.ID, msg.SenderID, now)

	createdAt := now
	ids := r.s.log[conv.ID]
	if len(ids) > 0 {
		if last := r.s.messages[ids[len(ids)-1]]; last.CreatedAt.After(createdAt) {
			createdAt = last.CreatedAt
		}
	}

	r.s.seq++
	msg.Seq = r.s.seq
	msg.CreatedAt = createdAt
	msg.UpdatedAt = createdAt
	msg.Read = false
	msg.ReadAt = nil

	r.s.messages[msg.ID] = *msg
	r.s.log[conv.ID] = append(ids, msg.ID)

	conv.UpdatedAt = createdAt
	r.s.conversations[conv.ID] = conv
	return acked, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	msg, ok := r.s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &msg, nil
}

func (r *messageRepository) List(ctx context.Context, conversationID uuid.UUID, page domain.MessagePage) ([]domain.Message, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	page = page.Normalize()

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Message, 0)
	for _, id := range r.s.log[conversationID] {
		msg := r.s.messages[id]
		if msg.Seq <= page.After {
			continue
		}
		out = append(out, msg)
		if len(out) == page.Limit {
			break
		}
	}
	return out, nil
}

func (r *messageRepository) Latest(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	msg, ok := r.latestLocked(conversationID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &msg, nil
}

func (r *messageRepository) latestLocked(conversationID uuid.UUID) (domain.Message, bool) {
	ids := r.s.log[conversationID]
	if len(ids) == 0 {
		return domain.Message{}, false
	}
	return r.s.messages[ids[len(ids)-1]], true
}

func (r *messageRepository) LatestByConversations(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[uuid.UUID]domain.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		if msg, ok := r.latestLocked(id); ok {
			out[id] = msg
		}
	}
	return out, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, id uuid.UUID) (*domain.Message, bool, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if msg.Read {
		return &msg, false, nil
	}
	now := r.s.now()
	msg.Read = true
	msg.ReadAt = &now
	msg.UpdatedAt = now
	r.s.messages[id] = msg
	return &msg, true, nil
}

func (r *messageRepository) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, readerID string) ([]domain.Message, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.markReadLocked(conversationID, readerID, r.s.now()), nil
}

func (r *messageRepository) markReadLocked(conversationID uuid.UUID, readerID string, now time.Time) []domain.Message {
	out := make([]domain.Message, 0)
	for _, id := range r.s.log[conversationID] {
		msg := r.s.messages[id]
		if msg.ReceiverID != readerID || msg.Read {
			continue
		}
		readAt := now
		msg.Read = true
		msg.ReadAt = &readAt
		msg.UpdatedAt = now
		r.s.messages[id] = msg
		out = append(out, msg)
	}
	return out
}

func (r *messageRepository) UnreadCount(ctx context.Context, conversationID uuid.UUID, readerID string) (int, error) {
	if err := r.s.enter(ctx); err != nil {
		return 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.unreadLocked(conversationID, readerID), nil
}

func (r *messageRepository) unreadLocked(conversationID uuid.UUID, readerID string) int {
	n := 0
	for _, id := range r.s.log[conversationID] {
		if msg := r.s.messages[id]; msg.ReceiverID == readerID && !msg.Read {
			n++
		}
	}
	return n
}

func (r *messageRepository) UnreadCounts(ctx context.Context, conversationIDs []uuid.UUID, readerID string) (map[uuid.UUID]int, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[uuid.UUID]int, len(conversationIDs))
	for _, id := range conversationIDs {
		if n := r.unreadLocked(id, readerID); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}
