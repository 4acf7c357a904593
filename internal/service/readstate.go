package service

import (
	"context"

	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type ReadStateService interface {
	// MarkRead отмечает одно сообщение; отметить может только получатель.
	// Повторная отметка - no-op, updated=false.
	MarkRead(ctx context.Context, messageID uuid.UUID, readerID string) (msg *domain.Message, updated bool, err error)
	// MarkConversationRead отмечает все непрочитанные readerID сообщения одной операцией.
	MarkConversationRead(ctx context.Context, conversationID uuid.UUID, readerID string) (int, error)
	UnreadCount(ctx context.Context, conversationID uuid.UUID, readerID string) (int, error)
	// TotalUnread - сумма по всем принятым матчам пользователя.
	TotalUnread(ctx context.Context, userID string) (int, error)
}

type readStateService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	publisher   Publisher
	opts        Options
	log         logger.Logger
}

func NewReadStateService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	publisher Publisher,
	opts Options,
	log logger.Logger,
) ReadStateService {
	return &readStateService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		publisher:   publisher,
		opts:        opts,
		log:         log.With("component", "read_state"),
	}
}

func (s *readStateService) MarkRead(ctx context.Context, messageID uuid.UUID, readerID string) (*domain.Message, bool, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, classify(err, apperrors.ErrMessageNotFound)
	}
	if msg.ReceiverID != readerID {
		return nil, false, apperrors.ErrNotAParticipant
	}
	if msg.Read {
		return msg, false, nil
	}

	msg, updated, err := s.messageRepo.MarkRead(ctx, messageID)
	if err != nil {
		err = classify(err, apperrors.ErrMessageNotFound)
		s.log.Error("Failed to mark message read", "error", err, "message_id", messageID)
		return nil, false, err
	}
	if updated {
		s.publishRead(ctx, msg.ConversationID, []domain.Message{*msg})
	}
	return msg, updated, nil
}

func (s *readStateService) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, readerID string) (int, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return 0, classify(err, apperrors.ErrConversationNotFound)
	}
	if !conv.HasParticipant(readerID) {
		return 0, apperrors.ErrNotAParticipant
	}

	read, err := s.messageRepo.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		err = classify(err, apperrors.ErrConversationNotFound)
		s.log.Error("Failed to mark conversation read", "error", err, "conversation_id", conversationID)
		return 0, err
	}
	if len(read) > 0 {
		s.log.Debug("Conversation marked read", "conversation_id", conversationID, "reader_id", readerID, "count", len(read))
		s.publishConversationRead(ctx, conv, read)
	}
	return len(read), nil
}

func (s *readStateService) publishRead(ctx context.Context, conversationID uuid.UUID, read []domain.Message) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		s.log.Warn("Skipping read events, conversation lookup failed", "error", err, "conversation_id", conversationID)
		return
	}
	s.publishConversationRead(ctx, conv, read)
}

func (s *readStateService) publishConversationRead(ctx context.Context, conv *domain.Conversation, read []domain.Message) {
	channel := domain.ConversationChannel(conv.ID)
	for _, msg := range read {
		s.publisher.Publish(ctx, domain.NewMessageEvent(domain.EventMessageUpdated, msg), channel)
	}
	s.publisher.Publish(ctx, domain.NewConversationEvent(domain.EventConversationUpdated, *conv), userChannels(conv)...)
}

func (s *readStateService) UnreadCount(ctx context.Context, conversationID uuid.UUID, readerID string) (int, error) {
	return retryRead(ctx, s.opts, s.log, "unread_count", func(ctx context.Context) (int, error) {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return 0, classify(err, apperrors.ErrConversationNotFound)
		}
		if !conv.HasParticipant(readerID) {
			return 0, apperrors.ErrNotAParticipant
		}
		n, err := s.messageRepo.UnreadCount(ctx, conversationID, readerID)
		return n, classify(err, nil)
	})
}

func (s *readStateService) TotalUnread(ctx context.Context, userID string) (int, error) {
	return retryRead(ctx, s.opts, s.log, "total_unread", func(ctx context.Context) (int, error) {
		convs, err := s.convRepo.ListByParticipant(ctx, userID, domain.ConversationAccepted)
		if err != nil {
			return 0, classify(err, nil)
		}
		ids := make([]uuid.UUID, len(convs))
		for i := range convs {
			ids[i] = convs[i].ID
		}
		counts, err := s.messageRepo.UnreadCounts(ctx, ids, userID)
		if err != nil {
			return 0, classify(err, nil)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return total, nil
	})
}
