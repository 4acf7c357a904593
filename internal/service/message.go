package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type MessageService interface {
	// Send добавляет сообщение. Не повторяется автоматически: ключа
	// идемпотентности нет, повтор может задублировать сообщение.
	Send(ctx context.Context, conversationID uuid.UUID, senderID, content string) (*domain.Message, error)
	List(ctx context.Context, conversationID uuid.UUID, viewerID string, page domain.MessagePage) ([]domain.Message, error)
	// Latest возвращает nil без ошибки, если сообщений еще нет.
	Latest(ctx context.Context, conversationID uuid.UUID, viewerID string) (*domain.Message, error)
}

type messageService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	rateLimit   RateLimitService
	publisher   Publisher
	opts        Options
	log         logger.Logger
}

func NewMessageService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	rateLimit RateLimitService,
	publisher Publisher,
	opts Options,
	log logger.Logger,
) MessageService {
	return &messageService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		rateLimit:   rateLimit,
		publisher:   publisher,
		opts:        opts,
		log:         log.With("component", "messages"),
	}
}

func (s *messageService) Send(ctx context.Context, conversationID uuid.UUID, senderID, content string) (*domain.Message, error) {
	content, err := domain.NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, classify(err, apperrors.ErrConversationNotFound)
	}
	receiverID, ok := conv.OtherParticipant(senderID)
	if !ok {
		s.log.Warn("Send from non-participant", "conversation_id", conversationID, "sender_id", senderID)
		return nil, apperrors.ErrNotAParticipant
	}
	if conv.Status != domain.ConversationAccepted {
		return nil, apperrors.ErrNotAccepted
	}

	counted := false
	if s.rateLimit != nil {
		allowed, _, err := s.rateLimit.Allow(ctx, s.opts.SendRate, senderID)
		if err != nil {
			// Лимитер недоступен - пропускаем сообщение, доставка важнее.
			s.log.Warn("Send rate limit check failed", "error", err, "sender_id", senderID)
		} else if !allowed {
			return nil, apperrors.ErrRateLimited
		}
		counted = err == nil
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
	}
	acked, err := s.messageRepo.Append(ctx, msg)
	if err != nil {
		err = classify(err, apperrors.ErrConversationNotFound)
		s.log.Error("Failed to append message", "error", err, "conversation_id", conversationID)
		if counted {
			s.releaseSend(ctx, senderID)
		}
		return nil, err
	}

	conv.UpdatedAt = msg.CreatedAt
	channel := domain.ConversationChannel(conv.ID)
	for _, read := range acked {
		s.publisher.Publish(ctx, domain.NewMessageEvent(domain.EventMessageUpdated, read), channel)
	}
	s.publisher.Publish(ctx, domain.NewMessageEvent(domain.EventMessageInserted, *msg),
		channel, domain.UserChannel(conv.ParticipantLow), domain.UserChannel(conv.ParticipantHigh))
	s.publisher.Publish(ctx, domain.NewConversationEvent(domain.EventConversationUpdated, *conv), userChannels(conv)...)

	return msg, nil
}

// releaseSend возвращает лимит неотправленного сообщения: повтор пользователя не должен его тратить.
// ctx запроса мог уже истечь, поэтому возврат идет под собственным таймаутом.
func (s *messageService) releaseSend(ctx context.Context, senderID string) {
	ctx, cancel := s.opts.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.rateLimit.Release(ctx, s.opts.SendRate, senderID); err != nil {
		s.log.Warn("Failed to release send rate limit", "error", err, "sender_id", senderID)
	}
}

func (s *messageService) authorize(ctx context.Context, conversationID uuid.UUID, viewerID string) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, classify(err, apperrors.ErrConversationNotFound)
	}
	if !conv.HasParticipant(viewerID) {
		return nil, apperrors.ErrNotAParticipant
	}
	return conv, nil
}

func (s *messageService) List(ctx context.Context, conversationID uuid.UUID, viewerID string, page domain.MessagePage) ([]domain.Message, error) {
	return retryRead(ctx, s.opts, s.log, "list_messages", func(ctx context.Context) ([]domain.Message, error) {
		if _, err := s.authorize(ctx, conversationID, viewerID); err != nil {
			return nil, err
		}
		messages, err := s.messageRepo.List(ctx, conversationID, page.Normalize())
		return messages, classify(err, nil)
	})
}

func (s *messageService) Latest(ctx context.Context, conversationID uuid.UUID, viewerID string) (*domain.Message, error) {
	return retryRead(ctx, s.opts, s.log, "latest_message", func(ctx context.Context) (*domain.Message, error) {
		if _, err := s.authorize(ctx, conversationID, viewerID); err != nil {
			return nil, err
		}
		msg, err := s.messageRepo.Latest(ctx, conversationID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return msg, classify(err, nil)
	})
}
