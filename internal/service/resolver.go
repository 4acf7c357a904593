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

type ResolverService interface {
	// Resolve возвращает единственный матч пары, создавая его при первом обращении.
	Resolve(ctx context.Context, userA, userB, initiator string) (*domain.Conversation, error)
	Get(ctx context.Context, conversationID uuid.UUID, viewerID string) (*domain.Conversation, error)
}

type resolverService struct {
	convRepo  repository.ConversationRepository
	publisher Publisher
	opts      Options
	log       logger.Logger
}

func NewResolverService(convRepo repository.ConversationRepository, publisher Publisher, opts Options, log logger.Logger) ResolverService {
	return &resolverService{
		convRepo:  convRepo,
		publisher: publisher,
		opts:      opts,
		log:       log.With("component", "resolver"),
	}
}

func (s *resolverService) Resolve(ctx context.Context, userA, userB, initiator string) (*domain.Conversation, error) {
	low, high, err := domain.CanonicalPair(userA, userB)
	if err != nil {
		s.log.Debug("Rejected conversation pair", "user_a", userA, "user_b", userB)
		return nil, err
	}
	if initiator != userA && initiator != userB {
		return nil, apperrors.ErrInvalidParticipants
	}

	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	attempts := max(s.opts.ResolveAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		conv, err := s.convRepo.GetByPair(ctx, low, high)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, classify(err, nil)
		}

		conv = &domain.Conversation{
			ID:              uuid.New(),
			ParticipantLow:  low,
			ParticipantHigh: high,
			InitiatedBy:     initiator,
			Status:          domain.ConversationAccepted,
		}
		created, err := s.convRepo.CreateIfAbsent(ctx, conv)
		if err != nil {
			return nil, classify(err, nil)
		}
		if created {
			s.log.Info("Conversation created", "conversation_id", conv.ID, "initiated_by", initiator)
			s.publisher.Publish(ctx, domain.NewConversationEvent(domain.EventConversationInserted, *conv), userChannels(conv)...)
			return conv, nil
		}
		// Пару создали параллельно: перечитываем победившую строку.
		s.log.Debug("Conversation create lost race", "user_a", low, "user_b", high, "attempt", attempt)
		conv, err = s.convRepo.GetByPair(ctx, low, high)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, classify(err, nil)
		}
	}

	s.log.Error("Conversation resolve did not settle",
		"user_a", low, "user_b", high, "attempts", attempts, "conflict_retry_exhausted", true)
	return nil, apperrors.StoreUnavailable(apperrors.ErrConflictRetryExhausted)
}

func (s *resolverService) Get(ctx context.Context, conversationID uuid.UUID, viewerID string) (*domain.Conversation, error) {
	conv, err := retryRead(ctx, s.opts, s.log, "get_conversation", func(ctx context.Context) (*domain.Conversation, error) {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		return conv, classify(err, apperrors.ErrConversationNotFound)
	})
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, apperrors.ErrNotAParticipant
	}
	return conv, nil
}
