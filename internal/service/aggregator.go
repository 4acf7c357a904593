package service

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
	"matchchat/pkg/logger"
)

type AggregatorService interface {
	// ListConversations собирает список матчей пользователя с собеседником,
	// последним сообщением и счетчиком непрочитанных.
	ListConversations(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.ConversationView, error)
}

type aggregatorService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	profileRepo repository.ProfileRepository
	opts        Options
	log         logger.Logger
}

func NewAggregatorService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	profileRepo repository.ProfileRepository,
	opts Options,
	log logger.Logger,
) AggregatorService {
	return &aggregatorService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		profileRepo: profileRepo,
		opts:        opts,
		log:         log.With("component", "aggregator"),
	}
}

func (s *aggregatorService) ListConversations(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.ConversationView, error) {
	views, err := retryRead(ctx, s.opts, s.log, "list_conversations", func(ctx context.Context) ([]domain.ConversationView, error) {
		return s.aggregate(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return opts.Apply(views), nil
}

// aggregate делает три пакетных запроса вместо запросов на каждый матч.
func (s *aggregatorService) aggregate(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	convs, err := s.convRepo.ListByParticipant(ctx, userID, domain.ConversationAccepted)
	if err != nil {
		return nil, classify(err, nil)
	}
	if len(convs) == 0 {
		return []domain.ConversationView{}, nil
	}

	ids := make([]uuid.UUID, len(convs))
	others := make([]string, len(convs))
	for i := range convs {
		ids[i] = convs[i].ID
		others[i], _ = convs[i].OtherParticipant(userID)
	}

	var (
		latest   map[uuid.UUID]domain.Message
		unread   map[uuid.UUID]int
		profiles map[string]domain.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		latest, err = s.messageRepo.LatestByConversations(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = s.messageRepo.UnreadCounts(gctx, ids, userID)
		return err
	})
	g.Go(func() error {
		var err error
		profiles, err = s.profileRepo.GetByIDs(gctx, others)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("Failed to aggregate conversations", "error", err, "user_id", userID)
		return nil, classify(err, nil)
	}

	views := make([]domain.ConversationView, len(convs))
	for i, conv := range convs {
		profile, ok := profiles[others[i]]
		if !ok {
			s.log.Debug("Profile not found, using placeholder", "profile_id", others[i])
			profile = domain.UnknownProfile(others[i])
		}
		view := domain.ConversationView{
			Conversation:     conv,
			OtherParticipant: profile,
			UnreadCount:      unread[conv.ID],
		}
		if msg, ok := latest[conv.ID]; ok {
			view.LastMessage = &msg
		}
		views[i] = view
	}
	return views, nil
}
