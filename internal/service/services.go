package service

import (
	"matchchat/internal/repository"
	"matchchat/pkg/logger"
)

type Services struct {
	Resolver   ResolverService
	Message    MessageService
	ReadState  ReadStateService
	Aggregator AggregatorService
	RateLimit  RateLimitService
}

// NewServices связывает сервисы с репозиториями; publisher получает события изменений.
func NewServices(repos *repository.Repositories, publisher Publisher, opts Options, log logger.Logger) *Services {
	if publisher == nil {
		publisher = NopPublisher()
	}

	services := &Services{
		Resolver:   NewResolverService(repos.Conversation, publisher, opts, log),
		ReadState:  NewReadStateService(repos.Conversation, repos.Message, publisher, opts, log),
		Aggregator: NewAggregatorService(repos.Conversation, repos.Message, repos.Profile, opts, log),
	}
	if repos.RateLimit != nil {
		services.RateLimit = NewRateLimitService(repos.RateLimit, log)
	} else {
		log.Warn("Rate limit repository is nil, send rate limit disabled")
	}
	services.Message = NewMessageService(repos.Conversation, repos.Message, services.RateLimit, publisher, opts, log)

	return services
}
