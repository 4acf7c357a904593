package service

import (
	"context"

	"matchchat/internal/domain"
	"matchchat/internal/repository"
	"matchchat/pkg/logger"
)

type RateLimitService interface {
	// Allow учитывает действие subject и сообщает, укладывается ли оно в
	// правило, и сколько действий осталось в текущем окне.
	Allow(ctx context.Context, rule domain.RateLimitRule, subject string) (allowed bool, remaining int, err error)
	// Release возвращает учтенное действие, которое так и не состоялось.
	Release(ctx context.Context, rule domain.RateLimitRule, subject string) error
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, rule domain.RateLimitRule, subject string) (bool, int, error) {
	if !rule.Enabled() {
		return true, 0, nil
	}
	count, err := s.rateLimitRepo.Increment(ctx, rule.Key(subject), rule.Window)
	if err != nil {
		return false, 0, err
	}
	remaining := max(rule.Limit-int(count), 0)
	if count > int64(rule.Limit) {
		s.log.Debug("Rate limit exceeded", "scope", rule.Scope, "subject", subject, "count", count)
		return false, 0, nil
	}
	return true, remaining, nil
}

func (s *rateLimitService) Release(ctx context.Context, rule domain.RateLimitRule, subject string) error {
	if !rule.Enabled() {
		return nil
	}
	return s.rateLimitRepo.Decrement(ctx, rule.Key(subject))
}
