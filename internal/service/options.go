package service

import (
	"context"
	"errors"
	"time"

	"matchchat/internal/config"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
	apperrors "matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

// Options - таймауты и политика повторов для операций с хранилищем.
type Options struct {
	StoreTimeout    time.Duration
	ReadRetries     int
	ReadBackoff     time.Duration
	ResolveAttempts int
	SendRate        domain.RateLimitRule
}

func DefaultOptions() Options {
	return Options{
		StoreTimeout:    5 * time.Second,
		ReadRetries:     3,
		ReadBackoff:     100 * time.Millisecond,
		ResolveAttempts: 3,
		SendRate:        domain.RateLimitRule{Scope: domain.RateLimitScopeSend, Limit: 60, Window: time.Minute},
	}
}

func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		StoreTimeout:    cfg.StoreTimeout,
		ReadRetries:     cfg.ReadRetries,
		ReadBackoff:     cfg.ReadBackoff,
		ResolveAttempts: cfg.ResolveAttempts,
		SendRate: domain.RateLimitRule{
			Scope:  domain.RateLimitScopeSend,
			Limit:  cfg.SendRatePerMinute,
			Window: time.Minute,
		},
	}
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.StoreTimeout)
}

// classify переводит ошибку репозитория в таксономию pkg/errors.
// notFound подставляется вместо repository.ErrNotFound.
func classify(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.Timeout(err)
	case errors.Is(err, repository.ErrNotFound):
		if notFound == nil {
			return apperrors.ErrNotFound
		}
		return notFound
	case errors.Is(err, repository.ErrConstraint):
		return apperrors.Wrap(apperrors.CodeBadRequest, "request violates store constraints", err)
	default:
		return apperrors.StoreUnavailable(err)
	}
}

// retryRead выполняет идемпотентное чтение с таймаутом на попытку и
// экспоненциальной паузой между попытками. Повторяются только
// STORE_UNAVAILABLE и TIMEOUT.
func retryRead[T any](ctx context.Context, o Options, log logger.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	backoff := o.ReadBackoff
	for attempt := 0; ; attempt++ {
		callCtx, cancel := o.withTimeout(ctx)
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		if !apperrors.Retryable(err) || attempt >= o.ReadRetries || ctx.Err() != nil {
			return zero, err
		}

		log.Warn("Retrying read", "op", op, "attempt", attempt+1, "error", err)
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, err
			case <-timer.C:
			}
			backoff *= 2
		}
	}
}
