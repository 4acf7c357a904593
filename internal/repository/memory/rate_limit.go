package memory

import (
	"context"
	"sync"
	"time"

	"matchchat/internal/repository"
)

type window struct {
	count     int64
	expiresAt time.Time
}

// RateLimitRepository - счетчики окон в памяти, замена Redis-версии.
type RateLimitRepository struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{windows: make(map[string]window), now: time.Now}
}

var _ repository.RateLimitRepository = (*RateLimitRepository)(nil)

func (r *RateLimitRepository) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = window{expiresAt: now.Add(ttl)}
	}
	w.count++
	r.windows[key] = w
	return w.count, nil
}

func (r *RateLimitRepository) Decrement(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[key]
	if !ok || !r.now().Before(w.expiresAt) || w.count == 0 {
		return nil
	}
	w.count--
	r.windows[key] = w
	return nil
}
