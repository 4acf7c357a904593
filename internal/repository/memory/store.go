// Package memory - реализация репозиториев в памяти процесса для
// STORE_DRIVER=memory и тестов. Семантика совпадает с PostgreSQL-версией.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"matchchat/internal/domain"
	"matchchat/internal/repository"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]domain.Conversation
	pairs         map[[2]string]uuid.UUID
	log           map[uuid.UUID][]uuid.UUID // сообщения матча в порядке вставки
	messages      map[uuid.UUID]domain.Message
	profiles      map[string]domain.Profile
	seq           int64
	now           func() time.Time

	faultMu  sync.Mutex
	failures int
	failErr  error
	latency  time.Duration
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[uuid.UUID]domain.Conversation),
		pairs:         make(map[[2]string]uuid.UUID),
		log:           make(map[uuid.UUID][]uuid.UUID),
		messages:      make(map[uuid.UUID]domain.Message),
		profiles:      make(map[string]domain.Profile),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени хранилища.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext заставляет следующие n операций вернуть err.
func (s *Store) FailNext(n int, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.failures = n
	s.failErr = err
}

// SetLatency добавляет задержку каждой операции; задержка прерывается контекстом.
func (s *Store) SetLatency(d time.Duration) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.latency = d
}

func (s *Store) PutProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// ConversationCount - общее число матчей, используется в тестах гонок.
func (s *Store) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func (s *Store) enter(ctx context.Context) error {
	s.faultMu.Lock()
	latency := s.latency
	var err error
	if s.failures > 0 {
		s.failures--
		err = s.failErr
	}
	s.faultMu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.enter(ctx)
}

// NewRepositories собирает все репозитории поверх одного Store.
func NewRepositories(s *Store) *repository.Repositories {
	return &repository.Repositories{
		Conversation: &conversationRepository{s: s},
		Message:      &messageRepository{s: s},
		Profile:      &profileRepository{s: s},
		RateLimit:    NewRateLimitRepository(),
		Health:       s,
	}
}
