package memory

import (
	"context"

	"matchchat/internal/domain"
	"matchchat/internal/repository"
)

type profileRepository struct {
	s *Store
}

var _ repository.ProfileRepository = (*profileRepository)(nil)

func (r *profileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	if err := r.s.enter(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]domain.Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
