package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"matchchat/internal/domain"
	"matchchat/pkg/logger"
)

// ProfileRepository - граница с сервисом профилей: только чтение снимков.
type ProfileRepository interface {
	// GetByIDs возвращает найденные профили; отсутствующих id в карте нет.
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error)
}

type profileRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewProfileRepository(db *pgxpool.Pool, log logger.Logger) ProfileRepository {
	return &profileRepository{db: db, log: log}
}

func (r *profileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	result := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT id, name, profile_image, online, age, location
		FROM profiles
		WHERE id = ANY($1::text[])
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		r.log.Error("Failed to get profiles", "error", err, "count", len(ids))
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.ProfileImage, &p.Online, &p.Age, &p.Location); err != nil {
			r.log.Error("Failed to scan profile", "error", err)
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		r.log.Error("Failed to iterate profiles", "error", err)
		return nil, err
	}
	return result, nil
}
