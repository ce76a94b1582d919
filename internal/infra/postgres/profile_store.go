package postgres

import (
	"context"
	"fmt"

	"boss-battle-service/internal/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// defaultStudentHP is the HP pool a student row starts with.
const defaultStudentHP = 100

// ProfileStore applies point deltas to student rows. HP is clamped to
// [0, defaultStudentHP] in the statement itself, so the floor holds under any
// interleaving.
type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

func (s *ProfileStore) AddPoints(ctx context.Context, studentID string, xp, gp, hp int) (domain.Profile, error) {
	p := domain.Profile{StudentID: studentID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO students (id, xp, gp, hp)
		VALUES ($1, GREATEST($2, 0), GREATEST($3, 0), LEAST(GREATEST($5 + $4, 0), $5))
		ON CONFLICT (id) DO UPDATE SET
			xp = students.xp + $2,
			gp = students.gp + $3,
			hp = LEAST(GREATEST(students.hp + $4, 0), $5)
		RETURNING display_name, xp, gp, hp`,
		studentID, xp, gp, hp, defaultStudentHP,
	).Scan(&p.DisplayName, &p.XP, &p.GP, &p.HP)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("add points: %w", mapError(err))
	}
	return p, nil
}
