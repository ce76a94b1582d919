package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boss-battle-service/internal/domain"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// BattleStore is the transactional battle and participant ledger. Every
// mutation runs in a transaction that locks the battle row (or the
// battle+student participant row) with SELECT ... FOR UPDATE, so
// read-modify-write cycles on one battle are linearized while unrelated
// battles never block each other.
type BattleStore struct {
	pool *pgxpool.Pool
}

func NewBattleStore(pool *pgxpool.Pool) *BattleStore {
	return &BattleStore{pool: pool}
}

const battleColumns = `id, classroom_id, boss_name, boss_image, boss_max_hp, boss_current_hp,
	question_bank_id, questions_per_attempt, damage_per_correct, damage_to_student_on_wrong,
	max_attempts, xp_per_correct, gp_per_correct, bonus_xp_on_victory, bonus_gp_on_victory,
	status, start_date, end_date, completed_at, version`

const participantColumns = `battle_id, student_id, total_damage_dealt, total_correct_answers,
	total_wrong_answers, attempts_used, xp_earned, gp_earned, is_currently_battling, victory_bonus_paid`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBattle(row rowScanner) (domain.Battle, error) {
	var b domain.Battle
	var status string
	err := row.Scan(
		&b.ID, &b.ClassroomID, &b.BossName, &b.BossImage, &b.BossMaxHP, &b.BossCurrentHP,
		&b.QuestionBankID, &b.QuestionsPerAttempt, &b.DamagePerCorrect, &b.DamageToStudentOnWrong,
		&b.MaxAttempts, &b.XPPerCorrectAnswer, &b.GPPerCorrectAnswer, &b.BonusXPOnVictory, &b.BonusGPOnVictory,
		&status, &b.StartDate, &b.EndDate, &b.CompletedAt, &b.Version,
	)
	if err != nil {
		return domain.Battle{}, err
	}
	b.Status = domain.BattleStatus(status)
	return b, nil
}

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(
		&p.BattleID, &p.StudentID, &p.TotalDamageDealt, &p.TotalCorrectAnswers,
		&p.TotalWrongAnswers, &p.AttemptsUsed, &p.XPEarned, &p.GPEarned,
		&p.IsCurrentlyBattling, &p.VictoryBonusPaid,
	)
	return p, err
}

// mapError translates driver errors into the domain taxonomy. Serialization
// failures and deadlocks are retryable conflicts.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	return err
}

func (s *BattleStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

func (s *BattleStore) CreateBattle(ctx context.Context, b domain.Battle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO battles (`+battleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		b.ID, b.ClassroomID, b.BossName, b.BossImage, b.BossMaxHP, b.BossCurrentHP,
		b.QuestionBankID, b.QuestionsPerAttempt, b.DamagePerCorrect, b.DamageToStudentOnWrong,
		b.MaxAttempts, b.XPPerCorrectAnswer, b.GPPerCorrectAnswer, b.BonusXPOnVictory, b.BonusGPOnVictory,
		string(b.Status), b.StartDate, b.EndDate, b.CompletedAt, b.Version,
	)
	if err != nil {
		return fmt.Errorf("create battle: %w", mapError(err))
	}
	return nil
}

func (s *BattleStore) GetBattle(ctx context.Context, battleID string) (domain.Battle, error) {
	b, err := scanBattle(s.pool.QueryRow(ctx, `SELECT `+battleColumns+` FROM battles WHERE id=$1`, battleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("get battle: %w", err)
	}
	return b, nil
}

func (s *BattleStore) DeleteBattle(ctx context.Context, battleID string) error {
	// Participants cascade via the foreign key.
	tag, err := s.pool.Exec(ctx, `DELETE FROM battles WHERE id=$1`, battleID)
	if err != nil {
		return fmt.Errorf("delete battle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBattleNotFound
	}
	return nil
}

func (s *BattleStore) ListBattlesByClassroom(ctx context.Context, classroomID string) ([]domain.Battle, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+battleColumns+` FROM battles WHERE classroom_id=$1 ORDER BY id`, classroomID)
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	defer rows.Close()
	return collectBattles(rows)
}

func (s *BattleStore) ListBattlesByStatus(ctx context.Context, statuses ...domain.BattleStatus) ([]domain.Battle, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+battleColumns+` FROM battles WHERE status = ANY($1) ORDER BY id`, names)
	if err != nil {
		return nil, fmt.Errorf("list battles by status: %w", err)
	}
	defer rows.Close()
	return collectBattles(rows)
}

func collectBattles(rows pgx.Rows) ([]domain.Battle, error) {
	var battles []domain.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, b)
	}
	return battles, rows.Err()
}

func (s *BattleStore) TransitionStatus(ctx context.Context, battleID string, from []domain.BattleStatus, to domain.BattleStatus) (domain.Battle, error) {
	var out domain.Battle
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBattle(ctx, tx, battleID)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if b.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return domain.ErrInvalidTransition
		}
		b.Status = to
		if to.Terminal() {
			now := time.Now()
			b.CompletedAt = &now
		}
		b.Version++
		if _, err := tx.Exec(ctx,
			`UPDATE battles SET status=$2, completed_at=$3, version=$4 WHERE id=$1`,
			battleID, string(b.Status), b.CompletedAt, b.Version,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		out = b
		return nil
	})
	return out, err
}

func lockBattle(ctx context.Context, tx pgx.Tx, battleID string) (domain.Battle, error) {
	b, err := scanBattle(tx.QueryRow(ctx, `SELECT `+battleColumns+` FROM battles WHERE id=$1 FOR UPDATE`, battleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("lock battle: %w", err)
	}
	return b, nil
}

func (s *BattleStore) GetParticipant(ctx context.Context, battleID, studentID string) (domain.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM battle_participants WHERE battle_id=$1 AND student_id=$2`,
		battleID, studentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *BattleStore) ListParticipants(ctx context.Context, battleID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM battle_participants WHERE battle_id=$1 ORDER BY student_id`, battleID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	var participants []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// BeginAttempt spends one attempt inside a single transaction: the battle row
// lock serializes it against status flips, the participant row lock against
// the same student's concurrent tabs. Either everything commits or
// attemptsUsed is untouched.
func (s *BattleStore) BeginAttempt(ctx context.Context, battleID, studentID string) (domain.Battle, domain.Participant, error) {
	var outB domain.Battle
	var outP domain.Participant
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBattle(ctx, tx, battleID)
		if err != nil {
			return err
		}
		if b.Status != domain.StatusActive {
			return domain.ErrBattleNotActive
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO battle_participants (battle_id, student_id)
			VALUES ($1, $2) ON CONFLICT (battle_id, student_id) DO NOTHING`,
			battleID, studentID,
		); err != nil {
			return fmt.Errorf("ensure participant: %w", err)
		}

		p, err := scanParticipant(tx.QueryRow(ctx,
			`SELECT `+participantColumns+` FROM battle_participants
			 WHERE battle_id=$1 AND student_id=$2 FOR UPDATE`,
			battleID, studentID))
		if err != nil {
			return fmt.Errorf("lock participant: %w", err)
		}
		if p.IsCurrentlyBattling {
			return domain.ErrAttemptAlreadyOpen
		}
		if p.AttemptsUsed >= b.MaxAttempts {
			return domain.ErrAttemptQuotaExceeded
		}
		p.AttemptsUsed++
		p.IsCurrentlyBattling = true
		if _, err := tx.Exec(ctx, `
			UPDATE battle_participants SET attempts_used=$3, is_currently_battling=TRUE
			WHERE battle_id=$1 AND student_id=$2`,
			battleID, studentID, p.AttemptsUsed,
		); err != nil {
			return fmt.Errorf("spend attempt: %w", err)
		}
		outB, outP = b, p
		return nil
	})
	if err != nil {
		return domain.Battle{}, domain.Participant{}, err
	}
	return outB, outP, nil
}

func (s *BattleStore) EndAttempt(ctx context.Context, battleID, studentID string) error {
	// No precondition: lowering an already-lowered flag is a no-op.
	_, err := s.pool.Exec(ctx, `
		UPDATE battle_participants SET is_currently_battling=FALSE
		WHERE battle_id=$1 AND student_id=$2`,
		battleID, studentID)
	if err != nil {
		return fmt.Errorf("end attempt: %w", mapError(err))
	}
	return nil
}

// ApplyBossDamage performs the clamped decrement under the battle row lock.
// The kill crossing, the VICTORY flip, and the victory-bonus claims commit in
// the same transaction, so a racing second caller can never observe the HP at
// zero without the claims already taken.
func (s *BattleStore) ApplyBossDamage(ctx context.Context, battleID, studentID string, damage int) (domain.DamageResult, error) {
	var result domain.DamageResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBattle(ctx, tx, battleID)
		if err != nil {
			return err
		}
		if b.BossCurrentHP < 0 || b.BossCurrentHP > b.BossMaxHP {
			return fmt.Errorf("%w: battle %s hp=%d max=%d", domain.ErrIntegrity, b.ID, b.BossCurrentHP, b.BossMaxHP)
		}
		if b.Status.Terminal() {
			result = domain.DamageResult{
				BossHP:  b.BossCurrentHP,
				Ended:   true,
				Victory: b.Status == domain.StatusVictory,
			}
			return nil
		}
		if b.Status != domain.StatusActive {
			return domain.ErrBattleNotActive
		}

		if damage > b.BossCurrentHP {
			damage = b.BossCurrentHP
		}
		before := b.BossCurrentHP
		newHP := before - damage

		if _, err := tx.Exec(ctx,
			`UPDATE battles SET boss_current_hp=$2, version=version+1 WHERE id=$1`,
			battleID, newHP,
		); err != nil {
			return fmt.Errorf("decrement boss hp: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE battle_participants
			SET total_damage_dealt = total_damage_dealt + $3,
			    total_correct_answers = total_correct_answers + 1
			WHERE battle_id=$1 AND student_id=$2`,
			battleID, studentID, damage)
		if err != nil {
			return fmt.Errorf("credit damage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrParticipantNotFound
		}

		result = domain.DamageResult{DamageDealt: damage, BossHP: newHP}
		if before > 0 && newHP == 0 {
			result.KillCrossing = true
			result.Victory = true
			if _, err := tx.Exec(ctx,
				`UPDATE battles SET status=$2, completed_at=NOW(), version=version+1 WHERE id=$1`,
				battleID, string(domain.StatusVictory),
			); err != nil {
				return fmt.Errorf("mark victory: %w", err)
			}
			rows, err := tx.Query(ctx, `
				UPDATE battle_participants SET victory_bonus_paid=TRUE
				WHERE battle_id=$1 AND is_currently_battling AND NOT victory_bonus_paid
				RETURNING student_id`,
				battleID)
			if err != nil {
				return fmt.Errorf("claim bonuses: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return fmt.Errorf("scan claim: %w", err)
				}
				result.BonusClaims = append(result.BonusClaims, id)
			}
			if err := rows.Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.DamageResult{}, err
	}
	return result, nil
}

func (s *BattleStore) RecordWrongAnswer(ctx context.Context, battleID, studentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE battle_participants SET total_wrong_answers = total_wrong_answers + 1
		WHERE battle_id=$1 AND student_id=$2`,
		battleID, studentID)
	if err != nil {
		return fmt.Errorf("record wrong answer: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (s *BattleStore) CreditParticipant(ctx context.Context, battleID, studentID string, xp, gp int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE battle_participants SET xp_earned = xp_earned + $3, gp_earned = gp_earned + $4
		WHERE battle_id=$1 AND student_id=$2`,
		battleID, studentID, xp, gp)
	if err != nil {
		return fmt.Errorf("credit participant: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}
