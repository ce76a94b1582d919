package domain

import "time"

// BattleStatus is the lifecycle state of a boss battle.
type BattleStatus string

const (
	StatusDraft     BattleStatus = "DRAFT"
	StatusScheduled BattleStatus = "SCHEDULED"
	StatusActive    BattleStatus = "ACTIVE"
	StatusVictory   BattleStatus = "VICTORY"
	StatusCompleted BattleStatus = "COMPLETED"
	StatusDefeat    BattleStatus = "DEFEAT"
)

// Terminal reports whether the status accepts no further damage or attempts.
func (s BattleStatus) Terminal() bool {
	return s == StatusVictory || s == StatusCompleted || s == StatusDefeat
}

// Battle is the durable record of one boss fight, owned by a single classroom.
// BossCurrentHP is the shared counter every correct answer decrements; all
// other numeric fields are configuration and immutable once the battle is ACTIVE.
type Battle struct {
	ID                     string       `json:"id"`
	ClassroomID            string       `json:"classroomId"`
	BossName               string       `json:"bossName"`
	BossImage              string       `json:"bossImage,omitempty"`
	BossMaxHP              int          `json:"bossMaxHp"`
	BossCurrentHP          int          `json:"bossCurrentHp"`
	QuestionBankID         string       `json:"questionBankId"`
	QuestionsPerAttempt    int          `json:"questionsPerAttempt"`
	DamagePerCorrect       int          `json:"damagePerCorrect"`
	DamageToStudentOnWrong int          `json:"damageToStudentOnWrong"`
	MaxAttempts            int          `json:"maxAttempts"`
	XPPerCorrectAnswer     int          `json:"xpPerCorrectAnswer"`
	GPPerCorrectAnswer     int          `json:"gpPerCorrectAnswer"`
	BonusXPOnVictory       int          `json:"bonusXpOnVictory"`
	BonusGPOnVictory       int          `json:"bonusGpOnVictory"`
	Status                 BattleStatus `json:"status"`
	StartDate              *time.Time   `json:"startDate,omitempty"`
	EndDate                *time.Time   `json:"endDate,omitempty"`
	CompletedAt            *time.Time   `json:"completedAt,omitempty"`

	// Version counts committed writes to the battle row; store implementations
	// use it for optimistic concurrency checks.
	Version int64 `json:"-"`
}

// Participant is the per-student aggregate inside one battle. Created lazily
// on first attempt start; mutated only by that student's own requests.
type Participant struct {
	BattleID            string `json:"battleId"`
	StudentID           string `json:"studentId"`
	TotalDamageDealt    int    `json:"totalDamageDealt"`
	TotalCorrectAnswers int    `json:"totalCorrectAnswers"`
	TotalWrongAnswers   int    `json:"totalWrongAnswers"`
	AttemptsUsed        int    `json:"attemptsUsed"`
	XPEarned            int    `json:"xpEarned"`
	GPEarned            int    `json:"gpEarned"`
	IsCurrentlyBattling bool   `json:"isCurrentlyBattling"`
	VictoryBonusPaid    bool   `json:"victoryBonusPaid"`
}

// Option is one candidate answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is a reference into the question bank. The engine only needs its
// id, the correctness check, and how options are keyed.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// QuestionBank is an immutable snapshot of a bank's questions.
type QuestionBank struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// QuestionView is a question with answer-bearing fields stripped, safe to
// hand to a student client.
type QuestionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []OptionView `json:"options"`
}

// OptionView hides the Correct flag.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// View strips answer-bearing fields from a question.
func (q Question) View() QuestionView {
	opts := make([]OptionView, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionView{ID: o.ID, Text: o.Text}
	}
	return QuestionView{ID: q.ID, Prompt: q.Prompt, Options: opts}
}

// Evaluation is the Answer Evaluator's verdict on a submitted answer.
type Evaluation struct {
	IsCorrect     bool   `json:"isCorrect"`
	CorrectAnswer string `json:"correctAnswer"`
	Explanation   string `json:"explanation,omitempty"`
}

// DamageResult reports one atomic boss-HP mutation.
type DamageResult struct {
	// DamageDealt is the applied delta after clamping to remaining HP.
	DamageDealt int
	// BossHP is the boss HP after the update.
	BossHP int
	// KillCrossing is true only for the single call that took HP from >0 to 0.
	KillCrossing bool
	// Ended is true when the battle was already terminal and no damage applied.
	Ended bool
	// Victory reports whether the battle status is VICTORY after this call.
	Victory bool
	// BonusClaims lists the student ids whose victory bonus flag was claimed
	// by this call's kill crossing.
	BonusClaims []string
}

// AnswerOutcome is the client-visible result of answering one question.
type AnswerOutcome struct {
	QuestionID     string `json:"questionId"`
	IsCorrect      bool   `json:"isCorrect"`
	CorrectAnswer  string `json:"correctAnswer"`
	Explanation    string `json:"explanation,omitempty"`
	DamageDealt    int    `json:"damageDealt"`
	DamageReceived int    `json:"damageReceived"`
	BossHP         int    `json:"bossHp"`
	// StudentHP is nil when the HP write is still pending an async retry.
	StudentHP     *int `json:"studentHp,omitempty"`
	BattleEnded   bool `json:"battleEnded"`
	Victory       bool `json:"victory"`
	QuestionsLeft int  `json:"questionsLeft"`
}

// AttemptView is what a student receives when an attempt opens.
type AttemptView struct {
	BattleID     string         `json:"battleId"`
	StudentID    string         `json:"studentId"`
	Questions    []QuestionView `json:"questions"`
	BossHP       int            `json:"bossHp"`
	AttemptsUsed int            `json:"attemptsUsed"`
	MaxAttempts  int            `json:"maxAttempts"`
	// Warning is set when the bank was too small and questions repeat.
	Warning string `json:"warning,omitempty"`
}

// BattlingStudent is a live-status entry for one currently-fighting classmate.
type BattlingStudent struct {
	StudentID        string `json:"studentId"`
	TotalDamageDealt int    `json:"totalDamageDealt"`
}

// BattleStatusView is the read-only polling snapshot of a battle. Slightly
// stale values are acceptable here; only the write path is strict.
type BattleStatusView struct {
	BattleID      string            `json:"battleId"`
	BossName      string            `json:"bossName"`
	BossMaxHP     int               `json:"bossMaxHp"`
	BossCurrentHP int               `json:"bossCurrentHp"`
	Status        BattleStatus      `json:"status"`
	Battling      []BattlingStudent `json:"battling"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Profile is the classroom-wide point totals for a student.
type Profile struct {
	StudentID   string `json:"studentId"`
	DisplayName string `json:"displayName,omitempty"`
	XP          int    `json:"xp"`
	GP          int    `json:"gp"`
	HP          int    `json:"hp"`
}
