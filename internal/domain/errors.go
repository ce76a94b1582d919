package domain

import "errors"

var (
	// ErrBattleNotFound is returned when a battle id does not exist.
	ErrBattleNotFound = errors.New("battle not found")
	// ErrParticipantNotFound is returned when a student has no record in a battle.
	ErrParticipantNotFound = errors.New("participant not found in battle")
	// ErrBankNotFound indicates the question bank could not be loaded.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrQuestionNotFound indicates a submitted question id is not part of the open attempt.
	ErrQuestionNotFound = errors.New("question not found in attempt")
	// ErrQuestionAlreadyAnswered indicates the question was already answered in this attempt.
	ErrQuestionAlreadyAnswered = errors.New("question already answered in attempt")

	// ErrValidation rejects a malformed battle configuration before any mutation.
	ErrValidation = errors.New("invalid battle configuration")

	// ErrInvalidTransition is returned for a lifecycle move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid battle status transition")
	// ErrBattleNotActive is returned when an attempt start or answer targets a
	// battle that is not ACTIVE.
	ErrBattleNotActive = errors.New("battle is not active")
	// ErrAttemptQuotaExceeded is returned once a student has spent all attempts.
	ErrAttemptQuotaExceeded = errors.New("attempt quota exceeded")
	// ErrAttemptAlreadyOpen is returned when a student already holds an open attempt.
	ErrAttemptAlreadyOpen = errors.New("attempt already open")
	// ErrNoOpenAttempt is returned when an answer arrives without an open attempt.
	ErrNoOpenAttempt = errors.New("no open attempt")

	// ErrConflict signals a lost race on an atomic ledger update; callers may retry.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrRetryExhausted is surfaced after bounded retries on ErrConflict all fail.
	ErrRetryExhausted = errors.New("retries exhausted on concurrent update")

	// ErrIntegrity marks a broken invariant (e.g. negative boss HP) found in the
	// ledger. Processing for that battle halts; the value is never auto-corrected.
	ErrIntegrity = errors.New("battle ledger integrity violation")
)
