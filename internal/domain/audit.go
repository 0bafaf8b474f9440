package domain

import "time"

type AuditAction string

const (
	AuditAnswerSubmitted      AuditAction = "answer_submitted"
	AuditAnswerRejectedLocked AuditAction = "answer_rejected_locked"
	AuditSetCorrectAnswer     AuditAction = "set_correct_answer"
	AuditClearCorrectAnswer   AuditAction = "clear_correct_answer"
	AuditUpdateMatchScore     AuditAction = "update_match_score"
	AuditActivateRound        AuditAction = "activate_round"
)

const (
	TargetQuestion = "question"
	TargetMatch    = "match"
	TargetRound    = "round"
)

// Detail keys shared between writers and the suspicious-activity report.
// Timestamps are stored as RFC 3339 strings.
const (
	DetailQuestionID  = "questionId"
	DetailMatchID     = "matchId"
	DetailAnswer      = "answer"
	DetailKickoff     = "kickoff"
	DetailSubmittedAt = "submittedAt"
	DetailAttemptedAt = "attemptedAt"
	DetailBefore      = "before"
	DetailAfter       = "after"
)

// AuditLogEntry is an immutable record of a ledger-relevant event.
type AuditLogEntry struct {
	ID          string
	Action      AuditAction
	PerformedBy string
	TargetType  string
	TargetID    string
	Details     map[string]any
	CreatedAt   time.Time
}

// AuditFilter selects audit entries, newest first. Limit <= 0 means no limit.
type AuditFilter struct {
	Action      AuditAction
	PerformedBy string
	Limit       int
}
