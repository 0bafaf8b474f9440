package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// LockWindow is how long before kickoff a match stops accepting answers.
	LockWindow = time.Hour

	// LateWindow bounds the "just inside the lock" submissions reported as suspicious.
	LateWindow = 2 * time.Hour
)

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeYesNo          QuestionType = "yes_no"
)

// Round is one tournament phase. Exactly one round is active at a time.
type Round struct {
	ID          string
	RoundNumber int
	Name        string
	StartsAt    time.Time
	EndsAt      time.Time
	IsActive    bool
}

type Match struct {
	ID          string
	RoundID     string
	MatchNumber int
	HomeTeam    string
	AwayTeam    string
	Kickoff     time.Time
	Venue       *string
	HomeScore   *int
	AwayScore   *int
	Completed   bool
}

// LockTime is the instant from which answers for the match are rejected.
func (m Match) LockTime() time.Time {
	return m.Kickoff.Add(-LockWindow)
}

type Question struct {
	ID             string
	MatchID        string
	QuestionNumber int
	Text           string
	Type           QuestionType
	Options        []string
	Points         int
	CorrectAnswer  *string
}

// Answer is one user's response to one question, unique per (QuestionID, UserID).
type Answer struct {
	ID          string
	QuestionID  string
	UserID      string
	Value       string
	Correctness Correctness
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QuestionSchedule is the timing context needed to decide whether a question is still open.
type QuestionSchedule struct {
	QuestionID string
	MatchID    string
	RoundID    string
	HomeTeam   string
	AwayTeam   string
	Kickoff    time.Time
}

func (s QuestionSchedule) LockTime() time.Time {
	return s.Kickoff.Add(-LockWindow)
}

// AnswerRow is an answer joined with its question, match and round.
type AnswerRow struct {
	Answer   Answer
	Question Question
	Match    Match
	Round    Round

	// Redacted is set when the answer content was hidden from the requester.
	Redacted bool
}

// AnswerFilter selects answer rows from the ledger. Empty fields do not filter.
type AnswerFilter struct {
	RoundID string
	UserIDs []string
}

// Scope selects the answers that feed standings.
type Scope struct {
	// All includes every round and takes precedence over RoundID.
	All bool
	// RoundID restricts to one round. Empty means the active round.
	RoundID string
}

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// UnknownUser is used when an id cannot be resolved to a user record.
func UnknownUser(id string) User {
	return User{ID: id}
}

// NewID returns a new time-ordered identifier.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// LeaderboardEntry is one user's standing within a scope.
type LeaderboardEntry struct {
	User             User `json:"user"`
	TotalPoints      int  `json:"totalPoints"`
	CorrectAnswers   int  `json:"correctAnswers"`
	IncorrectAnswers int  `json:"incorrectAnswers"`
	TotalAnswers     int  `json:"totalAnswers"`
	Rank             int  `json:"rank"`
}

// Leaderboard is sorted by points then correct answers, descending. Ranks are 1..N with no ties.
type Leaderboard struct {
	// RoundID is empty for the all-time scope.
	RoundID string             `json:"roundId,omitempty"`
	Entries []LeaderboardEntry `json:"entries"`
}
