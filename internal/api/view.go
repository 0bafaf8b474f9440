package api

import (
	"time"

	"github.com/victornm/pickpool/internal/domain"
)

type (
	Round struct {
		ID          string    `json:"id"`
		RoundNumber int       `json:"roundNumber"`
		Name        string    `json:"name"`
		StartsAt    time.Time `json:"startsAt"`
		EndsAt      time.Time `json:"endsAt"`
		IsActive    bool      `json:"isActive"`
	}

	Match struct {
		ID          string    `json:"id"`
		RoundID     string    `json:"roundId"`
		MatchNumber int       `json:"matchNumber"`
		HomeTeam    string    `json:"homeTeam"`
		AwayTeam    string    `json:"awayTeam"`
		Kickoff     time.Time `json:"kickoff"`
		Venue       *string   `json:"venue"`
		HomeScore   *int      `json:"homeScore"`
		AwayScore   *int      `json:"awayScore"`
		Completed   bool      `json:"completed"`
	}

	Question struct {
		ID             string              `json:"id"`
		MatchID        string              `json:"matchId"`
		QuestionNumber int                 `json:"questionNumber"`
		Text           string              `json:"text"`
		Type           domain.QuestionType `json:"type"`
		Options        []string            `json:"options"`
		Points         int                 `json:"points"`
		CorrectAnswer  *string             `json:"correctAnswer"`
	}

	SubmittedAnswer struct {
		ID          string             `json:"id"`
		QuestionID  string             `json:"questionId"`
		Answer      string             `json:"answer"`
		IsCorrect   domain.Correctness `json:"isCorrect"`
		SubmittedAt time.Time          `json:"submittedAt"`
	}

	// AnswerRow renders a redacted answer with null answer and correctness.
	AnswerRow struct {
		ID          string             `json:"id"`
		UserID      string             `json:"userId"`
		Answer      *string            `json:"answer"`
		IsCorrect   domain.Correctness `json:"isCorrect"`
		Redacted    bool               `json:"redacted"`
		SubmittedAt time.Time          `json:"submittedAt"`
		Question    Question           `json:"question"`
		Match       Match              `json:"match"`
		Round       Round              `json:"round"`
	}
)

func newRound(r domain.Round) Round {
	return Round{
		ID:          r.ID,
		RoundNumber: r.RoundNumber,
		Name:        r.Name,
		StartsAt:    r.StartsAt,
		EndsAt:      r.EndsAt,
		IsActive:    r.IsActive,
	}
}

func newMatch(m domain.Match) Match {
	return Match{
		ID:          m.ID,
		RoundID:     m.RoundID,
		MatchNumber: m.MatchNumber,
		HomeTeam:    m.HomeTeam,
		AwayTeam:    m.AwayTeam,
		Kickoff:     m.Kickoff,
		Venue:       m.Venue,
		HomeScore:   m.HomeScore,
		AwayScore:   m.AwayScore,
		Completed:   m.Completed,
	}
}

func newQuestion(q domain.Question) Question {
	opts := q.Options
	if opts == nil {
		opts = []string{}
	}

	return Question{
		ID:             q.ID,
		MatchID:        q.MatchID,
		QuestionNumber: q.QuestionNumber,
		Text:           q.Text,
		Type:           q.Type,
		Options:        opts,
		Points:         q.Points,
		CorrectAnswer:  q.CorrectAnswer,
	}
}

func newSubmittedAnswer(a domain.Answer) SubmittedAnswer {
	return SubmittedAnswer{
		ID:          a.ID,
		QuestionID:  a.QuestionID,
		Answer:      a.Value,
		IsCorrect:   a.Correctness,
		SubmittedAt: a.UpdatedAt,
	}
}

func newAnswerRows(rows []domain.AnswerRow) []AnswerRow {
	res := make([]AnswerRow, 0, len(rows))
	for _, r := range rows {
		ar := AnswerRow{
			ID:          r.Answer.ID,
			UserID:      r.Answer.UserID,
			IsCorrect:   r.Answer.Correctness,
			Redacted:    r.Redacted,
			SubmittedAt: r.Answer.UpdatedAt,
			Question:    newQuestion(r.Question),
			Match:       newMatch(r.Match),
			Round:       newRound(r.Round),
		}
		if !r.Redacted {
			v := r.Answer.Value
			ar.Answer = &v
		}
		res = append(res, ar)
	}
	return res
}
