package domain

const (
	EventNameAnswersSubmitted   = "answers.submitted"
	EventNameQuestionScored     = "question.scored"
	EventNameRoundActivated     = "round.activated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAnswersSubmitted struct {
	UserID  string
	Answers []Answer
}

func (EventAnswersSubmitted) Name() string { return EventNameAnswersSubmitted }

// EventQuestionScored is published after a question's correct answer is set or cleared.
type EventQuestionScored struct {
	Question Question
	Answers  []Answer
}

func (EventQuestionScored) Name() string { return EventNameQuestionScored }

type EventRoundActivated struct {
	Round Round
}

func (EventRoundActivated) Name() string { return EventNameRoundActivated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
