package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/pickpool/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	QuestionScored struct {
		QuestionID    string             `json:"questionId"`
		MatchID       string             `json:"matchId"`
		CorrectAnswer *string            `json:"correctAnswer"`
		Answer        string             `json:"answer"`
		IsCorrect     domain.Correctness `json:"isCorrect"`
	}
)

// PublishLeaderboardUpdated sends the new standings to every ranked user.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range l.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.User.ID, e.Name(), l)
		})
	}

	return eg.Wait()
}

// PublishQuestionScored tells each user who answered the question how their answer was judged.
func (a *API) PublishQuestionScored(ctx context.Context, e domain.EventQuestionScored) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, ans := range e.Answers {
		data := QuestionScored{
			QuestionID:    e.Question.ID,
			MatchID:       e.Question.MatchID,
			CorrectAnswer: e.Question.CorrectAnswer,
			Answer:        ans.Value,
			IsCorrect:     ans.Correctness,
		}

		eg.Go(func() error {
			return a.publishNotification(ctx, ans.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %w", event, err)
	}

	return a.redis.Publish(ctx, a.channel(user), b).Err()
}

func (a *API) channel(user string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, user)
}
