package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
	"github.com/victornm/pickpool/internal/event"
	"github.com/victornm/pickpool/internal/telemetry"
)

type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	UpdateQuestionCorrectAnswer(ctx context.Context, id string, value *string) error
	GetAnswersForQuestion(ctx context.Context, questionID string) ([]domain.Answer, error)
	UpdateAnswersCorrectness(ctx context.Context, answers []domain.Answer) error
	AppendAudit(ctx context.Context, entries ...domain.AuditLogEntry) error
}

// Invalidator drops cached standings. It is called after a rescore commits.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Config struct {
	Store    Store
	EventBus *event.Bus
	// Leaderboard is invalidated before SetCorrectAnswer and ClearCorrectAnswer return.
	Leaderboard Invalidator
	Now         func() time.Time
}

type Service struct {
	store Store
	eb    *event.Bus
	lb    Invalidator
	now   func() time.Time
}

func NewService(c Config) *Service {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store: c.Store,
		eb:    c.EventBus,
		lb:    c.Leaderboard,
		now:   now,
	}
}

type SetCorrectAnswerRequest struct {
	QuestionID string
	Value      string
	ActorID    string
}

// SetCorrectAnswer stores the correct answer and rescores every answer to the question.
func (s *Service) SetCorrectAnswer(ctx context.Context, req SetCorrectAnswerRequest) (*domain.Question, error) {
	v := req.Value
	return s.rescore(ctx, req.QuestionID, &v, req.ActorID, domain.AuditSetCorrectAnswer)
}

type ClearCorrectAnswerRequest struct {
	QuestionID string
	ActorID    string
}

// ClearCorrectAnswer removes the correct answer and returns every answer to the question to Pending.
func (s *Service) ClearCorrectAnswer(ctx context.Context, req ClearCorrectAnswerRequest) (*domain.Question, error) {
	return s.rescore(ctx, req.QuestionID, nil, req.ActorID, domain.AuditClearCorrectAnswer)
}

// rescore writes the question, every answer's correctness and the audit entry in one transaction.
// Running it twice with the same value leaves the same stored state.
func (s *Service) rescore(ctx context.Context, questionID string, value *string, actorID string, action domain.AuditAction) (*domain.Question, error) {
	if questionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question id is required"))
	}

	var (
		q       domain.Question
		answers []domain.Answer
	)

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.store.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		before := q.CorrectAnswer

		if err := s.store.UpdateQuestionCorrectAnswer(ctx, questionID, value); err != nil {
			return err
		}
		q.CorrectAnswer = value

		answers, err = s.store.GetAnswersForQuestion(ctx, questionID)
		if err != nil {
			return err
		}

		for i := range answers {
			answers[i].Correctness = domain.Judge(answers[i].Value, value)
		}

		if err := s.store.UpdateAnswersCorrectness(ctx, answers); err != nil {
			return err
		}

		e, err := newAuditEntry(action, actorID, q, before, value, len(answers), s.now().UTC())
		if err != nil {
			return err
		}

		return s.store.AppendAudit(ctx, e)
	})
	if errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scoring: %s: %w", action, err)
	}

	telemetry.RescoredAnswers.WithLabelValues(string(action)).Add(float64(len(answers)))

	if s.lb != nil {
		if err := s.lb.Invalidate(ctx); err != nil {
			slog.ErrorContext(ctx, "scoring: invalidate leaderboard failed", "question", q.ID, "error", err)
		}
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventQuestionScored{
			Question: q,
			Answers:  answers,
		})
	}

	return &q, nil
}

func newAuditEntry(action domain.AuditAction, actorID string, q domain.Question, before, after *string, rescored int, now time.Time) (domain.AuditLogEntry, error) {
	id, err := domain.NewID()
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	return domain.AuditLogEntry{
		ID:          id,
		Action:      action,
		PerformedBy: actorID,
		TargetType:  domain.TargetQuestion,
		TargetID:    q.ID,
		Details: map[string]any{
			domain.DetailMatchID: q.MatchID,
			domain.DetailBefore:  nullable(before),
			domain.DetailAfter:   nullable(after),
			"rescoredAnswers":    rescored,
		},
		CreatedAt: now,
	}, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
