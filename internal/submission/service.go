package submission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
	"github.com/victornm/pickpool/internal/event"
	"github.com/victornm/pickpool/internal/telemetry"
)

type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetQuestionSchedules(ctx context.Context, ids []string) (map[string]domain.QuestionSchedule, error)
	UpsertAnswers(ctx context.Context, answers []domain.Answer) ([]domain.Answer, error)
	AppendAudit(ctx context.Context, entries ...domain.AuditLogEntry) error
}

// Invalidator drops cached standings once accepted answers are committed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Config struct {
	Store       Store
	EventBus    *event.Bus
	Leaderboard Invalidator
	// Now is the clock used for lock checks. Defaults to time.Now.
	Now func() time.Time
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

type Candidate struct {
	QuestionID string
	Value      string
}

type SubmitRequest struct {
	UserID  string
	Answers []Candidate
}

// Rejection describes a candidate refused because its match is locked.
type Rejection struct {
	QuestionID string    `json:"questionId"`
	MatchID    string    `json:"matchId"`
	Match      string    `json:"match"`
	Kickoff    time.Time `json:"kickoff"`
	Reason     string    `json:"reason"`
}

type SubmitResponse struct {
	Accepted []domain.Answer
	Rejected []Rejection
	// Message summarizes a partially locked batch. Empty when nothing was rejected.
	Message string
}

// Submit partitions the candidates by lock time and upserts the accepted ones in one transaction.
// Candidates referencing unknown questions are dropped without being reported.
// If every known candidate is locked the call fails with CodeFailedPrecondition.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	}

	candidates := dedupe(req.Answers)
	if len(candidates) == 0 {
		return &SubmitResponse{}, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.QuestionID)
	}

	schedules, err := s.store.GetQuestionSchedules(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("submission: load schedules: %w", err)
	}

	now := s.now().UTC()

	var (
		accepted      []domain.Answer
		rejected      []Rejection
		rejectedAudit []domain.AuditLogEntry
	)

	for _, c := range candidates {
		qs, ok := schedules[c.QuestionID]
		if !ok {
			slog.DebugContext(ctx, "submission: dropping unknown question", "user", req.UserID, "question", c.QuestionID)
			telemetry.SubmittedAnswers.WithLabelValues("dropped_unknown").Inc()
			continue
		}

		if !now.Before(qs.LockTime()) {
			r := newRejection(qs)
			rejected = append(rejected, r)

			e, err := newAuditEntry(domain.AuditAnswerRejectedLocked, req.UserID, qs, now, map[string]any{
				domain.DetailAnswer:      c.Value,
				domain.DetailAttemptedAt: now.Format(time.RFC3339Nano),
			})
			if err != nil {
				return nil, err
			}
			rejectedAudit = append(rejectedAudit, e)
			continue
		}

		id, err := domain.NewID()
		if err != nil {
			return nil, err
		}
		accepted = append(accepted, domain.Answer{
			ID:         id,
			QuestionID: c.QuestionID,
			UserID:     req.UserID,
			Value:      c.Value,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if len(rejectedAudit) > 0 {
		if err := s.store.AppendAudit(ctx, rejectedAudit...); err != nil {
			return nil, fmt.Errorf("submission: audit rejections: %w", err)
		}
		telemetry.SubmittedAnswers.WithLabelValues("rejected_locked").Add(float64(len(rejected)))
	}

	if len(accepted) == 0 {
		if len(rejected) > 0 {
			return nil, lockedError(rejected)
		}
		return &SubmitResponse{}, nil
	}

	stored, err := s.persist(ctx, accepted, schedules, now)
	if err != nil {
		return nil, err
	}
	telemetry.SubmittedAnswers.WithLabelValues("accepted").Add(float64(len(stored)))

	if s.lb != nil {
		if err := s.lb.Invalidate(ctx); err != nil {
			slog.ErrorContext(ctx, "submission: invalidate leaderboard failed", "user", req.UserID, "error", err)
		}
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventAnswersSubmitted{
			UserID:  req.UserID,
			Answers: stored,
		})
	}

	resp := &SubmitResponse{
		Accepted: stored,
		Rejected: rejected,
	}
	if len(rejected) > 0 {
		resp.Message = fmt.Sprintf("%d answer(s) saved, %d locked", len(stored), len(rejected))
	}

	return resp, nil
}

func (s *Service) persist(ctx context.Context, answers []domain.Answer, schedules map[string]domain.QuestionSchedule, now time.Time) ([]domain.Answer, error) {
	var stored []domain.Answer

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.store.UpsertAnswers(ctx, answers)
		if err != nil {
			return fmt.Errorf("upsert answers: %w", err)
		}

		entries := make([]domain.AuditLogEntry, 0, len(stored))
		for _, a := range stored {
			e, err := newAuditEntry(domain.AuditAnswerSubmitted, a.UserID, schedules[a.QuestionID], now, map[string]any{
				domain.DetailAnswer:      a.Value,
				domain.DetailSubmittedAt: a.UpdatedAt.UTC().Format(time.RFC3339Nano),
				"answerId":               a.ID,
			})
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}

		return s.store.AppendAudit(ctx, entries...)
	})
	if err != nil {
		return nil, fmt.Errorf("submission: persist: %w", err)
	}

	return stored, nil
}

// dedupe keeps the last value submitted for each question, in first-seen order.
func dedupe(in []Candidate) []Candidate {
	idx := make(map[string]int, len(in))
	out := make([]Candidate, 0, len(in))

	for _, c := range in {
		if c.QuestionID == "" {
			continue
		}
		if i, ok := idx[c.QuestionID]; ok {
			out[i].Value = c.Value
			continue
		}
		idx[c.QuestionID] = len(out)
		out = append(out, c)
	}

	return out
}

func newRejection(qs domain.QuestionSchedule) Rejection {
	match := fmt.Sprintf("%s vs %s", qs.HomeTeam, qs.AwayTeam)
	return Rejection{
		QuestionID: qs.QuestionID,
		MatchID:    qs.MatchID,
		Match:      match,
		Kickoff:    qs.Kickoff.UTC(),
		Reason:     fmt.Sprintf("%s is locked: kickoff %s", match, qs.Kickoff.UTC().Format(time.RFC3339)),
	}
}

func newAuditEntry(action domain.AuditAction, userID string, qs domain.QuestionSchedule, now time.Time, details map[string]any) (domain.AuditLogEntry, error) {
	id, err := domain.NewID()
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	details[domain.DetailQuestionID] = qs.QuestionID
	details[domain.DetailMatchID] = qs.MatchID
	details[domain.DetailKickoff] = qs.Kickoff.UTC().Format(time.RFC3339Nano)

	return domain.AuditLogEntry{
		ID:          id,
		Action:      action,
		PerformedBy: userID,
		TargetType:  domain.TargetQuestion,
		TargetID:    qs.QuestionID,
		Details:     details,
		CreatedAt:   now,
	}, nil
}

func lockedError(rejected []Rejection) error {
	seen := make(map[string]bool, len(rejected))
	parts := make([]string, 0, len(rejected))
	for _, r := range rejected {
		if seen[r.MatchID] {
			continue
		}
		seen[r.MatchID] = true
		parts = append(parts, fmt.Sprintf("%s (kickoff %s)", r.Match, r.Kickoff.Format(time.RFC3339)))
	}

	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("all submissions are locked: %s", strings.Join(parts, "; ")),
		errors.WithDetails(map[string]any{"locked": rejected}),
	)
}
