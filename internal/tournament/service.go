package tournament

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
	"github.com/victornm/pickpool/internal/event"
)

type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetRound(ctx context.Context, id string) (domain.Round, error)
	DeactivateRounds(ctx context.Context) error
	SetRoundActive(ctx context.Context, id string) error
	GetMatch(ctx context.Context, id string) (domain.Match, error)
	UpdateMatchScore(ctx context.Context, m domain.Match) error
	AppendAudit(ctx context.Context, entries ...domain.AuditLogEntry) error
}

// Invalidator drops cached standings. Activation moves the default leaderboard scope.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Config struct {
	Store       Store
	EventBus    *event.Bus
	Leaderboard Invalidator
	Now         func() time.Time
}

// Service holds the admin operations on rounds and matches.
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

type ActivateRoundRequest struct {
	RoundID string
	ActorID string
}

// ActivateRound makes the round the only active one. Deactivating the others and
// activating the target commit together, so readers never see zero active rounds.
func (s *Service) ActivateRound(ctx context.Context, req ActivateRoundRequest) (*domain.Round, error) {
	var r domain.Round

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.store.GetRound(ctx, req.RoundID)
		if err != nil {
			return err
		}

		if err := s.store.DeactivateRounds(ctx); err != nil {
			return err
		}
		if err := s.store.SetRoundActive(ctx, r.ID); err != nil {
			return err
		}
		r.IsActive = true

		e, err := newAuditEntry(domain.AuditActivateRound, req.ActorID, domain.TargetRound, r.ID, s.now().UTC(), map[string]any{
			"roundNumber": r.RoundNumber,
		})
		if err != nil {
			return err
		}

		return s.store.AppendAudit(ctx, e)
	})
	if errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("tournament: activate round: %w", err)
	}

	if s.lb != nil {
		if err := s.lb.Invalidate(ctx); err != nil {
			slog.ErrorContext(ctx, "tournament: invalidate leaderboard failed", "round", r.ID, "error", err)
		}
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventRoundActivated{Round: r})
	}

	return &r, nil
}

type UpdateMatchScoreRequest struct {
	MatchID   string
	HomeScore *int
	AwayScore *int
	Completed bool
	ActorID   string
}

// UpdateMatchScore records the result of a match. Scores are informational and never affect answer scoring.
func (s *Service) UpdateMatchScore(ctx context.Context, req UpdateMatchScoreRequest) (*domain.Match, error) {
	if (req.HomeScore != nil && *req.HomeScore < 0) || (req.AwayScore != nil && *req.AwayScore < 0) {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("scores must not be negative"))
	}

	var m domain.Match

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.store.GetMatch(ctx, req.MatchID)
		if err != nil {
			return err
		}

		before := score(m)
		m.HomeScore, m.AwayScore, m.Completed = req.HomeScore, req.AwayScore, req.Completed

		if err := s.store.UpdateMatchScore(ctx, m); err != nil {
			return err
		}

		e, err := newAuditEntry(domain.AuditUpdateMatchScore, req.ActorID, domain.TargetMatch, m.ID, s.now().UTC(), map[string]any{
			domain.DetailBefore: before,
			domain.DetailAfter:  score(m),
		})
		if err != nil {
			return err
		}

		return s.store.AppendAudit(ctx, e)
	})
	if errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("tournament: update match score: %w", err)
	}

	return &m, nil
}

func score(m domain.Match) map[string]any {
	return map[string]any{
		"homeScore": intOrNil(m.HomeScore),
		"awayScore": intOrNil(m.AwayScore),
		"completed": m.Completed,
	}
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func newAuditEntry(action domain.AuditAction, actorID, targetType, targetID string, now time.Time, details map[string]any) (domain.AuditLogEntry, error) {
	id, err := domain.NewID()
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	return domain.AuditLogEntry{
		ID:          id,
		Action:      action,
		PerformedBy: actorID,
		TargetType:  targetType,
		TargetID:    targetID,
		Details:     details,
		CreatedAt:   now,
	}, nil
}
