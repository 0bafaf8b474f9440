package answer

import (
	"context"
	"fmt"
	"time"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
	"github.com/victornm/pickpool/internal/visibility"
)

type Store interface {
	ListAnswerRows(ctx context.Context, f domain.AnswerFilter) ([]domain.AnswerRow, error)
}

type Config struct {
	Store Store
	Now   func() time.Time
}

// Service serves the answer read paths.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store: c.Store,
		now:   now,
	}
}

type ListMineRequest struct {
	UserID  string
	RoundID string
}

// ListMine returns the user's own answers, ordered by round, match and question. No redaction applies.
func (s *Service) ListMine(ctx context.Context, req ListMineRequest) ([]domain.AnswerRow, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	}

	rows, err := s.store.ListAnswerRows(ctx, domain.AnswerFilter{
		RoundID: req.RoundID,
		UserIDs: []string{req.UserID},
	})
	if err != nil {
		return nil, fmt.Errorf("answer: list mine: %w", err)
	}

	return rows, nil
}

type ListForUserRequest struct {
	TargetUserID     string
	RequestingUserID string
	RoundID          string
}

// ListForUser returns another user's answers with content hidden for matches that have not kicked off.
func (s *Service) ListForUser(ctx context.Context, req ListForUserRequest) ([]domain.AnswerRow, error) {
	if req.TargetUserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("target user id is required"))
	}

	rows, err := s.store.ListAnswerRows(ctx, domain.AnswerFilter{
		RoundID: req.RoundID,
		UserIDs: []string{req.TargetUserID},
	})
	if err != nil {
		return nil, fmt.Errorf("answer: list for user: %w", err)
	}

	return visibility.FilterAll(rows, req.RequestingUserID, s.now()), nil
}
