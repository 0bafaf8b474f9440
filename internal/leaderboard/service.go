package leaderboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
	"github.com/victornm/pickpool/internal/event"
	"github.com/victornm/pickpool/internal/telemetry"
)

const defaultTTL = 30 * time.Second

type Store interface {
	ActiveRound(ctx context.Context) (domain.Round, error)
	GetMatch(ctx context.Context, id string) (domain.Match, error)
	ListAnswerRows(ctx context.Context, f domain.AnswerFilter) ([]domain.AnswerRow, error)
	GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	// Redis caches computed leaderboards. Caching is disabled when nil.
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

type Service struct {
	eb     *event.Bus
	store  Store
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	sf     singleflight.Group
}

func NewService(c Config) *Service {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    ttl,
	}

	// Writers invalidate synchronously through Invalidate. The bus only drives notifications.
	if s.eb != nil {
		s.eb.Subscribe(domain.EventNameQuestionScored, func(ctx context.Context, e event.Event) error {
			return s.onQuestionScored(ctx, e.(domain.EventQuestionScored))
		})
	}

	return s
}

type GetLeaderboardRequest struct {
	Scope domain.Scope
}

// GetLeaderboard returns the ranked standings for the scope. The default scope is the active round;
// with no active round the leaderboard is empty.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	scope := req.Scope
	if !scope.All && scope.RoundID == "" {
		r, err := s.store.ActiveRound(ctx)
		if errors.Is(err, errors.CodeNotFound) {
			return &domain.Leaderboard{Entries: []domain.LeaderboardEntry{}}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("leaderboard: active round: %w", err)
		}
		scope.RoundID = r.ID
	}

	// Resolve the versioned key up front: a result computed across an
	// invalidation is stored under the old generation.
	key := s.cacheKey(ctx, scope)
	if l, ok := s.getCached(ctx, key); ok {
		return l, nil
	}

	flight := key
	if flight == "" {
		flight = scopeKey(scope)
	}

	res, err, _ := s.sf.Do(flight, func() (any, error) {
		l, err := s.compute(ctx, scope)
		if err != nil {
			return nil, err
		}
		s.setCached(ctx, key, l)
		return l, nil
	})
	if err != nil {
		return nil, err
	}

	return res.(*domain.Leaderboard), nil
}

func (s *Service) compute(ctx context.Context, scope domain.Scope) (*domain.Leaderboard, error) {
	f := domain.AnswerFilter{}
	if !scope.All {
		f.RoundID = scope.RoundID
	}

	rows, err := s.store.ListAnswerRows(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: list answers: %w", err)
	}

	entries := Rank(rows)

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.User.ID)
	}
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: get users: %w", err)
	}
	for i := range entries {
		if u, ok := users[entries[i].User.ID]; ok {
			entries[i].User = u
		}
	}

	return &domain.Leaderboard{
		RoundID: f.RoundID,
		Entries: entries,
	}, nil
}

// Rank groups rows by user and orders them by points, then correct answers, both descending.
// Remaining ties are broken by user id so the order is deterministic. Ranks are positions, never shared.
// Pending answers only count toward TotalAnswers.
func Rank(rows []domain.AnswerRow) []domain.LeaderboardEntry {
	idx := make(map[string]int)
	entries := make([]domain.LeaderboardEntry, 0)

	for _, r := range rows {
		i, ok := idx[r.Answer.UserID]
		if !ok {
			i = len(entries)
			idx[r.Answer.UserID] = i
			entries = append(entries, domain.LeaderboardEntry{User: domain.UnknownUser(r.Answer.UserID)})
		}

		e := &entries[i]
		e.TotalAnswers++
		switch r.Answer.Correctness {
		case domain.Correct:
			e.CorrectAnswers++
			e.TotalPoints += r.Question.Points
		case domain.Incorrect:
			e.IncorrectAnswers++
		case domain.Pending:
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		return a.User.ID < b.User.ID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries
}

// Invalidate drops every cached leaderboard by moving to a new cache generation.
// Callers that change standings call it after their write commits and before they respond.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}

	if err := s.redis.Incr(ctx, s.getVersionKey()).Err(); err != nil {
		return fmt.Errorf("leaderboard: invalidate: %w", err)
	}

	return nil
}

// onQuestionScored publishes the standings of the scored question's round.
// The scoring write path has already invalidated the cache by the time the event is delivered.
func (s *Service) onQuestionScored(ctx context.Context, e domain.EventQuestionScored) error {
	m, err := s.store.GetMatch(ctx, e.Question.MatchID)
	if err != nil {
		return fmt.Errorf("leaderboard: get match %s: %w", e.Question.MatchID, err)
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{Scope: domain.Scope{RoundID: m.RoundID}})
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return nil
}

// cacheKey returns the versioned cache key for scope, or "" when caching is unavailable.
func (s *Service) cacheKey(ctx context.Context, scope domain.Scope) string {
	if s.redis == nil {
		return ""
	}

	v, err := s.redis.Get(ctx, s.getVersionKey()).Int64()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, "leaderboard: cache version lookup failed", "error", err)
		return ""
	}

	return fmt.Sprintf("%s:leaderboard:v%d:%s", s.prefix, v, scopeKey(scope))
}

func (s *Service) getCached(ctx context.Context, key string) (*domain.Leaderboard, bool) {
	if key == "" {
		return nil, false
	}

	b, err := s.redis.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		telemetry.LeaderboardCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "leaderboard: cache read failed", "key", key, "error", err)
		return nil, false
	}

	var l domain.Leaderboard
	if err := json.Unmarshal(b, &l); err != nil {
		slog.WarnContext(ctx, "leaderboard: cache decode failed", "key", key, "error", err)
		return nil, false
	}

	telemetry.LeaderboardCache.WithLabelValues("hit").Inc()
	return &l, true
}

func (s *Service) setCached(ctx context.Context, key string, l *domain.Leaderboard) {
	if key == "" {
		return
	}

	b, err := json.Marshal(l)
	if err != nil {
		slog.WarnContext(ctx, "leaderboard: cache encode failed", "error", err)
		return
	}

	if err := s.redis.Set(ctx, key, b, s.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "leaderboard: cache write failed", "key", key, "error", err)
	}
}

func scopeKey(scope domain.Scope) string {
	if scope.All {
		return "all"
	}
	return "round:" + scope.RoundID
}

func (s *Service) getVersionKey() string {
	return fmt.Sprintf("%s:leaderboard:version", s.prefix)
}
