package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/victornm/pickpool/internal/domain"
)

const DefaultLimit = 200

type Store interface {
	ListAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, error)
	GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error)
}

type Config struct {
	Store Store
	// DefaultLimit caps List when the request has no limit. Defaults to DefaultLimit.
	DefaultLimit int
}

type Service struct {
	store        Store
	defaultLimit int
}

func NewService(c Config) *Service {
	limit := c.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Service{
		store:        c.Store,
		defaultLimit: limit,
	}
}

type Entry struct {
	ID         string             `json:"id"`
	Action     domain.AuditAction `json:"action"`
	Actor      domain.User        `json:"actor"`
	TargetType string             `json:"targetType"`
	TargetID   string             `json:"targetId"`
	Details    map[string]any     `json:"details"`
	CreatedAt  time.Time          `json:"createdAt"`
}

type ListRequest struct {
	Action      domain.AuditAction
	PerformedBy string
	Limit       int
}

// List returns audit entries newest first, enriched with the acting user.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Entry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}

	entries, err := s.store.ListAudit(ctx, domain.AuditFilter{
		Action:      req.Action,
		PerformedBy: req.PerformedBy,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}

	users, err := s.actors(ctx, entries)
	if err != nil {
		return nil, err
	}

	res := make([]Entry, 0, len(entries))
	for _, e := range entries {
		res = append(res, Entry{
			ID:         e.ID,
			Action:     e.Action,
			Actor:      lookup(users, e.PerformedBy),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt,
		})
	}

	return res, nil
}

type FlaggedUser struct {
	User          domain.User `json:"user"`
	RejectedCount int         `json:"rejectedCount"`
}

type LateSubmission struct {
	EntryID     string      `json:"entryId"`
	User        domain.User `json:"user"`
	QuestionID  string      `json:"questionId"`
	MatchID     string      `json:"matchId"`
	Kickoff     time.Time   `json:"kickoff"`
	SubmittedAt time.Time   `json:"submittedAt"`
	// LeadSeconds is the time left before kickoff when the answer was saved.
	LeadSeconds int64 `json:"leadSeconds"`
}

type Report struct {
	FlaggedUsers    []FlaggedUser    `json:"flaggedUsers"`
	LateSubmissions []LateSubmission `json:"lateSubmissions"`
}

// SuspiciousActivity reports users who keep hitting the lock and answers saved
// within the late window before kickoff.
func (s *Service) SuspiciousActivity(ctx context.Context) (*Report, error) {
	rejected, err := s.store.ListAudit(ctx, domain.AuditFilter{Action: domain.AuditAnswerRejectedLocked})
	if err != nil {
		return nil, fmt.Errorf("audit: list rejections: %w", err)
	}

	submitted, err := s.store.ListAudit(ctx, domain.AuditFilter{Action: domain.AuditAnswerSubmitted})
	if err != nil {
		return nil, fmt.Errorf("audit: list submissions: %w", err)
	}

	counts := make(map[string]int)
	for _, e := range rejected {
		counts[e.PerformedBy]++
	}

	flagged := make([]FlaggedUser, 0, len(counts))
	for id, n := range counts {
		flagged = append(flagged, FlaggedUser{User: domain.UnknownUser(id), RejectedCount: n})
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].RejectedCount != flagged[j].RejectedCount {
			return flagged[i].RejectedCount > flagged[j].RejectedCount
		}
		return flagged[i].User.ID < flagged[j].User.ID
	})

	late := make([]LateSubmission, 0)
	for _, e := range submitted {
		ls, ok := lateSubmission(e)
		if !ok {
			continue
		}
		late = append(late, ls)
	}

	users, err := s.actors(ctx, rejected, submitted)
	if err != nil {
		return nil, err
	}

	for i := range flagged {
		flagged[i].User = lookup(users, flagged[i].User.ID)
	}
	for i := range late {
		late[i].User = lookup(users, late[i].User.ID)
	}

	return &Report{
		FlaggedUsers:    flagged,
		LateSubmissions: late,
	}, nil
}

func lateSubmission(e domain.AuditLogEntry) (LateSubmission, bool) {
	kickoff, ok := detailTime(e, domain.DetailKickoff)
	if !ok {
		return LateSubmission{}, false
	}

	submittedAt, ok := detailTime(e, domain.DetailSubmittedAt)
	if !ok {
		return LateSubmission{}, false
	}

	lead := kickoff.Sub(submittedAt)
	if lead <= 0 || lead > domain.LateWindow {
		return LateSubmission{}, false
	}

	questionID, _ := e.Details[domain.DetailQuestionID].(string)
	matchID, _ := e.Details[domain.DetailMatchID].(string)

	return LateSubmission{
		EntryID:     e.ID,
		User:        domain.UnknownUser(e.PerformedBy),
		QuestionID:  questionID,
		MatchID:     matchID,
		Kickoff:     kickoff,
		SubmittedAt: submittedAt,
		LeadSeconds: int64(lead / time.Second),
	}, true
}

func detailTime(e domain.AuditLogEntry, key string) (time.Time, bool) {
	v, ok := e.Details[key].(string)
	if !ok {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		slog.Debug("audit: malformed timestamp in details", "entry", e.ID, "key", key, "value", v)
		return time.Time{}, false
	}

	return t, true
}

// actors loads every distinct actor of the given entries in one lookup.
func (s *Service) actors(ctx context.Context, lists ...[]domain.AuditLogEntry) (map[string]domain.User, error) {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, l := range lists {
		for _, e := range l {
			if _, ok := seen[e.PerformedBy]; ok {
				continue
			}
			seen[e.PerformedBy] = struct{}{}
			ids = append(ids, e.PerformedBy)
		}
	}

	if len(ids) == 0 {
		return map[string]domain.User{}, nil
	}

	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("audit: get users: %w", err)
	}

	return users, nil
}

func lookup(users map[string]domain.User, id string) domain.User {
	if u, ok := users[id]; ok {
		return u
	}
	return domain.UnknownUser(id)
}
