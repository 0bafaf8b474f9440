package stats

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
)

type Store interface {
	SquadMembers(ctx context.Context, squadID string) ([]string, error)
	ListAnswerRows(ctx context.Context, f domain.AnswerFilter) ([]domain.AnswerRow, error)
	GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error)
}

type Config struct {
	Store Store
}

// Service computes squad and personal rollups over every round. Rates only
// count scored answers; pending answers never enter a denominator.
type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

type RoundBreakdown struct {
	RoundID     string `json:"roundId"`
	RoundNumber int    `json:"roundNumber"`
	RoundName   string `json:"roundName"`
	Points      int    `json:"points"`
	Correct     int    `json:"correct"`
	Incorrect   int    `json:"incorrect"`
	Pending     int    `json:"pending"`
	Scored      int    `json:"scored"`
	Accuracy    int    `json:"accuracy"`
}

type PersonalStats struct {
	User         domain.User      `json:"user"`
	TotalPoints  int              `json:"totalPoints"`
	Accuracy     int              `json:"accuracy"`
	Correct      int              `json:"correct"`
	Incorrect    int              `json:"incorrect"`
	Pending      int              `json:"pending"`
	TotalAnswers int              `json:"totalAnswers"`
	Rounds       []RoundBreakdown `json:"rounds"`
	BestRound    *RoundBreakdown  `json:"bestRound"`
	WorstRound   *RoundBreakdown  `json:"worstRound"`
}

type Leader struct {
	User        domain.User `json:"user"`
	TotalPoints int         `json:"totalPoints"`
}

type SquadStats struct {
	SquadID     string           `json:"squadId"`
	MemberCount int              `json:"memberCount"`
	Leader      *Leader          `json:"leader"`
	Correct     int              `json:"correct"`
	Scored      int              `json:"scored"`
	Accuracy    int              `json:"accuracy"`
	Rounds      []RoundBreakdown `json:"rounds"`
	BestRound   *RoundBreakdown  `json:"bestRound"`
}

type RoundComparison struct {
	RoundName     string  `json:"roundName"`
	RoundNumber   int     `json:"roundNumber"`
	Member1Points int     `json:"member1Points"`
	Member2Points int     `json:"member2Points"`
	Winner        *string `json:"winner"`
}

type Comparison struct {
	Member1     PersonalStats     `json:"member1"`
	Member2     PersonalStats     `json:"member2"`
	Member1Wins int               `json:"member1Wins"`
	Member2Wins int               `json:"member2Wins"`
	Ties        int               `json:"ties"`
	Rounds      []RoundComparison `json:"rounds"`
}

type GetSquadStatsRequest struct {
	SquadID string
}

// GetSquadStats returns the squad rollup. A squad without members yields a zero-valued result.
func (s *Service) GetSquadStats(ctx context.Context, req GetSquadStatsRequest) (*SquadStats, error) {
	members, err := s.store.SquadMembers(ctx, req.SquadID)
	if err != nil {
		return nil, fmt.Errorf("stats: squad members: %w", err)
	}

	res := &SquadStats{
		SquadID:     req.SquadID,
		MemberCount: len(members),
		Rounds:      []RoundBreakdown{},
	}
	if len(members) == 0 {
		return res, nil
	}

	rows, err := s.store.ListAnswerRows(ctx, domain.AnswerFilter{UserIDs: members})
	if err != nil {
		return nil, fmt.Errorf("stats: list answers: %w", err)
	}

	var t tally
	points := make(map[string]int, len(members))
	answered := make(map[string]bool, len(members))
	for _, r := range rows {
		t.add(r)
		answered[r.Answer.UserID] = true
		if r.Answer.Correctness == domain.Correct {
			points[r.Answer.UserID] += r.Question.Points
		}
	}

	res.Correct = t.correct
	res.Scored = t.scored()
	res.Accuracy = accuracy(t.correct, t.scored())
	res.Rounds = t.rounds()
	res.BestRound = pickRound(res.Rounds, func(a, b int) bool { return a > b })

	var leader *Leader
	for _, id := range members {
		if !answered[id] {
			continue
		}
		if leader == nil || points[id] > leader.TotalPoints {
			leader = &Leader{User: domain.UnknownUser(id), TotalPoints: points[id]}
		}
	}

	if leader != nil {
		users, err := s.store.GetUsers(ctx, []string{leader.User.ID})
		if err != nil {
			return nil, fmt.Errorf("stats: get users: %w", err)
		}
		if u, ok := users[leader.User.ID]; ok {
			leader.User = u
		}
		res.Leader = leader
	}

	return res, nil
}

type GetPersonalStatsRequest struct {
	UserID  string
	SquadID string
}

// GetPersonalStats returns one member's rollup. The user must belong to the squad.
func (s *Service) GetPersonalStats(ctx context.Context, req GetPersonalStatsRequest) (*PersonalStats, error) {
	members, err := s.store.SquadMembers(ctx, req.SquadID)
	if err != nil {
		return nil, fmt.Errorf("stats: squad members: %w", err)
	}

	if !slices.Contains(members, req.UserID) {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("not a squad member: user=%s squad=%s", req.UserID, req.SquadID))
	}

	return s.personal(ctx, req.UserID)
}

func (s *Service) personal(ctx context.Context, userID string) (*PersonalStats, error) {
	rows, err := s.store.ListAnswerRows(ctx, domain.AnswerFilter{UserIDs: []string{userID}})
	if err != nil {
		return nil, fmt.Errorf("stats: list answers: %w", err)
	}

	users, err := s.store.GetUsers(ctx, []string{userID})
	if err != nil {
		return nil, fmt.Errorf("stats: get users: %w", err)
	}

	u, ok := users[userID]
	if !ok {
		u = domain.UnknownUser(userID)
	}

	var t tally
	for _, r := range rows {
		t.add(r)
	}

	res := &PersonalStats{
		User:         u,
		TotalPoints:  t.points,
		Accuracy:     accuracy(t.correct, t.scored()),
		Correct:      t.correct,
		Incorrect:    t.incorrect,
		Pending:      t.pending,
		TotalAnswers: t.correct + t.incorrect + t.pending,
		Rounds:       t.rounds(),
	}
	res.BestRound = pickRound(res.Rounds, func(a, b int) bool { return a > b })
	res.WorstRound = pickRound(res.Rounds, func(a, b int) bool { return a < b })

	return res, nil
}

type CompareMembersRequest struct {
	Member1ID string
	Member2ID string
	SquadID   string
}

// CompareMembers computes both members' stats and compares their points round by round.
func (s *Service) CompareMembers(ctx context.Context, req CompareMembersRequest) (*Comparison, error) {
	var (
		m1, m2 *PersonalStats
		eg     errgroup.Group
	)

	eg.Go(func() error {
		var err error
		m1, err = s.GetPersonalStats(ctx, GetPersonalStatsRequest{UserID: req.Member1ID, SquadID: req.SquadID})
		return err
	})
	eg.Go(func() error {
		var err error
		m2, err = s.GetPersonalStats(ctx, GetPersonalStatsRequest{UserID: req.Member2ID, SquadID: req.SquadID})
		return err
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return compare(*m1, *m2), nil
}

func compare(m1, m2 PersonalStats) *Comparison {
	type side struct {
		number int
		p1, p2 int
	}

	byName := make(map[string]*side)
	get := func(r RoundBreakdown) *side {
		sd, ok := byName[r.RoundName]
		if !ok {
			sd = &side{number: r.RoundNumber}
			byName[r.RoundName] = sd
		}
		return sd
	}
	for _, r := range m1.Rounds {
		get(r).p1 = r.Points
	}
	for _, r := range m2.Rounds {
		get(r).p2 = r.Points
	}

	res := &Comparison{
		Member1: m1,
		Member2: m2,
		Rounds:  make([]RoundComparison, 0, len(byName)),
	}

	for name, sd := range byName {
		rc := RoundComparison{
			RoundName:     name,
			RoundNumber:   sd.number,
			Member1Points: sd.p1,
			Member2Points: sd.p2,
		}

		switch {
		case sd.p1 > sd.p2:
			rc.Winner = &m1.User.ID
			res.Member1Wins++
		case sd.p2 > sd.p1:
			rc.Winner = &m2.User.ID
			res.Member2Wins++
		default:
			res.Ties++
		}

		res.Rounds = append(res.Rounds, rc)
	}

	sort.Slice(res.Rounds, func(i, j int) bool {
		if res.Rounds[i].RoundNumber != res.Rounds[j].RoundNumber {
			return res.Rounds[i].RoundNumber < res.Rounds[j].RoundNumber
		}
		return res.Rounds[i].RoundName < res.Rounds[j].RoundName
	})

	return res
}

// tally accumulates answer counts overall and per round.
type tally struct {
	points, correct, incorrect, pending int

	order   []string
	byRound map[string]*RoundBreakdown
}

func (t *tally) add(r domain.AnswerRow) {
	if t.byRound == nil {
		t.byRound = make(map[string]*RoundBreakdown)
	}

	rb, ok := t.byRound[r.Round.ID]
	if !ok {
		rb = &RoundBreakdown{
			RoundID:     r.Round.ID,
			RoundNumber: r.Round.RoundNumber,
			RoundName:   r.Round.Name,
		}
		t.byRound[r.Round.ID] = rb
		t.order = append(t.order, r.Round.ID)
	}

	switch r.Answer.Correctness {
	case domain.Correct:
		t.correct++
		t.points += r.Question.Points
		rb.Correct++
		rb.Points += r.Question.Points
	case domain.Incorrect:
		t.incorrect++
		rb.Incorrect++
	case domain.Pending:
		t.pending++
		rb.Pending++
	}
}

func (t *tally) scored() int {
	return t.correct + t.incorrect
}

// rounds returns the per-round breakdown ordered by round number.
func (t *tally) rounds() []RoundBreakdown {
	res := make([]RoundBreakdown, 0, len(t.order))
	for _, id := range t.order {
		rb := *t.byRound[id]
		rb.Scored = rb.Correct + rb.Incorrect
		rb.Accuracy = accuracy(rb.Correct, rb.Scored)
		res = append(res, rb)
	}

	sort.SliceStable(res, func(i, j int) bool { return res[i].RoundNumber < res[j].RoundNumber })
	return res
}

// pickRound returns the first round with at least one scored answer whose accuracy
// beats every earlier candidate under better.
func pickRound(rounds []RoundBreakdown, better func(a, b int) bool) *RoundBreakdown {
	var res *RoundBreakdown
	for i := range rounds {
		if rounds[i].Scored == 0 {
			continue
		}
		if res == nil || better(rounds[i].Accuracy, res.Accuracy) {
			r := rounds[i]
			res = &r
		}
	}
	return res
}

// accuracy is correct/scored as a percentage rounded half up. Zero when nothing is scored.
func accuracy(correct, scored int) int {
	if scored == 0 {
		return 0
	}

	return int(decimal.NewFromInt(int64(correct) * 100).
		Div(decimal.NewFromInt(int64(scored))).
		Round(0).
		IntPart())
}
