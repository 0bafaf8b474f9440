package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
)

type answerKey struct {
	questionID string
	userID     string
}

type state struct {
	users     map[string]domain.User
	squads    map[string][]string
	rounds    map[string]domain.Round
	matches   map[string]domain.Match
	questions map[string]domain.Question
	answers   map[string]domain.Answer
	answerIdx map[answerKey]string
	audit     []domain.AuditLogEntry
}

func (s state) clone() state {
	c := state{
		users:     maps.Clone(s.users),
		squads:    make(map[string][]string, len(s.squads)),
		rounds:    maps.Clone(s.rounds),
		matches:   maps.Clone(s.matches),
		questions: maps.Clone(s.questions),
		answers:   maps.Clone(s.answers),
		answerIdx: maps.Clone(s.answerIdx),
		audit:     slices.Clone(s.audit),
	}
	for k, v := range s.squads {
		c.squads[k] = slices.Clone(v)
	}
	return c
}

type txKey struct{}

// Store is an in-memory ledger with the same semantics as the Postgres store,
// including all-or-nothing transactions.
type Store struct {
	mu sync.RWMutex
	s  state
}

func NewStore() *Store {
	return &Store{
		s: state{
			users:     make(map[string]domain.User),
			squads:    make(map[string][]string),
			rounds:    make(map[string]domain.Round),
			matches:   make(map[string]domain.Match),
			questions: make(map[string]domain.Question),
			answers:   make(map[string]domain.Answer),
			answerIdx: make(map[answerKey]string),
		},
	}
}

// RunInTx runs fn holding the store lock. If fn fails every write it made is discarded.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.s.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.s = snapshot
		return err
	}

	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) read(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) write(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.users[u.ID] = u
}

func (s *Store) AddSquadMember(squadID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.s.squads[squadID], userID) {
		return
	}
	s.s.squads[squadID] = append(s.s.squads[squadID], userID)
}

func (s *Store) PutRound(r domain.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.rounds[r.ID] = r
}

func (s *Store) PutMatch(m domain.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.matches[m.ID] = m
}

func (s *Store) PutQuestion(q domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.questions[q.ID] = copyQuestion(q)
}

func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	defer s.read(ctx)()

	res := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if u, ok := s.s.users[id]; ok {
			res[id] = u
		}
	}
	return res, nil
}

func (s *Store) SquadMembers(ctx context.Context, squadID string) ([]string, error) {
	defer s.read(ctx)()
	return slices.Clone(s.s.squads[squadID]), nil
}

func (s *Store) GetRound(ctx context.Context, id string) (domain.Round, error) {
	defer s.read(ctx)()

	r, ok := s.s.rounds[id]
	if !ok {
		return domain.Round{}, errors.NotFound("round not found: id=%s", id)
	}
	return r, nil
}

func (s *Store) ActiveRound(ctx context.Context) (domain.Round, error) {
	defer s.read(ctx)()

	for _, r := range s.s.rounds {
		if r.IsActive {
			return r, nil
		}
	}
	return domain.Round{}, errors.NotFound("no active round")
}

func (s *Store) DeactivateRounds(ctx context.Context) error {
	defer s.write(ctx)()

	for id, r := range s.s.rounds {
		r.IsActive = false
		s.s.rounds[id] = r
	}
	return nil
}

func (s *Store) SetRoundActive(ctx context.Context, id string) error {
	defer s.write(ctx)()

	r, ok := s.s.rounds[id]
	if !ok {
		return errors.NotFound("round not found: id=%s", id)
	}
	r.IsActive = true
	s.s.rounds[id] = r
	return nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (domain.Match, error) {
	defer s.read(ctx)()

	m, ok := s.s.matches[id]
	if !ok {
		return domain.Match{}, errors.NotFound("match not found: id=%s", id)
	}
	return m, nil
}

func (s *Store) UpdateMatchScore(ctx context.Context, m domain.Match) error {
	defer s.write(ctx)()

	cur, ok := s.s.matches[m.ID]
	if !ok {
		return errors.NotFound("match not found: id=%s", m.ID)
	}
	cur.HomeScore, cur.AwayScore, cur.Completed = m.HomeScore, m.AwayScore, m.Completed
	s.s.matches[m.ID] = cur
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	defer s.read(ctx)()

	q, ok := s.s.questions[id]
	if !ok {
		return domain.Question{}, errors.NotFound("question not found: id=%s", id)
	}
	return copyQuestion(q), nil
}

func (s *Store) UpdateQuestionCorrectAnswer(ctx context.Context, id string, value *string) error {
	defer s.write(ctx)()

	q, ok := s.s.questions[id]
	if !ok {
		return errors.NotFound("question not found: id=%s", id)
	}
	q.CorrectAnswer = copyString(value)
	s.s.questions[id] = q
	return nil
}

func (s *Store) GetQuestionSchedules(ctx context.Context, ids []string) (map[string]domain.QuestionSchedule, error) {
	defer s.read(ctx)()

	res := make(map[string]domain.QuestionSchedule, len(ids))
	for _, id := range ids {
		q, ok := s.s.questions[id]
		if !ok {
			continue
		}
		m, ok := s.s.matches[q.MatchID]
		if !ok {
			continue
		}
		res[id] = domain.QuestionSchedule{
			QuestionID: q.ID,
			MatchID:    m.ID,
			RoundID:    m.RoundID,
			HomeTeam:   m.HomeTeam,
			AwayTeam:   m.AwayTeam,
			Kickoff:    m.Kickoff,
		}
	}
	return res, nil
}

// UpsertAnswers inserts answers or overwrites the value of an existing (question, user) pair.
// Overwritten answers keep their id and creation time and go back to Pending.
func (s *Store) UpsertAnswers(ctx context.Context, answers []domain.Answer) ([]domain.Answer, error) {
	defer s.write(ctx)()

	res := make([]domain.Answer, 0, len(answers))
	for _, a := range answers {
		if _, ok := s.s.questions[a.QuestionID]; !ok {
			return nil, errors.NotFound("question not found: id=%s", a.QuestionID)
		}

		k := answerKey{questionID: a.QuestionID, userID: a.UserID}
		if id, ok := s.s.answerIdx[k]; ok {
			cur := s.s.answers[id]
			cur.Value = a.Value
			cur.Correctness = domain.Pending
			cur.UpdatedAt = a.UpdatedAt
			s.s.answers[id] = cur
			res = append(res, cur)
			continue
		}

		a.Correctness = domain.Pending
		if a.CreatedAt.IsZero() {
			a.CreatedAt = a.UpdatedAt
		}
		s.s.answers[a.ID] = a
		s.s.answerIdx[k] = a.ID
		res = append(res, a)
	}
	return res, nil
}

func (s *Store) GetAnswersForQuestion(ctx context.Context, questionID string) ([]domain.Answer, error) {
	defer s.read(ctx)()

	var res []domain.Answer
	for _, a := range s.s.answers {
		if a.QuestionID == questionID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *Store) UpdateAnswersCorrectness(ctx context.Context, answers []domain.Answer) error {
	defer s.write(ctx)()

	for _, a := range answers {
		cur, ok := s.s.answers[a.ID]
		if !ok {
			return errors.NotFound("answer not found: id=%s", a.ID)
		}
		cur.Correctness = a.Correctness
		s.s.answers[a.ID] = cur
	}
	return nil
}

// ListAnswerRows returns joined answers ordered by round, match and question number.
func (s *Store) ListAnswerRows(ctx context.Context, f domain.AnswerFilter) ([]domain.AnswerRow, error) {
	defer s.read(ctx)()

	var res []domain.AnswerRow
	for _, a := range s.s.answers {
		if len(f.UserIDs) > 0 && !slices.Contains(f.UserIDs, a.UserID) {
			continue
		}
		q, ok := s.s.questions[a.QuestionID]
		if !ok {
			continue
		}
		m, ok := s.s.matches[q.MatchID]
		if !ok {
			continue
		}
		if f.RoundID != "" && m.RoundID != f.RoundID {
			continue
		}
		r, ok := s.s.rounds[m.RoundID]
		if !ok {
			continue
		}
		res = append(res, domain.AnswerRow{
			Answer:   a,
			Question: copyQuestion(q),
			Match:    m,
			Round:    r,
		})
	}

	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.Round.RoundNumber != b.Round.RoundNumber {
			return a.Round.RoundNumber < b.Round.RoundNumber
		}
		if a.Match.MatchNumber != b.Match.MatchNumber {
			return a.Match.MatchNumber < b.Match.MatchNumber
		}
		if a.Question.QuestionNumber != b.Question.QuestionNumber {
			return a.Question.QuestionNumber < b.Question.QuestionNumber
		}
		return a.Answer.UserID < b.Answer.UserID
	})
	return res, nil
}

func (s *Store) AppendAudit(ctx context.Context, entries ...domain.AuditLogEntry) error {
	defer s.write(ctx)()

	for _, e := range entries {
		e.Details = maps.Clone(e.Details)
		s.s.audit = append(s.s.audit, e)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	defer s.read(ctx)()

	var res []domain.AuditLogEntry
	for i := len(s.s.audit) - 1; i >= 0; i-- {
		e := s.s.audit[i]
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.PerformedBy != "" && e.PerformedBy != f.PerformedBy {
			continue
		}
		res = append(res, e)
	}

	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func copyQuestion(q domain.Question) domain.Question {
	q.Options = slices.Clone(q.Options)
	q.CorrectAnswer = copyString(q.CorrectAnswer)
	return q
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
