package submission_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
	"github.com/victornm/pickpool/internal/event"
	"github.com/victornm/pickpool/internal/store/memory"
	"github.com/victornm/pickpool/internal/submission"
)

var kickoff = time.Date(2025, 2, 1, 15, 0, 0, 0, time.UTC)

func TestService_Submit_LockBoundary(t *testing.T) {
	tests := map[string]struct {
		now      time.Time
		accepted bool
	}{
		"one second before lock time should be accepted": {
			now:      kickoff.Add(-time.Hour - time.Second),
			accepted: true,
		},
		"exactly at lock time should be rejected": {
			now:      kickoff.Add(-time.Hour),
			accepted: false,
		},
		"after kickoff should be rejected": {
			now:      kickoff.Add(time.Minute),
			accepted: false,
		},
		"well before kickoff should be accepted": {
			now:      kickoff.Add(-48 * time.Hour),
			accepted: true,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			st := seedStore()
			s := makeService(st, tt.now)

			resp, err := s.Submit(context.Background(), submission.SubmitRequest{
				UserID:  "u1",
				Answers: []submission.Candidate{{QuestionID: "q1", Value: "Yes"}},
			})

			if tt.accepted {
				require.NoError(t, err)
				require.Len(t, resp.Accepted, 1)
				assert.Empty(t, resp.Rejected)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "all-locked batch should fail with failed precondition")
		})
	}
}

func TestService_Submit_UpsertResetsCorrectness(t *testing.T) {
	st := seedStore()
	s := makeService(st, kickoff.Add(-5*time.Hour))
	ctx := context.Background()

	_, err := s.Submit(ctx, submission.SubmitRequest{
		UserID:  "u1",
		Answers: []submission.Candidate{{QuestionID: "q1", Value: "Yes"}},
	})
	require.NoError(t, err)

	rows, err := st.GetAnswersForQuestion(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	first := rows[0]

	first.Correctness = domain.Correct
	require.NoError(t, st.UpdateAnswersCorrectness(ctx, []domain.Answer{first}))

	resp, err := s.Submit(ctx, submission.SubmitRequest{
		UserID:  "u1",
		Answers: []submission.Candidate{{QuestionID: "q1", Value: "No"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Accepted, 1)

	rows, err = st.GetAnswersForQuestion(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "a resubmission should overwrite, not insert")
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, "No", rows[0].Value)
	assert.Equal(t, domain.Pending, rows[0].Correctness)
}

func TestService_Submit_MixedBatch(t *testing.T) {
	st := seedStore()
	// q1 belongs to a match locked at this time, q3 to a later match.
	s := makeService(st, kickoff.Add(-30*time.Minute))

	resp, err := s.Submit(context.Background(), submission.SubmitRequest{
		UserID: "u1",
		Answers: []submission.Candidate{
			{QuestionID: "q1", Value: "Yes"},
			{QuestionID: "q3", Value: "Home"},
			{QuestionID: "unknown", Value: "Home"},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Accepted, 1)
	assert.Equal(t, "q3", resp.Accepted[0].QuestionID)
	require.Len(t, resp.Rejected, 1, "unknown questions should be dropped rather than rejected")
	assert.Equal(t, "q1", resp.Rejected[0].QuestionID)
	assert.Equal(t, "m1", resp.Rejected[0].MatchID)
	assert.Equal(t, "1 answer(s) saved, 1 locked", resp.Message)

	entries, err := st.ListAudit(context.Background(), domain.AuditFilter{})
	require.NoError(t, err)
	actions := map[domain.AuditAction]int{}
	for _, e := range entries {
		actions[e.Action]++
	}
	assert.Equal(t, map[domain.AuditAction]int{
		domain.AuditAnswerSubmitted:      1,
		domain.AuditAnswerRejectedLocked: 1,
	}, actions)
}

func TestService_Submit_LockedKeepsPriorAnswer(t *testing.T) {
	st := seedStore()
	ctx := context.Background()

	_, err := makeService(st, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)).Submit(ctx, submission.SubmitRequest{
		UserID:  "u1",
		Answers: []submission.Candidate{{QuestionID: "q1", Value: "Yes"}},
	})
	require.NoError(t, err)

	_, err = makeService(st, time.Date(2025, 2, 1, 14, 30, 0, 0, time.UTC)).Submit(ctx, submission.SubmitRequest{
		UserID:  "u1",
		Answers: []submission.Candidate{{QuestionID: "q1", Value: "No"}},
	})
	require.Error(t, err)

	e := errors.Convert(err)
	assert.Contains(t, e.Message, "Lions vs Tigers")
	assert.Contains(t, e.Message, "2025-02-01T15:00:00Z")

	rows, err := st.GetAnswersForQuestion(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Yes", rows[0].Value, "a locked submission should not touch the stored answer")

	rejections, err := st.ListAudit(ctx, domain.AuditFilter{Action: domain.AuditAnswerRejectedLocked})
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, "u1", rejections[0].PerformedBy)
	assert.Equal(t, "No", rejections[0].Details[domain.DetailAnswer])
}

func TestService_Submit_EmptyAndUnknownOnly(t *testing.T) {
	st := seedStore()
	s := makeService(st, kickoff.Add(-5*time.Hour))

	resp, err := s.Submit(context.Background(), submission.SubmitRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, resp.Accepted)

	resp, err = s.Submit(context.Background(), submission.SubmitRequest{
		UserID:  "u1",
		Answers: []submission.Candidate{{QuestionID: "nope", Value: "x"}},
	})
	require.NoError(t, err, "a batch of only unknown questions is not a locked batch")
	assert.Empty(t, resp.Accepted)
	assert.Empty(t, resp.Rejected)
}

func TestService_Submit_DuplicateQuestionLastWins(t *testing.T) {
	st := seedStore()
	s := makeService(st, kickoff.Add(-5*time.Hour))

	resp, err := s.Submit(context.Background(), submission.SubmitRequest{
		UserID: "u1",
		Answers: []submission.Candidate{
			{QuestionID: "q1", Value: "Yes"},
			{QuestionID: "q1", Value: "No"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Accepted, 1)
	assert.Equal(t, "No", resp.Accepted[0].Value)
}

func TestService_Submit_RequiresUser(t *testing.T) {
	s := makeService(seedStore(), kickoff)

	_, err := s.Submit(context.Background(), submission.SubmitRequest{})
	require.True(t, errors.Is(err, errors.CodeInvalidArgument))
}

func TestService_Submit_PublishesEvent(t *testing.T) {
	eb := event.NewBus()
	got := make(chan domain.EventAnswersSubmitted, 1)
	eb.Subscribe(domain.EventNameAnswersSubmitted, func(ctx context.Context, e event.Event) error {
		got <- e.(domain.EventAnswersSubmitted)
		return nil
	})

	s := submission.NewService(submission.Config{
		Store:    seedStore(),
		EventBus: eb,
		Now:      func() time.Time { return kickoff.Add(-5 * time.Hour) },
	})

	_, err := s.Submit(context.Background(), submission.SubmitRequest{
		UserID:  "u1",
		Answers: []submission.Candidate{{QuestionID: "q1", Value: "Yes"}},
	})
	require.NoError(t, err)
	eb.Wait()

	e := <-got
	assert.Equal(t, "u1", e.UserID)
	assert.Len(t, e.Answers, 1)
}

func TestService_Submit_InvalidatesLeaderboard(t *testing.T) {
	tests := map[string]struct {
		at        time.Time
		answers   []submission.Candidate
		wantCalls int32
	}{
		"accepted answers invalidate": {
			at:        kickoff.Add(-5 * time.Hour),
			answers:   []submission.Candidate{{QuestionID: "q1", Value: "Yes"}, {QuestionID: "q3", Value: "Home"}},
			wantCalls: 1,
		},
		"all locked leaves the cache alone": {
			at:      kickoff.Add(-30 * time.Minute),
			answers: []submission.Candidate{{QuestionID: "q1", Value: "Yes"}},
		},
		"unknown only leaves the cache alone": {
			at:      kickoff.Add(-5 * time.Hour),
			answers: []submission.Candidate{{QuestionID: "nope", Value: "Yes"}},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			lb := &countingInvalidator{}
			s := submission.NewService(submission.Config{
				Store:       seedStore(),
				Leaderboard: lb,
				Now:         func() time.Time { return tt.at },
			})

			_, _ = s.Submit(context.Background(), submission.SubmitRequest{UserID: "u1", Answers: tt.answers})
			assert.Equal(t, tt.wantCalls, lb.calls.Load())
		})
	}
}

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls.Add(1)
	return nil
}

func makeService(st *memory.Store, now time.Time) *submission.Service {
	return submission.NewService(submission.Config{
		Store: st,
		Now:   func() time.Time { return now },
	})
}

func seedStore() *memory.Store {
	st := memory.NewStore()
	st.PutRound(domain.Round{ID: "r1", RoundNumber: 1, Name: "Round 1", IsActive: true})
	st.PutMatch(domain.Match{ID: "m1", RoundID: "r1", MatchNumber: 1, HomeTeam: "Lions", AwayTeam: "Tigers", Kickoff: kickoff})
	st.PutMatch(domain.Match{ID: "m2", RoundID: "r1", MatchNumber: 2, HomeTeam: "Bears", AwayTeam: "Wolves", Kickoff: kickoff.Add(24 * time.Hour)})
	st.PutQuestion(domain.Question{ID: "q1", MatchID: "m1", QuestionNumber: 1, Type: domain.QuestionTypeYesNo, Points: 10})
	st.PutQuestion(domain.Question{ID: "q2", MatchID: "m1", QuestionNumber: 2, Type: domain.QuestionTypeYesNo, Points: 5})
	st.PutQuestion(domain.Question{ID: "q3", MatchID: "m2", QuestionNumber: 1, Type: domain.QuestionTypeMultipleChoice, Options: []string{"Home", "Away", "None of the above"}, Points: 5})
	return st
}
