package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/pickpool/internal/answer"
	"github.com/victornm/pickpool/internal/api"
	"github.com/victornm/pickpool/internal/audit"
	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/event"
	"github.com/victornm/pickpool/internal/leaderboard"
	"github.com/victornm/pickpool/internal/scoring"
	"github.com/victornm/pickpool/internal/stats"
	"github.com/victornm/pickpool/internal/store/memory"
	"github.com/victornm/pickpool/internal/submission"
	"github.com/victornm/pickpool/internal/tournament"
)

var kickoff = time.Date(2025, 2, 1, 15, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestAPI_RequiresUser(t *testing.T) {
	h := makeHarness(t)

	w := h.do(t, "", http.MethodGet, "/v1/answers/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"code":16,"message":"X-User-ID header required"}`, w.Body.String())
}

func TestAPI_EndToEnd(t *testing.T) {
	h := makeHarness(t)

	h.clock.set(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	w := h.do(t, "u1", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "answer": "Yes"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var accepted []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted), "nothing locked should return a plain list")
	require.Len(t, accepted, 1)
	assert.Equal(t, "q1", accepted[0]["questionId"])
	assert.Nil(t, accepted[0]["isCorrect"])

	w = h.do(t, "admin", http.MethodPut, "/v1/admin/questions/q1/correct-answer", map[string]any{"value": "Yes"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Yes", decode(t, w)["correctAnswer"])

	w = h.do(t, "u1", http.MethodGet, "/v1/leaderboard?roundId=r1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"roundId": "r1",
		"entries": [{
			"user": {"id": "u1", "displayName": "Alice"},
			"totalPoints": 10,
			"correctAnswers": 1,
			"incorrectAnswers": 0,
			"totalAnswers": 1,
			"rank": 1
		}]
	}`, w.Body.String())

	w = h.do(t, "u1", http.MethodGet, "/v1/answers/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["isCorrect"])
	assert.Equal(t, "Yes", rows[0]["answer"])
}

func TestAPI_LeaderboardEnvelope(t *testing.T) {
	h := makeHarness(t)

	tests := map[string]struct {
		path string
		want string
	}{
		"default scope names the active round": {path: "/v1/leaderboard", want: `{"roundId":"r1","entries":[]}`},
		"explicit round":                       {path: "/v1/leaderboard?roundId=r1", want: `{"roundId":"r1","entries":[]}`},
		"all-time omits the round":             {path: "/v1/leaderboard?scope=total", want: `{"entries":[]}`},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			w := h.do(t, "u1", http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestAPI_LeaderboardReadAfterWrite(t *testing.T) {
	h := makeHarness(t)

	points := func(t *testing.T) map[string]float64 {
		t.Helper()

		w := h.do(t, "u1", http.MethodGet, "/v1/leaderboard?roundId=r1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var l struct {
			Entries []struct {
				User        struct{ ID string } `json:"user"`
				TotalPoints float64             `json:"totalPoints"`
			} `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &l))

		res := make(map[string]float64, len(l.Entries))
		for _, e := range l.Entries {
			res[e.User.ID] = e.TotalPoints
		}
		return res
	}

	w := h.do(t, "u1", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "answer": "Yes"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]float64{"u1": 0}, points(t), "warm the cache")

	w = h.do(t, "u2", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "answer": "No"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]float64{"u1": 0, "u2": 0}, points(t), "a new submission should be visible immediately")

	for i := 0; i < 10; i++ {
		value := []string{"Yes", "No"}[i%2]
		w = h.do(t, "admin", http.MethodPut, "/v1/admin/questions/q1/correct-answer", map[string]any{"value": value})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		want := map[string]float64{"u1": 10, "u2": 0}
		if value == "No" {
			want = map[string]float64{"u1": 0, "u2": 10}
		}
		assert.Equal(t, want, points(t), "standings after setting %q", value)
	}

	w = h.do(t, "admin", http.MethodDelete, "/v1/admin/questions/q1/correct-answer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]float64{"u1": 0, "u2": 0}, points(t), "standings after clearing")
}

func TestAPI_SubmitLocked(t *testing.T) {
	h := makeHarness(t)

	h.clock.set(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	w := h.do(t, "u1", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "answer": "Yes"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	h.clock.set(time.Date(2025, 2, 1, 14, 30, 0, 0, time.UTC))
	w = h.do(t, "u1", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "answer": "No"}},
	})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Contains(t, body["message"], "Lions vs Tigers (kickoff 2025-02-01T15:00:00Z)")
	locked := body["details"].(map[string]any)["locked"].([]any)
	require.Len(t, locked, 1)
	assert.Equal(t, "q1", locked[0].(map[string]any)["questionId"])

	w = h.do(t, "u1", http.MethodGet, "/v1/answers/me", nil)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Yes", rows[0]["answer"], "locked submission should not touch the prior answer")

	w = h.do(t, "admin", http.MethodGet, "/v1/admin/audit?action=answer_rejected_locked", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0]["actor"].(map[string]any)["displayName"])
}

func TestAPI_SubmitMixed(t *testing.T) {
	h := makeHarness(t)
	h.clock.set(time.Date(2025, 2, 1, 14, 30, 0, 0, time.UTC))

	w := h.do(t, "u1", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{
			{"questionId": "q1", "answer": "Yes"},
			{"questionId": "q2", "answer": "Bears"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Len(t, body["accepted"], 1)
	assert.Len(t, body["locked"], 1)
	assert.Equal(t, "1 answer(s) saved, 1 locked", body["message"])
}

func TestAPI_ListUserAnswers_Redacted(t *testing.T) {
	h := makeHarness(t)
	h.clock.set(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	w := h.do(t, "u1", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "answer": "Yes"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	tests := map[string]struct {
		requester string
		now       time.Time
		redacted  bool
	}{
		"other user before kickoff": {requester: "u2", now: kickoff.Add(-time.Second), redacted: true},
		"author before kickoff":     {requester: "u1", now: kickoff.Add(-time.Second)},
		"other user at kickoff":     {requester: "u2", now: kickoff},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h.clock.set(tt.now)

			w := h.do(t, tt.requester, http.MethodGet, "/v1/users/u1/answers", nil)
			require.Equal(t, http.StatusOK, w.Code)

			var rows []map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
			require.Len(t, rows, 1)
			assert.Equal(t, tt.redacted, rows[0]["redacted"])
			if tt.redacted {
				assert.Nil(t, rows[0]["answer"])
				assert.Nil(t, rows[0]["isCorrect"])
				return
			}
			assert.Equal(t, "Yes", rows[0]["answer"])
		})
	}
}

func TestAPI_Errors(t *testing.T) {
	tests := map[string]struct {
		method string
		path   string
		body   any
		status int
	}{
		"unknown scope": {
			method: http.MethodGet,
			path:   "/v1/leaderboard?scope=weekly",
			status: http.StatusBadRequest,
		},
		"not a squad member": {
			method: http.MethodGet,
			path:   "/v1/squads/s1/members/u9/stats",
			status: http.StatusForbidden,
		},
		"compare without members": {
			method: http.MethodGet,
			path:   "/v1/squads/s1/compare?member1=u1",
			status: http.StatusBadRequest,
		},
		"unknown question": {
			method: http.MethodPut,
			path:   "/v1/admin/questions/q9/correct-answer",
			body:   map[string]any{"value": "Yes"},
			status: http.StatusNotFound,
		},
		"missing correct answer": {
			method: http.MethodPut,
			path:   "/v1/admin/questions/q1/correct-answer",
			body:   map[string]any{},
			status: http.StatusBadRequest,
		},
		"bad audit limit": {
			method: http.MethodGet,
			path:   "/v1/admin/audit?limit=ten",
			status: http.StatusBadRequest,
		},
		"unknown round": {
			method: http.MethodPost,
			path:   "/v1/admin/rounds/r9/activate",
			status: http.StatusNotFound,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := makeHarness(t)
			w := h.do(t, "u1", tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestAPI_Stats(t *testing.T) {
	h := makeHarness(t)
	h.clock.set(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	for _, u := range []string{"u1", "u2"} {
		w := h.do(t, u, http.MethodPost, "/v1/answers", map[string]any{
			"answers": []map[string]any{{"questionId": "q1", "answer": "Yes"}},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := h.do(t, "u2", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q2", "answer": "Lions"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, "admin", http.MethodPut, "/v1/admin/questions/q1/correct-answer", map[string]any{"value": "Yes"})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, "admin", http.MethodPut, "/v1/admin/questions/q2/correct-answer", map[string]any{"value": "Wolves"})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, "u1", http.MethodGet, "/v1/squads/s1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	squad := decode(t, w)
	assert.EqualValues(t, 2, squad["memberCount"])
	assert.EqualValues(t, 67, squad["accuracy"])
	assert.Equal(t, "u1", squad["leader"].(map[string]any)["user"].(map[string]any)["id"])

	w = h.do(t, "u1", http.MethodGet, "/v1/squads/s1/compare?member1=u1&member2=u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cmp := decode(t, w)
	assert.EqualValues(t, 0, cmp["member1Wins"])
	assert.EqualValues(t, 1, cmp["ties"])
}

func TestAPI_Notifications(t *testing.T) {
	h := makeHarness(t)
	ctx := context.Background()
	h.clock.set(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	sub := h.pubsub.Subscribe(ctx, "test:user:u1")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "should confirm the subscription")

	w := h.do(t, "u1", http.MethodPost, "/v1/answers", map[string]any{
		"answers": []map[string]any{{"questionId": "q1", "answer": "Yes"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, "admin", http.MethodPut, "/v1/admin/questions/q1/correct-answer", map[string]any{"value": "Yes"})
	require.Equal(t, http.StatusOK, w.Code)
	h.eb.Wait()

	got := make(map[string]api.Notification)
	for i := 0; i < 2; i++ {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		msg, err := sub.ReceiveMessage(rctx)
		cancel()
		require.NoError(t, err)

		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		got[n.Event] = n
	}

	require.Contains(t, got, domain.EventNameQuestionScored)
	require.Contains(t, got, domain.EventNameLeaderboardUpdated)
	scored := got[domain.EventNameQuestionScored].Data.(map[string]any)
	assert.Equal(t, true, scored["isCorrect"])
	assert.Equal(t, "Yes", scored["correctAnswer"])
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type harness struct {
	router *gin.Engine
	eb     *event.Bus
	clock  *clock
	pubsub redis.UniversalClient
}

func makeHarness(t *testing.T) *harness {
	t.Helper()

	st := memory.NewStore()
	st.PutUser(domain.User{ID: "u1", DisplayName: "Alice"})
	st.PutUser(domain.User{ID: "u2", DisplayName: "Bob"})
	st.PutUser(domain.User{ID: "admin", DisplayName: "Admin"})
	st.AddSquadMember("s1", "u1")
	st.AddSquadMember("s1", "u2")
	st.PutRound(domain.Round{ID: "r1", RoundNumber: 1, Name: "Round 1", IsActive: true})
	st.PutMatch(domain.Match{ID: "m1", RoundID: "r1", MatchNumber: 1, HomeTeam: "Lions", AwayTeam: "Tigers", Kickoff: kickoff})
	st.PutMatch(domain.Match{ID: "m2", RoundID: "r1", MatchNumber: 2, HomeTeam: "Bears", AwayTeam: "Wolves", Kickoff: kickoff.Add(24 * time.Hour)})
	st.PutQuestion(domain.Question{ID: "q1", MatchID: "m1", QuestionNumber: 1, Type: domain.QuestionTypeYesNo, Points: 10})
	st.PutQuestion(domain.Question{ID: "q2", MatchID: "m2", QuestionNumber: 1, Type: domain.QuestionTypeMultipleChoice, Options: []string{"Bears", "Wolves"}, Points: 5})

	rs := miniredis.RunT(t)
	cache := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	pubsub := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() {
		_ = cache.Close()
		_ = pubsub.Close()
	})

	h := &harness{
		router: gin.New(),
		eb:     event.NewBus(),
		clock:  &clock{t: kickoff.Add(-24 * time.Hour)},
		pubsub: pubsub,
	}
	t.Cleanup(h.eb.Wait)

	lb := leaderboard.NewService(leaderboard.Config{EventBus: h.eb, Store: st, Redis: cache, Prefix: "test"})

	api.New(api.Config{
		Router:      h.router,
		EventBus:    h.eb,
		Submission:  submission.NewService(submission.Config{Store: st, EventBus: h.eb, Leaderboard: lb, Now: h.clock.now}),
		Scoring:     scoring.NewService(scoring.Config{Store: st, EventBus: h.eb, Leaderboard: lb, Now: h.clock.now}),
		Answers:     answer.NewService(answer.Config{Store: st, Now: h.clock.now}),
		Leaderboard: lb,
		Stats:       stats.NewService(stats.Config{Store: st}),
		Audit:       audit.NewService(audit.Config{Store: st}),
		Tournament:  tournament.NewService(tournament.Config{Store: st, EventBus: h.eb, Leaderboard: lb, Now: h.clock.now}),

		Redis:        pubsub,
		PubsubPrefix: "test",
	})

	return h
}

func (h *harness) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}
