package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/pickpool/internal/answer"
	"github.com/victornm/pickpool/internal/audit"
	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/leaderboard"
	"github.com/victornm/pickpool/internal/scoring"
	"github.com/victornm/pickpool/internal/stats"
	"github.com/victornm/pickpool/internal/submission"
	"github.com/victornm/pickpool/internal/tournament"
)

type SubmitAnswersRequest struct {
	Answers []struct {
		QuestionID string `json:"questionId" binding:"required"`
		Answer     string `json:"answer"`
	} `json:"answers" binding:"required,dive"`
}

type SubmitAnswersResponse struct {
	Accepted []SubmittedAnswer      `json:"accepted"`
	Locked   []submission.Rejection `json:"locked"`
	Message  string                 `json:"message"`
}

// SubmitAnswers responds with the plain accepted list unless part of the batch was locked.
func (a *API) SubmitAnswers(c *gin.Context) {
	var req SubmitAnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidArgument(err))
		return
	}

	sr := submission.SubmitRequest{
		UserID:  userID(c),
		Answers: make([]submission.Candidate, 0, len(req.Answers)),
	}
	for _, ans := range req.Answers {
		sr.Answers = append(sr.Answers, submission.Candidate{QuestionID: ans.QuestionID, Value: ans.Answer})
	}

	resp, err := a.submission.Submit(c.Request.Context(), sr)
	if err != nil {
		writeError(c, err)
		return
	}

	accepted := make([]SubmittedAnswer, 0, len(resp.Accepted))
	for _, ans := range resp.Accepted {
		accepted = append(accepted, newSubmittedAnswer(ans))
	}

	if len(resp.Rejected) == 0 {
		c.JSON(http.StatusOK, accepted)
		return
	}

	c.JSON(http.StatusOK, SubmitAnswersResponse{
		Accepted: accepted,
		Locked:   resp.Rejected,
		Message:  resp.Message,
	})
}

func (a *API) ListMyAnswers(c *gin.Context) {
	rows, err := a.answers.ListMine(c.Request.Context(), answer.ListMineRequest{
		UserID:  userID(c),
		RoundID: c.Query("roundId"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAnswerRows(rows))
}

func (a *API) ListUserAnswers(c *gin.Context) {
	rows, err := a.answers.ListForUser(c.Request.Context(), answer.ListForUserRequest{
		TargetUserID:     c.Param("userId"),
		RequestingUserID: userID(c),
		RoundID:          c.Query("roundId"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAnswerRows(rows))
}

type SetCorrectAnswerRequest struct {
	Value string `json:"value" binding:"required"`
}

func (a *API) SetCorrectAnswer(c *gin.Context) {
	var req SetCorrectAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidArgument(err))
		return
	}

	q, err := a.scoring.SetCorrectAnswer(c.Request.Context(), scoring.SetCorrectAnswerRequest{
		QuestionID: c.Param("questionId"),
		Value:      req.Value,
		ActorID:    userID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newQuestion(*q))
}

func (a *API) ClearCorrectAnswer(c *gin.Context) {
	q, err := a.scoring.ClearCorrectAnswer(c.Request.Context(), scoring.ClearCorrectAnswerRequest{
		QuestionID: c.Param("questionId"),
		ActorID:    userID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newQuestion(*q))
}

// GetLeaderboard reads the round from ?roundId and all-time standings from ?scope=total.
func (a *API) GetLeaderboard(c *gin.Context) {
	scope := domain.Scope{RoundID: c.Query("roundId")}
	switch s := c.Query("scope"); s {
	case "":
	case "total":
		scope.All = true
	default:
		writeError(c, invalidArgument(fmt.Errorf("unknown scope %q", s)))
		return
	}

	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{Scope: scope})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (a *API) GetSquadStats(c *gin.Context) {
	st, err := a.stats.GetSquadStats(c.Request.Context(), stats.GetSquadStatsRequest{SquadID: c.Param("squadId")})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (a *API) GetPersonalStats(c *gin.Context) {
	st, err := a.stats.GetPersonalStats(c.Request.Context(), stats.GetPersonalStatsRequest{
		UserID:  c.Param("userId"),
		SquadID: c.Param("squadId"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (a *API) CompareMembers(c *gin.Context) {
	m1, m2 := c.Query("member1"), c.Query("member2")
	if m1 == "" || m2 == "" {
		writeError(c, invalidArgument(fmt.Errorf("member1 and member2 are required")))
		return
	}

	cmp, err := a.stats.CompareMembers(c.Request.Context(), stats.CompareMembersRequest{
		Member1ID: m1,
		Member2ID: m2,
		SquadID:   c.Param("squadId"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, cmp)
}

func (a *API) ActivateRound(c *gin.Context) {
	r, err := a.tournament.ActivateRound(c.Request.Context(), tournament.ActivateRoundRequest{
		RoundID: c.Param("roundId"),
		ActorID: userID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newRound(*r))
}

type UpdateMatchScoreRequest struct {
	HomeScore *int `json:"homeScore"`
	AwayScore *int `json:"awayScore"`
	Completed bool `json:"completed"`
}

func (a *API) UpdateMatchScore(c *gin.Context) {
	var req UpdateMatchScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidArgument(err))
		return
	}

	m, err := a.tournament.UpdateMatchScore(c.Request.Context(), tournament.UpdateMatchScoreRequest{
		MatchID:   c.Param("matchId"),
		HomeScore: req.HomeScore,
		AwayScore: req.AwayScore,
		Completed: req.Completed,
		ActorID:   userID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newMatch(*m))
}

func (a *API) ListAudit(c *gin.Context) {
	var limit int
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(c, invalidArgument(fmt.Errorf("limit must be a non-negative integer")))
			return
		}
		limit = n
	}

	entries, err := a.audit.List(c.Request.Context(), audit.ListRequest{
		Action:      domain.AuditAction(c.Query("action")),
		PerformedBy: c.Query("performedBy"),
		Limit:       limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

func (a *API) SuspiciousActivity(c *gin.Context) {
	r, err := a.audit.SuspiciousActivity(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, r)
}
