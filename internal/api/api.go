package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/pickpool/internal/answer"
	"github.com/victornm/pickpool/internal/audit"
	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
	"github.com/victornm/pickpool/internal/event"
	"github.com/victornm/pickpool/internal/leaderboard"
	"github.com/victornm/pickpool/internal/scoring"
	"github.com/victornm/pickpool/internal/stats"
	"github.com/victornm/pickpool/internal/submission"
	"github.com/victornm/pickpool/internal/tournament"
)

type Config struct {
	Router      gin.IRouter
	EventBus    *event.Bus
	Submission  *submission.Service
	Scoring     *scoring.Service
	Answers     *answer.Service
	Leaderboard *leaderboard.Service
	Stats       *stats.Service
	Audit       *audit.Service
	Tournament  *tournament.Service

	// Redis receives per-user notifications. Notifications are disabled when nil.
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	submission  *submission.Service
	scoring     *scoring.Service
	answers     *answer.Service
	leaderboard *leaderboard.Service
	stats       *stats.Service
	audit       *audit.Service
	tournament  *tournament.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		submission:  c.Submission,
		scoring:     c.Scoring,
		answers:     c.Answers,
		leaderboard: c.Leaderboard,
		stats:       c.Stats,
		audit:       c.Audit,
		tournament:  c.Tournament,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	v1 := c.Router.Group("/v1", requireUser())

	v1.POST("/answers", a.SubmitAnswers)
	v1.GET("/answers/me", a.ListMyAnswers)
	v1.GET("/users/:userId/answers", a.ListUserAnswers)

	v1.GET("/leaderboard", a.GetLeaderboard)

	v1.GET("/squads/:squadId/stats", a.GetSquadStats)
	v1.GET("/squads/:squadId/members/:userId/stats", a.GetPersonalStats)
	v1.GET("/squads/:squadId/compare", a.CompareMembers)

	admin := v1.Group("/admin")
	admin.PUT("/questions/:questionId/correct-answer", a.SetCorrectAnswer)
	admin.DELETE("/questions/:questionId/correct-answer", a.ClearCorrectAnswer)
	admin.POST("/rounds/:roundId/activate", a.ActivateRound)
	admin.PUT("/matches/:matchId/score", a.UpdateMatchScore)
	admin.GET("/audit", a.ListAudit)
	admin.GET("/audit/suspicious", a.SuspiciousActivity)

	if c.EventBus != nil && a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
		c.EventBus.Subscribe(domain.EventNameQuestionScored, func(ctx context.Context, e event.Event) error {
			return a.PublishQuestionScored(ctx, e.(domain.EventQuestionScored))
		})
	}

	return a
}

const userIDHeader = "X-User-ID"

const keyUserID = "userId"

// requireUser takes the caller's identity from the header set by the upstream auth proxy.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(userIDHeader)
		if id == "" {
			writeError(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("%s header required", userIDHeader)))
			return
		}

		c.Set(keyUserID, id)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(keyUserID)
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func invalidArgument(err error) error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err), errors.WithCause(err))
}
