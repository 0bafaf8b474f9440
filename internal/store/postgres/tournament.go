package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
)

const selectRound = `SELECT id, round_number, name, starts_at, ends_at, is_active FROM rounds`

func scanRound(row pgx.Row) (domain.Round, error) {
	var r domain.Round
	err := row.Scan(&r.ID, &r.RoundNumber, &r.Name, &r.StartsAt, &r.EndsAt, &r.IsActive)
	return r, err
}

func (s *Store) GetRound(ctx context.Context, id string) (domain.Round, error) {
	r, err := scanRound(s.conn(ctx).QueryRow(ctx, selectRound+` WHERE id = $1;`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Round{}, errors.NotFound("round not found: id=%s", id)
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("get round: %w", err)
	}

	return r, nil
}

func (s *Store) ActiveRound(ctx context.Context) (domain.Round, error) {
	r, err := scanRound(s.conn(ctx).QueryRow(ctx, selectRound+` WHERE is_active ORDER BY round_number LIMIT 1;`))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Round{}, errors.NotFound("no active round")
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("get active round: %w", err)
	}

	return r, nil
}

func (s *Store) DeactivateRounds(ctx context.Context) error {
	if _, err := s.conn(ctx).Exec(ctx, `UPDATE rounds SET is_active = FALSE WHERE is_active;`); err != nil {
		return fmt.Errorf("deactivate rounds: %w", err)
	}

	return nil
}

func (s *Store) SetRoundActive(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `UPDATE rounds SET is_active = TRUE WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("activate round: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errors.NotFound("round not found: id=%s", id)
	}

	return nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (domain.Match, error) {
	const stmt = `
SELECT id, round_id, match_number, home_team, away_team, kickoff_at, venue, home_score, away_score, completed
FROM matches
WHERE id = $1;`

	var m domain.Match
	err := s.conn(ctx).QueryRow(ctx, stmt, id).Scan(
		&m.ID, &m.RoundID, &m.MatchNumber, &m.HomeTeam, &m.AwayTeam, &m.Kickoff, &m.Venue, &m.HomeScore, &m.AwayScore, &m.Completed,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Match{}, errors.NotFound("match not found: id=%s", id)
	}
	if err != nil {
		return domain.Match{}, fmt.Errorf("get match: %w", err)
	}

	return m, nil
}

func (s *Store) UpdateMatchScore(ctx context.Context, m domain.Match) error {
	const stmt = `UPDATE matches SET home_score = $2, away_score = $3, completed = $4 WHERE id = $1;`

	tag, err := s.conn(ctx).Exec(ctx, stmt, m.ID, m.HomeScore, m.AwayScore, m.Completed)
	if err != nil {
		return fmt.Errorf("update match score: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errors.NotFound("match not found: id=%s", m.ID)
	}

	return nil
}
