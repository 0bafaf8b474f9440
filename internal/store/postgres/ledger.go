package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/pickpool/internal/domain"
	"github.com/victornm/pickpool/internal/errors"
)

func (s *Store) GetQuestionSchedules(ctx context.Context, ids []string) (map[string]domain.QuestionSchedule, error) {
	const stmt = `
SELECT q.id, m.id, m.round_id, m.home_team, m.away_team, m.kickoff_at
FROM questions q
JOIN matches m ON m.id = q.match_id
WHERE q.id = ANY($1);`

	rows, err := s.conn(ctx).Query(ctx, stmt, ids)
	if err != nil {
		return nil, fmt.Errorf("query question schedules: %w", err)
	}

	schedules, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.QuestionSchedule, error) {
		var qs domain.QuestionSchedule
		err := r.Scan(&qs.QuestionID, &qs.MatchID, &qs.RoundID, &qs.HomeTeam, &qs.AwayTeam, &qs.Kickoff)
		return qs, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan question schedules: %w", err)
	}

	res := make(map[string]domain.QuestionSchedule, len(schedules))
	for _, qs := range schedules {
		res[qs.QuestionID] = qs
	}

	return res, nil
}

// GetQuestion reads a question. Inside a transaction the row stays locked until commit,
// so concurrent rescoring of the same question is serialized.
func (s *Store) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	const stmt = `
SELECT id, match_id, question_number, question_text, question_type, options, points, correct_answer
FROM questions
WHERE id = $1`

	query := stmt
	if s.inTx(ctx) {
		query += " FOR UPDATE"
	}

	q, err := scanQuestion(s.conn(ctx).QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, errors.NotFound("question not found: id=%s", id)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question: %w", err)
	}

	return q, nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q     domain.Question
		qtype string
	)
	if err := row.Scan(&q.ID, &q.MatchID, &q.QuestionNumber, &q.Text, &qtype, &q.Options, &q.Points, &q.CorrectAnswer); err != nil {
		return domain.Question{}, err
	}
	q.Type = domain.QuestionType(qtype)

	return q, nil
}

func (s *Store) UpdateQuestionCorrectAnswer(ctx context.Context, id string, value *string) error {
	const stmt = `UPDATE questions SET correct_answer = $2 WHERE id = $1;`

	tag, err := s.conn(ctx).Exec(ctx, stmt, id, value)
	if err != nil {
		return fmt.Errorf("update correct answer: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errors.NotFound("question not found: id=%s", id)
	}

	return nil
}

// UpsertAnswers writes answers keyed on (question_id, user_id). An overwrite keeps the
// row id and resets correctness to NULL.
func (s *Store) UpsertAnswers(ctx context.Context, answers []domain.Answer) (_ []domain.Answer, err error) {
	const stmt = `
INSERT INTO answers (id, question_id, user_id, answer_value, is_correct, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULL, $5, $5)
ON CONFLICT (question_id, user_id) DO UPDATE
SET answer_value = EXCLUDED.answer_value, is_correct = NULL, updated_at = EXCLUDED.updated_at
RETURNING id, question_id, user_id, answer_value, is_correct, created_at, updated_at;`

	if len(answers) == 0 {
		return nil, nil
	}

	b := &pgx.Batch{}
	for _, a := range answers {
		b.Queue(stmt, a.ID, a.QuestionID, a.UserID, a.Value, a.UpdatedAt)
	}

	br := s.conn(ctx).SendBatch(ctx, b)
	defer func() {
		if cerr := br.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close batch: %w", cerr)
		}
	}()

	res := make([]domain.Answer, 0, len(answers))
	for range answers {
		a, err := scanAnswer(br.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("upsert answer: %w", err)
		}
		res = append(res, a)
	}

	return res, nil
}

func scanAnswer(row pgx.Row) (domain.Answer, error) {
	var (
		a       domain.Answer
		correct *bool
	)
	if err := row.Scan(&a.ID, &a.QuestionID, &a.UserID, &a.Value, &correct, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Answer{}, err
	}
	a.Correctness = domain.CorrectnessFromBool(correct)

	return a, nil
}

// GetAnswersForQuestion locks the returned rows when called inside a transaction.
func (s *Store) GetAnswersForQuestion(ctx context.Context, questionID string) ([]domain.Answer, error) {
	const stmt = `
SELECT id, question_id, user_id, answer_value, is_correct, created_at, updated_at
FROM answers
WHERE question_id = $1
ORDER BY id
FOR UPDATE;`

	rows, err := s.conn(ctx).Query(ctx, stmt, questionID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}

	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		return scanAnswer(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan answers: %w", err)
	}

	return answers, nil
}

func (s *Store) UpdateAnswersCorrectness(ctx context.Context, answers []domain.Answer) error {
	const stmt = `
UPDATE answers AS a
SET is_correct = v.is_correct
FROM unnest($1::text[], $2::boolean[]) AS v(id, is_correct)
WHERE a.id = v.id;`

	if len(answers) == 0 {
		return nil
	}

	ids := make([]string, 0, len(answers))
	values := make([]*bool, 0, len(answers))
	for _, a := range answers {
		ids = append(ids, a.ID)
		values = append(values, a.Correctness.Bool())
	}

	tag, err := s.conn(ctx).Exec(ctx, stmt, ids, values)
	if err != nil {
		return fmt.Errorf("update correctness: %w", err)
	}

	if int(tag.RowsAffected()) != len(answers) {
		return fmt.Errorf("update correctness: updated %d of %d answers", tag.RowsAffected(), len(answers))
	}

	return nil
}

// ListAnswerRows returns answers joined with question, match and round,
// ordered by round, match and question number.
func (s *Store) ListAnswerRows(ctx context.Context, f domain.AnswerFilter) ([]domain.AnswerRow, error) {
	const stmt = `
SELECT a.id, a.question_id, a.user_id, a.answer_value, a.is_correct, a.created_at, a.updated_at,
       q.match_id, q.question_number, q.question_text, q.question_type, q.options, q.points, q.correct_answer,
       m.round_id, m.match_number, m.home_team, m.away_team, m.kickoff_at, m.venue, m.home_score, m.away_score, m.completed,
       r.round_number, r.name, r.starts_at, r.ends_at, r.is_active
FROM answers a
JOIN questions q ON q.id = a.question_id
JOIN matches m ON m.id = q.match_id
JOIN rounds r ON r.id = m.round_id
WHERE ($1::text = '' OR m.round_id = $1)
  AND ($2::text[] IS NULL OR a.user_id = ANY($2))
ORDER BY r.round_number, m.match_number, q.question_number, a.user_id;`

	var users []string
	if len(f.UserIDs) > 0 {
		users = f.UserIDs
	}

	rows, err := s.conn(ctx).Query(ctx, stmt, f.RoundID, users)
	if err != nil {
		return nil, fmt.Errorf("query answer rows: %w", err)
	}

	res, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.AnswerRow, error) {
		var (
			row     domain.AnswerRow
			correct *bool
			qtype   string
		)
		err := r.Scan(
			&row.Answer.ID, &row.Answer.QuestionID, &row.Answer.UserID, &row.Answer.Value, &correct, &row.Answer.CreatedAt, &row.Answer.UpdatedAt,
			&row.Question.MatchID, &row.Question.QuestionNumber, &row.Question.Text, &qtype, &row.Question.Options, &row.Question.Points, &row.Question.CorrectAnswer,
			&row.Match.RoundID, &row.Match.MatchNumber, &row.Match.HomeTeam, &row.Match.AwayTeam, &row.Match.Kickoff, &row.Match.Venue, &row.Match.HomeScore, &row.Match.AwayScore, &row.Match.Completed,
			&row.Round.RoundNumber, &row.Round.Name, &row.Round.StartsAt, &row.Round.EndsAt, &row.Round.IsActive,
		)
		if err != nil {
			return domain.AnswerRow{}, err
		}

		row.Answer.Correctness = domain.CorrectnessFromBool(correct)
		row.Question.ID = row.Answer.QuestionID
		row.Question.Type = domain.QuestionType(qtype)
		row.Match.ID = row.Question.MatchID
		row.Round.ID = row.Match.RoundID
		return row, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan answer rows: %w", err)
	}

	return res, nil
}
