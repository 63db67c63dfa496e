package offline

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/question"
)

type (
	evaluationRow struct {
		ID            string         `db:"id"`
		CourseCode    string         `db:"course_code"`
		Type          string         `db:"type"`
		PublishedDate core.Date      `db:"published_date"`
		StartTime     core.ClockTime `db:"start_time"`
		EndTime       core.ClockTime `db:"end_time"`
		Status        string         `db:"status"`
		SavedAt       int64          `db:"saved_at"`
	}

	questionRow struct {
		ID           string  `db:"id"`
		EvaluationID string  `db:"evaluation_id"`
		Text         string  `db:"text"`
		Kind         string  `db:"kind"`
		Position     int     `db:"position"`
		Points       float64 `db:"points"`
	}

	choiceRow struct {
		ID           string    `db:"id"`
		EvaluationID string    `db:"evaluation_id"`
		QuestionID   string    `db:"question_id"`
		Text         string    `db:"text"`
		Position     int       `db:"position"`
		IsCorrect    null.Bool `db:"is_correct"`
	}
)

func (s *Store) SaveEvaluations(ctx context.Context, papers []question.Paper) error {
	now := millis(s.clock.Now())
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, p := range papers {
			if err := saveEvaluation(ctx, tx, p, now); err != nil {
				return errors.Wrapf(err, "saving evaluation %s", p.ID)
			}
		}
		return nil
	})
}

// saveEvaluation replaces the snapshot of p; questions and choices go with their evaluation.
func saveEvaluation(ctx context.Context, tx *sqlx.Tx, p question.Paper, now int64) error {
	const upsert = `
	INSERT INTO evaluations (id, course_code, type, published_date, start_time, end_time, status, saved_at)
	VALUES (:id, :course_code, :type, :published_date, :start_time, :end_time, :status, :saved_at)
	ON CONFLICT (id) DO UPDATE SET
		course_code = excluded.course_code, type = excluded.type, published_date = excluded.published_date,
		start_time = excluded.start_time, end_time = excluded.end_time, status = excluded.status,
		saved_at = excluded.saved_at`

	row := evaluationRow{
		ID:            p.ID,
		CourseCode:    p.CourseCode,
		Type:          p.Type,
		PublishedDate: p.PublishedDate,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		Status:        string(p.Status),
		SavedAt:       now,
	}
	if _, err := tx.NamedExecContext(ctx, upsert, row); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE evaluation_id = ?`, p.ID); err != nil {
		return err
	}

	const (
		insertQuestion = `
		INSERT INTO questions (id, evaluation_id, text, kind, position, points)
		VALUES (:id, :evaluation_id, :text, :kind, :position, :points)`
		insertChoice = `
		INSERT INTO choices (id, evaluation_id, question_id, text, position, is_correct)
		VALUES (:id, :evaluation_id, :question_id, :text, :position, :is_correct)`
	)
	for _, q := range p.Questions {
		qr := questionRow{
			ID:           q.ID,
			EvaluationID: p.ID,
			Text:         q.Text,
			Kind:         string(q.Kind),
			Position:     q.Position,
			Points:       q.Points,
		}
		if _, err := tx.NamedExecContext(ctx, insertQuestion, qr); err != nil {
			return errors.Wrapf(err, "saving question %s", q.ID)
		}
		for _, c := range q.Choices {
			cr := choiceRow{
				ID:           c.ID,
				EvaluationID: p.ID,
				QuestionID:   q.ID,
				Text:         c.Text,
				Position:     c.Position,
				IsCorrect:    null.BoolFromPtr(c.IsCorrect),
			}
			if _, err := tx.NamedExecContext(ctx, insertChoice, cr); err != nil {
				return errors.Wrapf(err, "saving choice %s", c.ID)
			}
		}
	}
	return nil
}

func (s *Store) GetEvaluation(ctx context.Context, id string) (question.Paper, error) {
	var row evaluationRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM evaluations WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return question.Paper{}, ErrNotFound
		}
		return question.Paper{}, errors.Wrap(err, "selecting evaluation")
	}
	papers, err := s.papers(ctx, []evaluationRow{row})
	if err != nil {
		return question.Paper{}, err
	}
	return papers[0], nil
}

func (s *Store) ListEvaluations(ctx context.Context) ([]question.Paper, error) {
	var rows []evaluationRow
	const q = `SELECT * FROM evaluations ORDER BY published_date DESC, start_time DESC, course_code`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting evaluations")
	}
	return s.papers(ctx, rows)
}

func (s *Store) papers(ctx context.Context, rows []evaluationRow) ([]question.Paper, error) {
	papers := make([]question.Paper, 0, len(rows))
	if len(rows) == 0 {
		return papers, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	var qrows []questionRow
	query, args, err := sqlx.In(`SELECT * FROM questions WHERE evaluation_id IN (?) ORDER BY position, id`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "building question query")
	}
	if err = s.db.SelectContext(ctx, &qrows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting questions")
	}

	var crows []choiceRow
	query, args, err = sqlx.In(`SELECT * FROM choices WHERE evaluation_id IN (?) ORDER BY position, id`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "building choice query")
	}
	if err = s.db.SelectContext(ctx, &crows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting choices")
	}

	type key struct{ evaluationID, questionID string }
	choices := make(map[key][]question.StudentChoice)
	for _, c := range crows {
		k := key{c.EvaluationID, c.QuestionID}
		choices[k] = append(choices[k], question.StudentChoice{
			ID:        c.ID,
			Text:      c.Text,
			Position:  c.Position,
			IsCorrect: c.IsCorrect.Ptr(),
		})
	}
	questions := make(map[string][]question.StudentQuestion)
	for _, q := range qrows {
		cs := choices[key{q.EvaluationID, q.ID}]
		if cs == nil {
			cs = make([]question.StudentChoice, 0)
		}
		questions[q.EvaluationID] = append(questions[q.EvaluationID], question.StudentQuestion{
			ID:       q.ID,
			Text:     q.Text,
			Kind:     question.Kind(q.Kind),
			Position: q.Position,
			Points:   q.Points,
			Choices:  cs,
		})
	}

	for _, r := range rows {
		qs := questions[r.ID]
		if qs == nil {
			qs = make([]question.StudentQuestion, 0)
		}
		papers = append(papers, question.Paper{
			Evaluation: evaluation.Evaluation{
				ID:         r.ID,
				CourseCode: r.CourseCode,
				Type:       r.Type,
				Window: evaluation.Window{
					PublishedDate: r.PublishedDate,
					StartTime:     r.StartTime,
					EndTime:       r.EndTime,
				},
				Status: evaluation.Status(r.Status),
			},
			Questions: qs,
		})
	}
	return papers, nil
}
