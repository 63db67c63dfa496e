package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
)

type (
	questionRow struct {
		ID              string    `db:"id"`
		Text            string    `db:"text"`
		Kind            string    `db:"kind"`
		Position        int       `db:"position"`
		ReferenceAnswer string    `db:"reference_answer"`
		CreatedAt       time.Time `db:"created_at"`
		UpdatedAt       time.Time `db:"updated_at"`
		Weight          float64   `db:"weight"`
	}

	choiceRow struct {
		ID         string `db:"id"`
		QuestionID string `db:"question_id"`
		Text       string `db:"text"`
		Position   int    `db:"position"`
		IsCorrect  bool   `db:"is_correct"`
	}
)

func (row questionRow) question() question.Question {
	return question.Question{
		ID:              row.ID,
		Text:            row.Text,
		Kind:            question.Kind(row.Kind),
		Position:        row.Position,
		ReferenceAnswer: row.ReferenceAnswer,
		Choices:         make([]question.Choice, 0),
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func (row choiceRow) choice() question.Choice {
	return question.Choice{ID: row.ID, Text: row.Text, Position: row.Position, IsCorrect: row.IsCorrect}
}

type questionRepository struct {
	db *sqlx.DB
}

var _ question.Repository = (*questionRepository)(nil) // interface compliance check

func NewQuestionRepository(db *sqlx.DB) *questionRepository {
	return &questionRepository{db: db}
}

func (repo questionRepository) CreateQuestion(ctx context.Context, q question.Question, exec ...core.DBExecutor) (question.Question, error) {
	ext := getExec(repo.db, exec)
	_, err := sqlx.NamedExecContext(ctx, ext,
		`INSERT INTO questions (id, text, kind, position, reference_answer, created_at, updated_at)
		VALUES (:id, :text, :kind, :position, :reference_answer, :created_at, :updated_at)`,
		questionRow{
			ID:              q.ID,
			Text:            q.Text,
			Kind:            string(q.Kind),
			Position:        q.Position,
			ReferenceAnswer: q.ReferenceAnswer,
			CreatedAt:       q.CreatedAt.UTC(),
			UpdatedAt:       q.UpdatedAt.UTC(),
		})
	if err != nil {
		return question.Question{}, errors.Wrap(err, "inserting question")
	}

	for _, c := range q.Choices {
		_, err = sqlx.NamedExecContext(ctx, ext,
			`INSERT INTO choices (id, question_id, text, position, is_correct)
			VALUES (:id, :question_id, :text, :position, :is_correct)`,
			choiceRow{ID: c.ID, QuestionID: q.ID, Text: c.Text, Position: c.Position, IsCorrect: c.IsCorrect})
		if err != nil {
			return question.Question{}, errors.Wrap(err, "inserting choice")
		}
	}
	return q, nil
}

func (repo questionRepository) GetQuestion(ctx context.Context, id string, exec ...core.DBExecutor) (question.Question, error) {
	ext := getExec(repo.db, exec)
	var row questionRow
	q := `SELECT id, text, kind, position, reference_answer, created_at, updated_at FROM questions WHERE id = $1`
	if err := sqlx.GetContext(ctx, ext, &row, q, id); err != nil {
		return question.Question{}, trapNoRowsErr(err, question.ErrNotFound, "getting question")
	}
	qs := []question.Question{row.question()}
	if err := repo.loadChoices(ctx, ext, qs); err != nil {
		return question.Question{}, err
	}
	return qs[0], nil
}

func (repo questionRepository) loadChoices(ctx context.Context, ext sqlx.ExtContext, qs []question.Question) error {
	if len(qs) == 0 {
		return nil
	}
	idx := make(map[string]int, len(qs))
	ids := make([]string, 0, len(qs))
	for i, q := range qs {
		idx[q.ID] = i
		ids = append(ids, q.ID)
	}

	query, args, err := in(ext,
		`SELECT id, question_id, text, position, is_correct FROM choices WHERE question_id IN (?) ORDER BY position, id`, ids)
	if err != nil {
		return err
	}
	var rows []choiceRow
	if err = sqlx.SelectContext(ctx, ext, &rows, query, args...); err != nil {
		return errors.Wrap(err, "querying choices")
	}
	for _, row := range rows {
		i := idx[row.QuestionID]
		qs[i].Choices = append(qs[i].Choices, row.choice())
	}
	return nil
}

func (repo questionRepository) AttachQuestion(ctx context.Context, evaluationID, questionID string, weight float64, exec ...core.DBExecutor) error {
	q := `INSERT INTO evaluation_questions (evaluation_id, question_id, weight) VALUES ($1, $2, $3)
		ON CONFLICT (evaluation_id, question_id) DO UPDATE SET weight = EXCLUDED.weight`
	_, err := getExec(repo.db, exec).ExecContext(ctx, q, evaluationID, questionID, weight)
	return errors.Wrap(err, "attaching question")
}

func (repo questionRepository) DetachQuestion(ctx context.Context, evaluationID, questionID string, exec ...core.DBExecutor) error {
	q := `DELETE FROM evaluation_questions WHERE evaluation_id = $1 AND question_id = $2`
	res, err := getExec(repo.db, exec).ExecContext(ctx, q, evaluationID, questionID)
	if err != nil {
		return errors.Wrap(err, "detaching question")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return question.ErrNotFound
	}
	return nil
}

func (repo questionRepository) EvaluationQuestions(ctx context.Context, evaluationID string, exec ...core.DBExecutor) ([]question.Weighted, error) {
	ext := getExec(repo.db, exec)
	var rows []questionRow
	q := `SELECT q.id, q.text, q.kind, q.position, q.reference_answer, q.created_at, q.updated_at, eq.weight
		FROM evaluation_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.evaluation_id = $1
		ORDER BY q.position, q.created_at, q.id`
	if err := sqlx.SelectContext(ctx, ext, &rows, q, evaluationID); err != nil {
		return nil, errors.Wrap(err, "querying evaluation questions")
	}

	qs := make([]question.Question, 0, len(rows))
	for _, row := range rows {
		qs = append(qs, row.question())
	}
	if err := repo.loadChoices(ctx, ext, qs); err != nil {
		return nil, err
	}
	weighted := make([]question.Weighted, 0, len(qs))
	for i, q := range qs {
		weighted = append(weighted, question.Weighted{Question: q, Weight: rows[i].Weight})
	}
	return weighted, nil
}
