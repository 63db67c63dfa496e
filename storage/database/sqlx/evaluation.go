package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
)

const evaluationColumns = `id, course_code, type, published_date, start_time, end_time, status, created_at, updated_at, deleted_at`

type evaluationRow struct {
	ID            string         `db:"id"`
	CourseCode    string         `db:"course_code"`
	Type          string         `db:"type"`
	PublishedDate core.Date      `db:"published_date"`
	StartTime     core.ClockTime `db:"start_time"`
	EndTime       core.ClockTime `db:"end_time"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	DeletedAt     null.Time      `db:"deleted_at"`
}

func toEvaluationRow(ev evaluation.Evaluation) evaluationRow {
	return evaluationRow{
		ID:            ev.ID,
		CourseCode:    ev.CourseCode,
		Type:          ev.Type,
		PublishedDate: ev.PublishedDate,
		StartTime:     ev.StartTime,
		EndTime:       ev.EndTime,
		Status:        string(ev.Status),
		CreatedAt:     ev.CreatedAt.UTC(),
		UpdatedAt:     ev.UpdatedAt.UTC(),
		DeletedAt:     null.TimeFromPtr(ev.DeletedAt),
	}
}

func (row evaluationRow) evaluation() evaluation.Evaluation {
	return evaluation.Evaluation{
		ID:         row.ID,
		CourseCode: row.CourseCode,
		Type:       row.Type,
		Window: evaluation.Window{
			PublishedDate: row.PublishedDate,
			StartTime:     row.StartTime,
			EndTime:       row.EndTime,
		},
		Status:    evaluation.Status(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		DeletedAt: row.DeletedAt.Ptr(),
	}
}

type evaluationRepository struct {
	db *sqlx.DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *sqlx.DB) *evaluationRepository {
	return &evaluationRepository{db: db}
}

func (repo evaluationRepository) CreateEvaluation(ctx context.Context, ev evaluation.Evaluation, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	q := `INSERT INTO evaluations (` + evaluationColumns + `)
		VALUES (:id, :course_code, :type, :published_date, :start_time, :end_time, :status, :created_at, :updated_at, :deleted_at)`
	if _, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, toEvaluationRow(ev)); err != nil {
		if isUniqueViolation(err) {
			return evaluation.Evaluation{}, evaluation.ErrExists
		}
		return evaluation.Evaluation{}, errors.Wrap(err, "inserting evaluation")
	}
	return ev, nil
}

func (repo evaluationRepository) GetEvaluation(ctx context.Context, id string, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	var row evaluationRow
	q := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE id = $1 AND deleted_at IS NULL`
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, id); err != nil {
		return evaluation.Evaluation{}, trapNoRowsErr(err, evaluation.ErrNotFound, "getting evaluation")
	}
	return row.evaluation(), nil
}

func (repo evaluationRepository) FindEvaluation(ctx context.Context, courseCode, typ string, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	var row evaluationRow
	q := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE course_code = $1 AND type = $2`
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, courseCode, typ); err != nil {
		return evaluation.Evaluation{}, trapNoRowsErr(err, evaluation.ErrNotFound, "finding evaluation")
	}
	return row.evaluation(), nil
}

func (repo evaluationRepository) QueryEvaluations(ctx context.Context, filter evaluation.QueryFilter, exec ...core.DBExecutor) ([]evaluation.Evaluation, error) {
	ext := getExec(repo.db, exec)
	conds := []string{"deleted_at IS NULL"}
	var args []interface{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		conds = append(conds, "status IN (?)")
		args = append(args, statuses)
	}
	if len(filter.CourseCodes) > 0 {
		conds = append(conds, "course_code IN (?)")
		args = append(args, filter.CourseCodes)
	}

	q, args, err := in(ext,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE `+strings.Join(conds, " AND ")+
			` ORDER BY published_date DESC, start_time DESC, course_code`,
		args...)
	if err != nil {
		return nil, err
	}
	var rows []evaluationRow
	if err = sqlx.SelectContext(ctx, ext, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	evs := make([]evaluation.Evaluation, 0, len(rows))
	for _, row := range rows {
		evs = append(evs, row.evaluation())
	}
	return evs, nil
}

func (repo evaluationRepository) UpdateEvaluation(ctx context.Context, ev evaluation.Evaluation, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	q := `UPDATE evaluations SET
			course_code = :course_code, type = :type, published_date = :published_date, start_time = :start_time,
			end_time = :end_time, status = :status, updated_at = :updated_at, deleted_at = :deleted_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, toEvaluationRow(ev))
	if err != nil {
		if isUniqueViolation(err) {
			return evaluation.Evaluation{}, evaluation.ErrExists
		}
		return evaluation.Evaluation{}, errors.Wrap(err, "updating evaluation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return evaluation.Evaluation{}, evaluation.ErrNotFound
	}
	return ev, nil
}

func (repo evaluationRepository) CountQuestions(ctx context.Context, evaluationID string, exec ...core.DBExecutor) (int, error) {
	var n int
	q := `SELECT COUNT(*) FROM evaluation_questions WHERE evaluation_id = $1`
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &n, q, evaluationID)
	return n, errors.Wrap(err, "counting evaluation questions")
}
