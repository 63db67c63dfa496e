package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

const sheetColumns = `id, evaluation_id, matricule, server_start_time, client_start_time, submitted_at, server_submit_time,
	score, status, grading_status, attempt_local_id, is_offline_submission, offline_submitted_at, synced_at,
	created_at, updated_at`

type (
	sheetRow struct {
		ID                  string       `db:"id"`
		EvaluationID        string       `db:"evaluation_id"`
		Matricule           string       `db:"matricule"`
		ServerStartTime     time.Time    `db:"server_start_time"`
		ClientStartTime     null.Time    `db:"client_start_time"`
		SubmittedAt         null.Time    `db:"submitted_at"`
		ServerSubmitTime    null.Time    `db:"server_submit_time"`
		Score               null.Float64 `db:"score"`
		Status              string       `db:"status"`
		GradingStatus       string       `db:"grading_status"`
		AttemptLocalID      null.String  `db:"attempt_local_id"`
		IsOfflineSubmission bool         `db:"is_offline_submission"`
		OfflineSubmittedAt  null.Time    `db:"offline_submitted_at"`
		SyncedAt            null.Time    `db:"synced_at"`
		CreatedAt           time.Time    `db:"created_at"`
		UpdatedAt           time.Time    `db:"updated_at"`
	}

	answerRow struct {
		SheetID          string       `db:"response_sheet_id"`
		QuestionID       string       `db:"question_id"`
		Kind             string       `db:"kind"`
		SelectedOption   null.String  `db:"selected_option"`
		OpenTextResponse null.String  `db:"open_text_response"`
		Score            null.Float64 `db:"score"`
		Feedback         null.String  `db:"feedback"`
		Confidence       null.Float64 `db:"grading_confidence"`
		GradingSource    null.String  `db:"grading_source"`
		UpdatedAt        time.Time    `db:"updated_at"`
	}
)

func utcTime(t null.Time) null.Time {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

func toSheetRow(s response.Sheet) sheetRow {
	return sheetRow{
		ID:                  s.ID,
		EvaluationID:        s.EvaluationID,
		Matricule:           s.Matricule,
		ServerStartTime:     s.ServerStartTime.UTC(),
		ClientStartTime:     utcTime(s.ClientStartTime),
		SubmittedAt:         utcTime(s.SubmittedAt),
		ServerSubmitTime:    utcTime(s.ServerSubmitTime),
		Score:               s.Score,
		Status:              string(s.Status),
		GradingStatus:       string(s.GradingStatus),
		AttemptLocalID:      s.AttemptLocalID,
		IsOfflineSubmission: s.IsOfflineSubmission,
		OfflineSubmittedAt:  utcTime(s.OfflineSubmittedAt),
		SyncedAt:            utcTime(s.SyncedAt),
		CreatedAt:           s.CreatedAt.UTC(),
		UpdatedAt:           s.UpdatedAt.UTC(),
	}
}

func (row sheetRow) sheet() response.Sheet {
	return response.Sheet{
		ID:                  row.ID,
		EvaluationID:        row.EvaluationID,
		Matricule:           row.Matricule,
		ServerStartTime:     row.ServerStartTime,
		ClientStartTime:     row.ClientStartTime,
		SubmittedAt:         row.SubmittedAt,
		ServerSubmitTime:    row.ServerSubmitTime,
		Score:               row.Score,
		Status:              response.Status(row.Status),
		GradingStatus:       response.GradingStatus(row.GradingStatus),
		AttemptLocalID:      row.AttemptLocalID,
		IsOfflineSubmission: row.IsOfflineSubmission,
		OfflineSubmittedAt:  row.OfflineSubmittedAt,
		SyncedAt:            row.SyncedAt,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

func toAnswerRow(a response.Answer) answerRow {
	row := answerRow{
		SheetID:       a.SheetID,
		QuestionID:    a.QuestionID,
		Score:         a.Score,
		Feedback:      a.Feedback,
		Confidence:    a.Confidence,
		GradingSource: a.GradingSource,
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
	switch r := a.Response.(type) {
	case response.Closed:
		row.Kind = string(question.KindClosed)
		row.SelectedOption = null.NewString(r.SelectedOption, r.SelectedOption != "")
	case response.Open:
		row.Kind = string(question.KindOpen)
		row.OpenTextResponse = null.StringFrom(r.Text)
	}
	return row
}

func (row answerRow) answer() response.Answer {
	a := response.Answer{
		SheetID:       row.SheetID,
		QuestionID:    row.QuestionID,
		Score:         row.Score,
		Feedback:      row.Feedback,
		Confidence:    row.Confidence,
		GradingSource: row.GradingSource,
		UpdatedAt:     row.UpdatedAt,
	}
	if question.Kind(row.Kind) == question.KindOpen {
		a.Response = response.Open{Text: row.OpenTextResponse.String}
	} else {
		a.Response = response.Closed{SelectedOption: row.SelectedOption.String}
	}
	return a
}

type responseRepository struct {
	db *sqlx.DB
}

var _ response.Repository = (*responseRepository)(nil) // interface compliance check

func NewResponseRepository(db *sqlx.DB) *responseRepository {
	return &responseRepository{db: db}
}

func (repo responseRepository) getSheet(ctx context.Context, ext sqlx.ExtContext, where string, args ...interface{}) (response.Sheet, error) {
	var row sheetRow
	if err := sqlx.GetContext(ctx, ext, &row, `SELECT `+sheetColumns+` FROM response_sheets WHERE `+where, args...); err != nil {
		return response.Sheet{}, trapNoRowsErr(err, response.ErrNotFound, "getting response sheet")
	}
	return row.sheet(), nil
}

func (repo responseRepository) GetOrCreateSheet(ctx context.Context, sheet response.Sheet, exec ...core.DBExecutor) (response.Sheet, error) {
	ext := getExec(repo.db, exec)
	q := `INSERT INTO response_sheets (` + sheetColumns + `)
		VALUES (:id, :evaluation_id, :matricule, :server_start_time, :client_start_time, :submitted_at, :server_submit_time,
			:score, :status, :grading_status, :attempt_local_id, :is_offline_submission, :offline_submitted_at, :synced_at,
			:created_at, :updated_at)
		ON CONFLICT (evaluation_id, matricule) DO NOTHING`
	if _, err := sqlx.NamedExecContext(ctx, ext, q, toSheetRow(sheet)); err != nil {
		return response.Sheet{}, errors.Wrap(err, "inserting response sheet")
	}
	return repo.getSheet(ctx, ext, "evaluation_id = $1 AND matricule = $2", sheet.EvaluationID, sheet.Matricule)
}

func (repo responseRepository) GetSheet(ctx context.Context, id string, exec ...core.DBExecutor) (response.Sheet, error) {
	return repo.getSheet(ctx, getExec(repo.db, exec), "id = $1", id)
}

func (repo responseRepository) LockSheet(ctx context.Context, id string, exec ...core.DBExecutor) (response.Sheet, error) {
	return repo.getSheet(ctx, getExec(repo.db, exec), "id = $1 FOR UPDATE", id)
}

func (repo responseRepository) FindSheetByAttempt(ctx context.Context, attemptLocalID string, exec ...core.DBExecutor) (response.Sheet, error) {
	return repo.getSheet(ctx, getExec(repo.db, exec), "attempt_local_id = $1", attemptLocalID)
}

func (repo responseRepository) QuerySheets(ctx context.Context, filter response.SheetFilter, exec ...core.DBExecutor) ([]response.Sheet, error) {
	ext := getExec(repo.db, exec)
	conds := []string{"true"}
	var args []interface{}
	if filter.EvaluationID != "" {
		conds = append(conds, "evaluation_id = ?")
		args = append(args, filter.EvaluationID)
	}
	if filter.Matricule != "" {
		conds = append(conds, "matricule = ?")
		args = append(args, filter.Matricule)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		conds = append(conds, "status IN (?)")
		args = append(args, statuses)
	}

	q, args, err := in(ext,
		`SELECT `+sheetColumns+` FROM response_sheets WHERE `+strings.Join(conds, " AND ")+` ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, err
	}
	var rows []sheetRow
	if err = sqlx.SelectContext(ctx, ext, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying response sheets")
	}
	sheets := make([]response.Sheet, 0, len(rows))
	for _, row := range rows {
		sheets = append(sheets, row.sheet())
	}
	return sheets, nil
}

func (repo responseRepository) UpdateSheet(ctx context.Context, sheet response.Sheet, exec ...core.DBExecutor) (response.Sheet, error) {
	q := `UPDATE response_sheets SET
			client_start_time = :client_start_time, submitted_at = :submitted_at, server_submit_time = :server_submit_time,
			score = :score, status = :status, grading_status = :grading_status, attempt_local_id = :attempt_local_id,
			is_offline_submission = :is_offline_submission, offline_submitted_at = :offline_submitted_at,
			synced_at = :synced_at, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, toSheetRow(sheet))
	if err != nil {
		return response.Sheet{}, errors.Wrap(err, "updating response sheet")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return response.Sheet{}, response.ErrNotFound
	}
	return sheet, nil
}

func (repo responseRepository) UpsertAnswers(ctx context.Context, answers []response.Answer, exec ...core.DBExecutor) error {
	ext := getExec(repo.db, exec)
	q := `INSERT INTO answers (response_sheet_id, question_id, kind, selected_option, open_text_response, updated_at)
		VALUES (:response_sheet_id, :question_id, :kind, :selected_option, :open_text_response, :updated_at)
		ON CONFLICT (response_sheet_id, question_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			selected_option = EXCLUDED.selected_option,
			open_text_response = EXCLUDED.open_text_response,
			updated_at = EXCLUDED.updated_at`
	for _, a := range answers {
		if _, err := sqlx.NamedExecContext(ctx, ext, q, toAnswerRow(a)); err != nil {
			return errors.Wrapf(err, "upserting answer to %s", a.QuestionID)
		}
	}
	return nil
}

func (repo responseRepository) GetAnswers(ctx context.Context, sheetID string, exec ...core.DBExecutor) ([]response.Answer, error) {
	var rows []answerRow
	q := `SELECT a.response_sheet_id, a.question_id, a.kind, a.selected_option, a.open_text_response, a.score,
			a.feedback, a.grading_confidence, a.grading_source, a.updated_at
		FROM answers a
		JOIN questions q ON q.id = a.question_id
		WHERE a.response_sheet_id = $1
		ORDER BY q.position, q.created_at, q.id`
	if err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &rows, q, sheetID); err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	answers := make([]response.Answer, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, row.answer())
	}
	return answers, nil
}

func (repo responseRepository) GradeAnswer(ctx context.Context, a response.Answer, exec ...core.DBExecutor) error {
	q := `UPDATE answers SET score = :score, feedback = :feedback, grading_confidence = :grading_confidence,
			grading_source = :grading_source
		WHERE response_sheet_id = :response_sheet_id AND question_id = :question_id`
	_, err := sqlx.NamedExecContext(ctx, getExec(repo.db, exec), q, toAnswerRow(a))
	return errors.Wrap(err, "grading answer")
}
