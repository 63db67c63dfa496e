package offline

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

type AttemptStatus string

const (
	AttemptDraft     AttemptStatus = "draft"
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptSynced    AttemptStatus = "synced"
)

// Attempt is an evaluation taken on the device, possibly without connectivity.
type Attempt struct {
	AttemptLocalID  string
	EvaluationID    string
	Matricule       string
	Status          AttemptStatus
	ClientStartTime time.Time
	SubmittedAt     null.Time
	ResponseSheetID null.String // set once synced
	SyncedAt        null.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Attempt) IsDraft() bool { return a.Status == AttemptDraft }

// Answer is a locally buffered answer; Response is either response.Closed or response.Open.
type Answer struct {
	QuestionID string
	Response   response.Response
	UpdatedAt  time.Time
}

// Input converts the answer to its wire form.
func (a Answer) Input() response.AnswerInput {
	switch r := a.Response.(type) {
	case response.Open:
		return response.OpenInput(a.QuestionID, r.Text)
	case response.Closed:
		return response.ClosedInput(a.QuestionID, r.SelectedOption)
	}
	return response.AnswerInput{QuestionID: a.QuestionID}
}

type (
	attemptRow struct {
		AttemptLocalID  string      `db:"attempt_local_id"`
		EvaluationID    string      `db:"evaluation_id"`
		Matricule       string      `db:"matricule"`
		Status          string      `db:"status"`
		ClientStartTime int64       `db:"client_start_time"`
		SubmittedAt     null.Int64  `db:"submitted_at"`
		ResponseSheetID null.String `db:"response_sheet_id"`
		SyncedAt        null.Int64  `db:"synced_at"`
		CreatedAt       int64       `db:"created_at"`
		UpdatedAt       int64       `db:"updated_at"`
	}

	answerRow struct {
		AttemptLocalID   string      `db:"attempt_local_id"`
		QuestionID       string      `db:"question_id"`
		Kind             string      `db:"kind"`
		SelectedOption   null.String `db:"selected_option"`
		OpenTextResponse null.String `db:"open_text_response"`
		UpdatedAt        int64       `db:"updated_at"`
	}
)

func (r attemptRow) attempt() Attempt {
	return Attempt{
		AttemptLocalID:  r.AttemptLocalID,
		EvaluationID:    r.EvaluationID,
		Matricule:       r.Matricule,
		Status:          AttemptStatus(r.Status),
		ClientStartTime: fromMillis(r.ClientStartTime),
		SubmittedAt:     fromNullMillis(r.SubmittedAt),
		ResponseSheetID: r.ResponseSheetID,
		SyncedAt:        fromNullMillis(r.SyncedAt),
		CreatedAt:       fromMillis(r.CreatedAt),
		UpdatedAt:       fromMillis(r.UpdatedAt),
	}
}

func (r answerRow) answer() Answer {
	ans := Answer{QuestionID: r.QuestionID, UpdatedAt: fromMillis(r.UpdatedAt)}
	if question.Kind(r.Kind) == question.KindOpen {
		ans.Response = response.Open{Text: r.OpenTextResponse.String}
	} else {
		ans.Response = response.Closed{SelectedOption: r.SelectedOption.String}
	}
	return ans
}

// CreateAttempt starts a draft attempt under a fresh random attemptLocalId.
func (s *Store) CreateAttempt(ctx context.Context, evaluationID, matricule string) (Attempt, error) {
	now := s.clock.Now()
	row := attemptRow{
		AttemptLocalID:  uuid.NewString(),
		EvaluationID:    evaluationID,
		Matricule:       matricule,
		Status:          string(AttemptDraft),
		ClientStartTime: millis(now),
		CreatedAt:       millis(now),
		UpdatedAt:       millis(now),
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var found int
		err := tx.GetContext(ctx, &found, `SELECT 1 FROM attempts WHERE evaluation_id = ? AND matricule = ?`, evaluationID, matricule)
		switch {
		case err == nil:
			return ErrAttemptExists
		case err != sql.ErrNoRows:
			return errors.Wrap(err, "checking attempts")
		}

		const q = `
		INSERT INTO attempts (attempt_local_id, evaluation_id, matricule, status, client_start_time, created_at, updated_at)
		VALUES (:attempt_local_id, :evaluation_id, :matricule, :status, :client_start_time, :created_at, :updated_at)`
		_, err = tx.NamedExecContext(ctx, q, row)
		return errors.Wrap(err, "inserting attempt")
	})
	if err != nil {
		return Attempt{}, err
	}
	return row.attempt(), nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptLocalID string) (Attempt, error) {
	return s.getAttempt(ctx, s.db, `SELECT * FROM attempts WHERE attempt_local_id = ?`, attemptLocalID)
}

func (s *Store) AttemptFor(ctx context.Context, evaluationID, matricule string) (Attempt, error) {
	const q = `SELECT * FROM attempts WHERE evaluation_id = ? AND matricule = ?`
	return s.getAttempt(ctx, s.db, q, evaluationID, matricule)
}

func (s *Store) getAttempt(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (Attempt, error) {
	var row attemptRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, errors.Wrap(err, "selecting attempt")
	}
	return row.attempt(), nil
}

// SaveAnswer upserts the answer to one question and marks the attempt as just touched.
func (s *Store) SaveAnswer(ctx context.Context, attemptLocalID string, ans Answer) error {
	now := millis(s.clock.Now())
	row := answerRow{AttemptLocalID: attemptLocalID, QuestionID: ans.QuestionID, UpdatedAt: now}
	switch r := ans.Response.(type) {
	case response.Open:
		row.Kind = string(question.KindOpen)
		row.OpenTextResponse = null.StringFrom(r.Text)
	case response.Closed:
		row.Kind = string(question.KindClosed)
		row.SelectedOption = null.StringFrom(r.SelectedOption)
	default:
		return errors.Errorf("unknown response type %T", ans.Response)
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		const getAttemptQuery = `SELECT * FROM attempts WHERE attempt_local_id = ?`
		attempt, err := s.getAttempt(ctx, tx, getAttemptQuery, attemptLocalID)
		if err != nil {
			return err
		}
		if !attempt.IsDraft() {
			return ErrAttemptSubmitted
		}

		const upsert = `
		INSERT INTO answers (attempt_local_id, question_id, kind, selected_option, open_text_response, updated_at)
		VALUES (:attempt_local_id, :question_id, :kind, :selected_option, :open_text_response, :updated_at)
		ON CONFLICT (attempt_local_id, question_id) DO UPDATE SET
			kind = excluded.kind, selected_option = excluded.selected_option,
			open_text_response = excluded.open_text_response, updated_at = excluded.updated_at`
		if _, err = tx.NamedExecContext(ctx, upsert, row); err != nil {
			return errors.Wrap(err, "saving answer")
		}
		_, err = tx.ExecContext(ctx, `UPDATE attempts SET updated_at = ? WHERE attempt_local_id = ?`, now, attemptLocalID)
		return errors.Wrap(err, "touching attempt")
	})
}

func (s *Store) Answers(ctx context.Context, attemptLocalID string) ([]Answer, error) {
	var rows []answerRow
	const q = `SELECT * FROM answers WHERE attempt_local_id = ? ORDER BY updated_at, question_id`
	if err := s.db.SelectContext(ctx, &rows, q, attemptLocalID); err != nil {
		return nil, errors.Wrap(err, "selecting answers")
	}
	answers := make([]Answer, 0, len(rows))
	for _, r := range rows {
		answers = append(answers, r.answer())
	}
	return answers, nil
}

// MarkSubmitted freezes a draft attempt. Submitting a submitted attempt again is a no-op.
func (s *Store) MarkSubmitted(ctx context.Context, attemptLocalID string) error {
	now := millis(s.clock.Now())
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		attempt, err := s.getAttempt(ctx, tx, `SELECT * FROM attempts WHERE attempt_local_id = ?`, attemptLocalID)
		if err != nil {
			return err
		}
		if !attempt.IsDraft() {
			return nil
		}
		const q = `UPDATE attempts SET status = ?, submitted_at = ?, updated_at = ? WHERE attempt_local_id = ?`
		_, err = tx.ExecContext(ctx, q, string(AttemptSubmitted), now, now, attemptLocalID)
		return errors.Wrap(err, "marking attempt submitted")
	})
}

// MarkSynced records the server sheet the attempt ended up in.
func (s *Store) MarkSynced(ctx context.Context, attemptLocalID, responseSheetID string) error {
	now := millis(s.clock.Now())
	const q = `
	UPDATE attempts SET status = ?, response_sheet_id = ?, synced_at = ?, updated_at = ?,
		submitted_at = COALESCE(submitted_at, ?)
	WHERE attempt_local_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(AttemptSynced), responseSheetID, now, now, now, attemptLocalID)
	if err != nil {
		return errors.Wrap(err, "marking attempt synced")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) PendingAttempts(ctx context.Context) ([]Attempt, error) {
	var rows []attemptRow
	const q = `SELECT * FROM attempts WHERE status IN (?, ?) ORDER BY updated_at, attempt_local_id`
	if err := s.db.SelectContext(ctx, &rows, q, string(AttemptDraft), string(AttemptSubmitted)); err != nil {
		return nil, errors.Wrap(err, "selecting pending attempts")
	}
	attempts := make([]Attempt, 0, len(rows))
	for _, r := range rows {
		attempts = append(attempts, r.attempt())
	}
	return attempts, nil
}

func (s *Store) PurgeSynced(ctx context.Context, before time.Time) (int, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		const q = `DELETE FROM attempts WHERE status = ? AND updated_at < ?`
		res, err := tx.ExecContext(ctx, q, string(AttemptSynced), millis(before))
		if err != nil {
			return errors.Wrap(err, "purging synced attempts")
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}
