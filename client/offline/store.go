package offline

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	_ "modernc.org/sqlite"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
)

var (
	ErrNotFound         = core.NewStateError(http.StatusNotFound, "not found in the offline store")
	ErrAttemptSubmitted = core.NewStateError(http.StatusForbidden, "attempt already submitted")
	ErrAttemptExists    = core.NewStateError(http.StatusConflict, "an attempt already exists for this evaluation")
)

// Repository is the on-device store. Calls are synchronous and assume a single writer.
type Repository interface {
	// SaveEvaluations upserts the papers in one transaction: either all of them are saved or none.
	SaveEvaluations(ctx context.Context, papers []question.Paper) error
	GetEvaluation(ctx context.Context, id string) (question.Paper, error)
	ListEvaluations(ctx context.Context) ([]question.Paper, error)

	CreateAttempt(ctx context.Context, evaluationID, matricule string) (Attempt, error)
	GetAttempt(ctx context.Context, attemptLocalID string) (Attempt, error)
	// AttemptFor finds the attempt of matricule at evaluationID, to resume it.
	AttemptFor(ctx context.Context, evaluationID, matricule string) (Attempt, error)
	SaveAnswer(ctx context.Context, attemptLocalID string, ans Answer) error
	Answers(ctx context.Context, attemptLocalID string) ([]Answer, error)
	MarkSubmitted(ctx context.Context, attemptLocalID string) error
	MarkSynced(ctx context.Context, attemptLocalID, responseSheetID string) error
	// PendingAttempts returns the attempts not synced yet, least recently touched first.
	PendingAttempts(ctx context.Context) ([]Attempt, error)
	// PurgeSynced drops the synced attempts last touched before `before`.
	PurgeSynced(ctx context.Context, before time.Time) (int, error)
}

// Store is the SQLite-backed Repository.
type Store struct {
	db    *sqlx.DB
	clock core.Clock
}

var _ Repository = (*Store)(nil)

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	q := make(url.Values)
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening offline store")
	}
	db.SetMaxOpenConns(1) // single writer

	s := &Store{db: db}
	if err = s.inTx(context.Background(), func(tx *sqlx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating offline schema")
	}
	return s, nil
}

// SetClock replaces the time source; tests only.
func (s *Store) SetClock(clock core.Clock) { s.clock = clock }

func (s *Store) Close() error {
	return s.db.Close()
}

// inTx is the store's single unit of work: fn's writes are committed together or not at all.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t null.Time) null.Int64 {
	if !t.Valid {
		return null.Int64{}
	}
	return null.Int64From(millis(t.Time))
}

func fromNullMillis(ms null.Int64) null.Time {
	if !ms.Valid {
		return null.Time{}
	}
	return null.TimeFrom(fromMillis(ms.Int64))
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS evaluations (
		id             TEXT PRIMARY KEY,
		course_code    TEXT NOT NULL,
		type           TEXT NOT NULL,
		published_date TEXT NOT NULL,
		start_time     TEXT NOT NULL,
		end_time       TEXT NOT NULL,
		status         TEXT NOT NULL,
		saved_at       INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id            TEXT NOT NULL,
		evaluation_id TEXT NOT NULL REFERENCES evaluations (id) ON DELETE CASCADE,
		text          TEXT NOT NULL,
		kind          TEXT NOT NULL CHECK (kind IN ('closed', 'open')),
		position      INTEGER NOT NULL DEFAULT 0,
		points        REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (evaluation_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS choices (
		id            TEXT NOT NULL,
		evaluation_id TEXT NOT NULL,
		question_id   TEXT NOT NULL,
		text          TEXT NOT NULL,
		position      INTEGER NOT NULL DEFAULT 0,
		is_correct    INTEGER,
		PRIMARY KEY (evaluation_id, question_id, id),
		FOREIGN KEY (evaluation_id, question_id) REFERENCES questions (evaluation_id, id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		attempt_local_id  TEXT PRIMARY KEY,
		evaluation_id     TEXT NOT NULL,
		matricule         TEXT NOT NULL,
		status            TEXT NOT NULL CHECK (status IN ('draft', 'submitted', 'synced')),
		client_start_time INTEGER NOT NULL,
		submitted_at      INTEGER,
		response_sheet_id TEXT,
		synced_at         INTEGER,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attempts_pending_idx ON attempts (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS answers (
		attempt_local_id   TEXT NOT NULL REFERENCES attempts (attempt_local_id) ON DELETE CASCADE,
		question_id        TEXT NOT NULL,
		kind               TEXT NOT NULL CHECK (kind IN ('closed', 'open')),
		selected_option    TEXT,
		open_text_response TEXT,
		updated_at         INTEGER NOT NULL,
		PRIMARY KEY (attempt_local_id, question_id)
	)`,
}
