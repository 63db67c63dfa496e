package response

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/grading"
	"github.com/trezcool/mtihani/core/question"
)

var (
	ErrNotFound           = core.NewStateError(http.StatusNotFound, "response sheet not found")
	ErrAlreadySubmitted   = core.NewStateError(http.StatusForbidden, "response sheet already submitted")
	ErrForbidden          = core.NewStateError(http.StatusForbidden, "response sheet belongs to another student")
	ErrSubmissionInFlight = core.NewStateError(http.StatusConflict, "a submission for this attempt is in progress, retry later")
	ErrNotSubmitted       = core.NewStateError(http.StatusForbidden, "response sheet is not submitted yet")

	errMissingEvaluation = errors.New("missing evaluation")
	errInvalidAnswers    = errors.New("invalid answers")
)

const lockTTL = 2 * time.Minute

type Repository interface {
	// GetOrCreateSheet returns the sheet of (sheet.EvaluationID, sheet.Matricule), inserting `sheet` if there is none.
	GetOrCreateSheet(ctx context.Context, sheet Sheet, exec ...core.DBExecutor) (Sheet, error)
	GetSheet(ctx context.Context, id string, exec ...core.DBExecutor) (Sheet, error)
	// LockSheet reads the sheet and holds a row lock until the surrounding transaction ends.
	LockSheet(ctx context.Context, id string, exec ...core.DBExecutor) (Sheet, error)
	FindSheetByAttempt(ctx context.Context, attemptLocalID string, exec ...core.DBExecutor) (Sheet, error)
	QuerySheets(ctx context.Context, filter SheetFilter, exec ...core.DBExecutor) ([]Sheet, error)
	UpdateSheet(ctx context.Context, sheet Sheet, exec ...core.DBExecutor) (Sheet, error)
	UpsertAnswers(ctx context.Context, answers []Answer, exec ...core.DBExecutor) error
	GetAnswers(ctx context.Context, sheetID string, exec ...core.DBExecutor) ([]Answer, error)
	GradeAnswer(ctx context.Context, answer Answer, exec ...core.DBExecutor) error
}

type Deps struct {
	Repo      Repository
	Tx        core.Transactor
	Evals     *evaluation.Service
	Questions *question.Service
	Grader    *grading.Engine
	Alerter   grading.Alerter
	Locker    core.Locker
	Audit     core.AuditLog
	Logger    core.Logger
}

type Service struct {
	Deps
}

func NewService(deps Deps) *Service {
	return &Service{Deps: deps}
}

func (svc *Service) now() time.Time { return svc.Evals.Now() }

// Start returns the sheet of (evaluationID, matricule), creating it on first call.
func (svc *Service) Start(ctx context.Context, evaluationID, matricule string, sr StartRequest) (StartResult, error) {
	ev, err := svc.Evals.Get(ctx, evaluationID)
	if err != nil {
		return StartResult{}, err
	}
	if err = svc.Evals.EnsureStartable(ev); err != nil {
		return StartResult{}, err
	}

	var sheet Sheet
	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		sheet, err = svc.Repo.GetOrCreateSheet(ctx, svc.newSheet(ev.ID, matricule, sr.ClientStartTime), exec)
		return errors.Wrap(err, "getting or creating response sheet")
	})
	if err != nil {
		return StartResult{}, err
	}

	qs, err := svc.Questions.ForEvaluation(ctx, ev.ID)
	if err != nil {
		return StartResult{}, err
	}
	paper := question.NewPaper(ev, qs)
	endsAt := ev.Closes(svc.Evals.Location())
	return StartResult{
		ResponseSheetID: sheet.ID,
		Sheet:           sheet,
		Questions:       paper.Questions,
		EndsAt:          endsAt,
		DurationSeconds: int64(ev.Duration().Seconds()),
	}, nil
}

func (svc *Service) newSheet(evaluationID, matricule string, clientStart *time.Time) Sheet {
	now := svc.now()
	return Sheet{
		ID:              uuid.New().String(),
		EvaluationID:    evaluationID,
		Matricule:       matricule,
		ServerStartTime: now,
		ClientStartTime: null.TimeFromPtr(clientStart),
		Status:          StatusInProgress,
		GradingStatus:   GradingPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Get returns the sheet with its answers. matricule may be empty for staff.
func (svc *Service) Get(ctx context.Context, id, matricule string) (Sheet, error) {
	sheet, err := svc.owned(ctx, id, matricule)
	if err != nil {
		return Sheet{}, err
	}
	if sheet.Answers, err = svc.Repo.GetAnswers(ctx, id); err != nil {
		return Sheet{}, errors.Wrap(err, "getting answers")
	}
	return sheet, nil
}

func (svc *Service) ForEvaluation(ctx context.Context, evaluationID string) ([]Sheet, error) {
	return svc.Repo.QuerySheets(ctx, SheetFilter{EvaluationID: evaluationID})
}

func (svc *Service) owned(ctx context.Context, id, matricule string) (Sheet, error) {
	sheet, err := svc.Repo.GetSheet(ctx, id)
	if err != nil {
		return Sheet{}, err
	}
	if matricule != "" && sheet.Matricule != matricule {
		return Sheet{}, ErrForbidden
	}
	return sheet, nil
}

// SaveAnswers is a durability checkpoint: answers are upserted, nothing is scored.
// It holds the same sheet lock as a submit, so a save never lands after the sheet was frozen.
func (svc *Service) SaveAnswers(ctx context.Context, sheetID, matricule string, inputs []AnswerInput) error {
	release, err := svc.lock(ctx, "sheet:"+sheetID)
	if err != nil {
		return err
	}
	defer release()

	_, _, err = svc.write(ctx, sheetID, matricule, inputs, false)
	return err
}

// SubmitAnswers saves the last answers, freezes the sheet and grades it.
func (svc *Service) SubmitAnswers(ctx context.Context, sheetID, matricule string, inputs []AnswerInput) (Sheet, error) {
	release, err := svc.lock(ctx, "sheet:"+sheetID)
	if err != nil {
		return Sheet{}, err
	}
	defer release()

	sheet, qs, err := svc.write(ctx, sheetID, matricule, inputs, true)
	if err != nil {
		return Sheet{}, err
	}
	svc.audit(ctx, sheet, len(inputs), false)
	return svc.grade(ctx, sheet, qs)
}

func (svc *Service) write(
	ctx context.Context, sheetID, matricule string, inputs []AnswerInput, submit bool,
) (Sheet, []question.Weighted, error) {
	sheet, err := svc.owned(ctx, sheetID, matricule)
	if err != nil {
		return Sheet{}, nil, err
	}
	if sheet.IsSubmitted() {
		return Sheet{}, nil, ErrAlreadySubmitted
	}

	ev, err := svc.Evals.Get(ctx, sheet.EvaluationID)
	if err != nil {
		return Sheet{}, nil, err
	}
	if err = svc.Evals.EnsureAnswerable(ev); err != nil {
		return Sheet{}, nil, err
	}
	qs, err := svc.Questions.ForEvaluation(ctx, ev.ID)
	if err != nil {
		return Sheet{}, nil, err
	}
	answers, err := svc.toAnswers(sheet.ID, inputs, qs)
	if err != nil {
		return Sheet{}, nil, err
	}

	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		if sheet, err = svc.Repo.LockSheet(ctx, sheet.ID, exec); err != nil {
			return err
		}
		if sheet.IsSubmitted() {
			return ErrAlreadySubmitted
		}
		if err = svc.Repo.UpsertAnswers(ctx, answers, exec); err != nil {
			return errors.Wrap(err, "upserting answers")
		}
		if !submit {
			return nil
		}
		now := svc.now()
		sheet.SubmittedAt = null.TimeFrom(now)
		sheet.ServerSubmitTime = null.TimeFrom(now)
		sheet.Status = StatusSubmitted
		sheet.UpdatedAt = now
		sheet, err = svc.Repo.UpdateSheet(ctx, sheet, exec)
		return errors.Wrap(err, "submitting response sheet")
	})
	return sheet, qs, err
}

// SubmitOffline accepts a replayed attempt. A repeated AttemptLocalID is acknowledged with the stored result
// and nothing is written.
func (svc *Service) SubmitOffline(ctx context.Context, sheetRef, matricule string, sub OfflineSubmission) (OfflineReceipt, error) {
	release, err := svc.lock(ctx, "attempt:"+sub.AttemptLocalID)
	if err != nil {
		return OfflineReceipt{}, err
	}
	defer release()

	dup, err := svc.Repo.FindSheetByAttempt(ctx, sub.AttemptLocalID)
	switch {
	case err == nil:
		if matricule != "" && dup.Matricule != matricule {
			return OfflineReceipt{}, ErrForbidden
		}
		svc.audit(ctx, dup, len(sub.Answers), true)
		return OfflineReceipt{
			ResponseSheetID: dup.ID,
			Success:         true,
			SubmittedAt:     dup.SubmittedAt.Time,
			Message:         "attempt already received",
			Duplicate:       true,
		}, nil
	case errors.Cause(err) != ErrNotFound:
		return OfflineReceipt{}, errors.Wrap(err, "finding sheet by attempt")
	}

	sheet, ev, created, err := svc.resolveSheet(ctx, sheetRef, matricule, sub)
	if err != nil {
		return OfflineReceipt{}, err
	}
	floor := sheet.ServerStartTime
	if created { // started offline: the server never saw the start
		floor = ev.Opens(svc.Evals.Location())
	}
	if sheet.IsSubmitted() {
		return OfflineReceipt{ResponseSheetID: sheet.ID, SubmittedAt: sheet.SubmittedAt.Time}, ErrAlreadySubmitted
	}
	if ev.IsDraft() {
		return OfflineReceipt{}, evaluation.ErrUnavailable
	}

	qs, err := svc.Questions.ForEvaluation(ctx, ev.ID)
	if err != nil {
		return OfflineReceipt{}, err
	}
	answers, err := svc.toAnswers(sheet.ID, sub.Answers, qs)
	if err != nil {
		return OfflineReceipt{}, err
	}
	releaseSheet, err := svc.lock(ctx, "sheet:"+sheet.ID)
	if err != nil {
		return OfflineReceipt{}, err
	}
	defer releaseSheet()

	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		if sheet, err = svc.Repo.LockSheet(ctx, sheet.ID, exec); err != nil {
			return err
		}
		if sheet.IsSubmitted() {
			return ErrAlreadySubmitted
		}
		if err = svc.Repo.UpsertAnswers(ctx, answers, exec); err != nil {
			return errors.Wrap(err, "upserting answers")
		}
		now := svc.now()
		sheet.AttemptLocalID = null.StringFrom(sub.AttemptLocalID)
		sheet.IsOfflineSubmission = sub.IsOfflineSubmission
		sheet.OfflineSubmittedAt = null.TimeFromPtr(sub.SubmittedAt)
		sheet.SubmittedAt = null.TimeFrom(submittedAt(floor, sub.SubmittedAt, now))
		sheet.ServerSubmitTime = null.TimeFrom(now)
		sheet.SyncedAt = null.TimeFrom(now)
		sheet.Status = StatusSubmitted
		sheet.UpdatedAt = now
		sheet, err = svc.Repo.UpdateSheet(ctx, sheet, exec)
		return errors.Wrap(err, "submitting offline attempt")
	})
	if err != nil {
		if errors.Cause(err) == ErrAlreadySubmitted {
			return OfflineReceipt{ResponseSheetID: sheet.ID, SubmittedAt: sheet.SubmittedAt.Time}, err
		}
		return OfflineReceipt{}, err
	}

	svc.audit(ctx, sheet, len(sub.Answers), false)
	if graded, gErr := svc.grade(ctx, sheet, qs); gErr != nil {
		svc.Logger.Error(fmt.Sprintf("grading offline attempt %s: %v", sub.AttemptLocalID, gErr), gErr)
	} else {
		sheet = graded
	}
	return OfflineReceipt{
		ResponseSheetID: sheet.ID,
		Success:         true,
		SubmittedAt:     sheet.SubmittedAt.Time,
		Message:         "attempt received",
	}, nil
}

func (svc *Service) resolveSheet(
	ctx context.Context, sheetRef, matricule string, sub OfflineSubmission,
) (sheet Sheet, ev evaluation.Evaluation, created bool, err error) {
	if sheetRef != "" && sheetRef != NewSheetRef {
		if sheet, err = svc.owned(ctx, sheetRef, matricule); err != nil {
			return Sheet{}, evaluation.Evaluation{}, false, err
		}
		if sub.EvaluationID != "" && sub.EvaluationID != sheet.EvaluationID {
			return Sheet{}, evaluation.Evaluation{}, false, core.NewValidationError(errMissingEvaluation,
				core.FieldError{Field: "evaluationId", Error: "does not match the response sheet"})
		}
		ev, err = svc.Evals.Get(ctx, sheet.EvaluationID)
		return sheet, ev, false, err
	}

	if sub.EvaluationID == "" {
		return Sheet{}, evaluation.Evaluation{}, false, core.NewValidationError(errMissingEvaluation,
			core.FieldError{Field: "evaluationId", Error: "this field is required"})
	}
	if ev, err = svc.Evals.Get(ctx, sub.EvaluationID); err != nil {
		return Sheet{}, evaluation.Evaluation{}, false, err
	}
	if ev.IsDraft() {
		return Sheet{}, evaluation.Evaluation{}, false, evaluation.ErrUnavailable
	}
	fresh := svc.newSheet(ev.ID, matricule, sub.ClientStartTime)
	err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		sheet, err = svc.Repo.GetOrCreateSheet(ctx, fresh, exec)
		return errors.Wrap(err, "getting or creating response sheet")
	})
	return sheet, ev, err == nil && sheet.ID == fresh.ID, err
}

// submittedAt trusts the device clock as long as it lies between floor and now.
func submittedAt(floor time.Time, reported *time.Time, now time.Time) time.Time {
	if reported == nil || reported.After(now) || reported.Before(floor) {
		return now
	}
	return reported.UTC()
}

// toAnswers checks the whole batch against the evaluation's questions; any bad answer rejects all of them.
func (svc *Service) toAnswers(sheetID string, inputs []AnswerInput, qs []question.Weighted) ([]Answer, error) {
	byID := make(map[string]question.Weighted, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}

	now := svc.now()
	var flds []core.FieldError
	seen := make(map[string]int, len(inputs))
	answers := make([]Answer, 0, len(inputs))
	for i, in := range inputs {
		if in.QuestionID == "" {
			flds = append(flds, core.FieldError{Field: answerField(i, "questionId"), Error: "this field is required"})
			continue
		}
		q, ok := byID[in.QuestionID]
		if !ok {
			flds = append(flds, core.FieldError{Field: answerField(i, "questionId"), Error: "question is not part of this evaluation"})
			continue
		}
		if in.Type != q.Kind {
			flds = append(flds, core.FieldError{Field: answerField(i, "type"), Error: "does not match the question kind"})
			continue
		}
		resp := in.Response()
		if c, ok := resp.(Closed); ok && c.SelectedOption != "" && !q.HasChoice(c.SelectedOption) {
			flds = append(flds, core.FieldError{Field: answerField(i, "selectedOption"), Error: "unknown choice"})
			continue
		}

		a := Answer{SheetID: sheetID, QuestionID: in.QuestionID, Response: resp, UpdatedAt: now}
		if j, dup := seen[in.QuestionID]; dup { // last one wins
			answers[j] = a
			continue
		}
		seen[in.QuestionID] = len(answers)
		answers = append(answers, a)
	}
	if len(flds) > 0 {
		return nil, core.NewValidationError(errInvalidAnswers, flds...)
	}
	return answers, nil
}

// Regrade recomputes every answer score and the sheet total.
func (svc *Service) Regrade(ctx context.Context, sheetID string) (Sheet, error) {
	sheet, err := svc.Repo.GetSheet(ctx, sheetID)
	if err != nil {
		return Sheet{}, err
	}
	if !sheet.IsSubmitted() {
		return Sheet{}, ErrNotSubmitted
	}
	qs, err := svc.Questions.ForEvaluation(ctx, sheet.EvaluationID)
	if err != nil {
		return Sheet{}, err
	}
	return svc.grade(ctx, sheet, qs)
}

// Finalize submits and grades the sheets of evaluationID still in progress, with the answers saved so far.
func (svc *Service) Finalize(ctx context.Context, evaluationID string) (int, error) {
	sheets, err := svc.Repo.QuerySheets(ctx, SheetFilter{EvaluationID: evaluationID, Statuses: []Status{StatusInProgress}})
	if err != nil {
		return 0, errors.Wrap(err, "querying sheets in progress")
	}
	qs, err := svc.Questions.ForEvaluation(ctx, evaluationID)
	if err != nil {
		return 0, err
	}

	var n int
	for _, s := range sheets {
		var sheet Sheet
		var answerCount int
		err = svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
			if sheet, err = svc.Repo.LockSheet(ctx, s.ID, exec); err != nil {
				return err
			}
			if sheet.IsSubmitted() {
				return ErrAlreadySubmitted
			}
			answers, aErr := svc.Repo.GetAnswers(ctx, s.ID, exec)
			if aErr != nil {
				return errors.Wrap(aErr, "getting answers")
			}
			answerCount = len(answers)
			now := svc.now()
			sheet.SubmittedAt = null.TimeFrom(now)
			sheet.ServerSubmitTime = null.TimeFrom(now)
			sheet.Status = StatusSubmitted
			sheet.UpdatedAt = now
			sheet, err = svc.Repo.UpdateSheet(ctx, sheet, exec)
			return err
		})
		if err != nil {
			if errors.Cause(err) != ErrAlreadySubmitted {
				svc.Logger.Error(fmt.Sprintf("finalizing sheet %s: %v", s.ID, err), err)
			}
			continue
		}
		svc.audit(ctx, sheet, answerCount, false)
		if _, err = svc.grade(ctx, sheet, qs); err != nil {
			svc.Logger.Error(fmt.Sprintf("grading sheet %s: %v", s.ID, err), err)
		}
		n++
	}
	return n, nil
}

// grade scores every answer of a submitted sheet and overwrites its total.
// The returned sheet is never empty: when storing fails it is the submitted sheet as given.
func (svc *Service) grade(ctx context.Context, sheet Sheet, qs []question.Weighted) (Sheet, error) {
	answers, err := svc.Repo.GetAnswers(ctx, sheet.ID)
	if err != nil {
		return sheet, errors.Wrap(err, "getting answers")
	}
	byID := make(map[string]question.Weighted, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}

	items := make([]grading.Item, 0, len(answers))
	graded := make([]Answer, 0, len(answers))
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok { // detached after the answer was saved
			continue
		}
		items = append(items, grading.Item{
			QuestionID:      q.ID,
			Kind:            q.Kind,
			QuestionText:    q.Text,
			ReferenceAnswer: q.ReferenceAnswer,
			Weight:          q.Weight,
			CorrectChoices:  q.CorrectChoices(),
			SelectedOption:  a.SelectedOption(),
			Text:            a.Text(),
		})
		graded = append(graded, a)
	}

	results := svc.Grader.Grade(ctx, items)
	failed := make([]string, 0)
	for i, res := range results {
		a := graded[i]
		if res.Failed() {
			a.Score, a.Feedback, a.Confidence, a.GradingSource = null.Float64{}, null.String{}, null.Float64{}, null.String{}
		} else {
			a.Score = null.Float64From(res.Score)
			if a.Response.Kind() == question.KindOpen {
				a.Feedback = null.StringFrom(res.Feedback)
				a.Confidence = null.Float64From(res.Confidence)
				a.GradingSource = null.StringFrom(res.Source)
			}
		}
		if err := svc.Repo.GradeAnswer(ctx, a); err != nil {
			svc.Logger.Error(fmt.Sprintf("storing grade of %s/%s: %v", sheet.ID, a.QuestionID, err), err)
			results[i].Err = err
		}
		if results[i].Failed() {
			failed = append(failed, a.QuestionID)
		}
		graded[i] = a
	}

	total, _ := grading.Total(results)
	sheet.Score = null.Float64From(total)
	sheet.GradingStatus = GradingGraded
	if len(failed) > 0 {
		sheet.GradingStatus = GradingPartial
	}
	sheet.UpdatedAt = svc.now()
	sheet.Answers = graded
	stored, err := svc.Repo.UpdateSheet(ctx, sheet)
	if err != nil {
		return sheet, errors.Wrap(err, "storing sheet score")
	}
	stored.Answers = graded
	sheet = stored

	if len(failed) > 0 && svc.Alerter != nil {
		svc.Alerter.PartiallyGraded(ctx, grading.PartialReport{
			SheetID:      sheet.ID,
			EvaluationID: sheet.EvaluationID,
			Matricule:    sheet.Matricule,
			Score:        total,
			Failed:       failed,
		})
	}
	return sheet, nil
}

func (svc *Service) lock(ctx context.Context, key string) (func(), error) {
	if svc.Locker == nil {
		return func() {}, nil
	}
	release, err := svc.Locker.Acquire(ctx, key, lockTTL)
	if err != nil {
		if errors.Cause(err) == core.ErrLocked {
			return nil, ErrSubmissionInFlight
		}
		return nil, errors.Wrap(err, "acquiring submission lock")
	}
	return release, nil
}

func (svc *Service) audit(ctx context.Context, sheet Sheet, answerCount int, duplicate bool) {
	if svc.Audit == nil {
		return
	}
	rec := core.SubmissionRecord{
		AttemptLocalID:  sheet.AttemptLocalID.String,
		ResponseSheetID: sheet.ID,
		Matricule:       sheet.Matricule,
		EvaluationID:    sheet.EvaluationID,
		AnswerCount:     answerCount,
		Offline:         sheet.IsOfflineSubmission,
		Duplicate:       duplicate,
		SubmittedAt:     sheet.SubmittedAt.Time,
		ReceivedAt:      svc.now(),
	}
	if err := svc.Audit.Append(ctx, rec); err != nil {
		svc.Logger.Error(fmt.Sprintf("appending audit record for %s: %v", sheet.ID, err), err)
	}
}
