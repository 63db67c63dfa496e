package response_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	. "github.com/trezcool/mtihani/core/response"
	testutil "github.com/trezcool/mtihani/tests"
)

const student = "ST2026/001"

func start(t *testing.T, env *testutil.Env, fx testutil.Fixture, matricule string) StartResult {
	t.Helper()
	res, err := env.Responses.Start(context.Background(), fx.Evaluation.ID, matricule, StartRequest{})
	require.NoError(t, err)
	return res
}

func TestService_Start(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS201")

	t.Run("before window", func(t *testing.T) {
		_, err := env.Responses.Start(ctx, fx.Evaluation.ID, student, StartRequest{})
		assert.ErrorIs(t, err, evaluation.ErrUnavailable)
	})

	env.Clock.Set(testutil.At(9, 15))
	first := start(t, env, fx, student)
	assert.NotEmpty(t, first.ResponseSheetID)
	assert.Equal(t, StatusInProgress, first.Sheet.Status)
	assert.Equal(t, testutil.At(10, 0), first.EndsAt)
	assert.Equal(t, int64(3600), first.DurationSeconds)
	require.Len(t, first.Questions, 2)
	for _, q := range first.Questions {
		for _, c := range q.Choices {
			assert.Nil(t, c.IsCorrect)
		}
	}

	t.Run("restart returns the same sheet", func(t *testing.T) {
		env.Clock.Set(testutil.At(9, 20))
		again := start(t, env, fx, student)
		assert.Equal(t, first.ResponseSheetID, again.ResponseSheetID)
		assert.Equal(t, testutil.At(9, 15), again.Sheet.ServerStartTime)
	})

	t.Run("concurrent starts share one sheet", func(t *testing.T) {
		const n = 10
		ids := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := env.Responses.Start(ctx, fx.Evaluation.ID, "ST2026/777", StartRequest{})
				if err == nil {
					ids[i] = res.ResponseSheetID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
		sheets, err := env.Responses.ForEvaluation(ctx, fx.Evaluation.ID)
		require.NoError(t, err)
		assert.Len(t, sheets, 2)
	})

	t.Run("after window", func(t *testing.T) {
		env.Clock.Set(testutil.At(10, 1))
		_, err := env.Responses.Start(ctx, fx.Evaluation.ID, "ST2026/002", StartRequest{})
		assert.ErrorIs(t, err, evaluation.ErrExpired)
	})

	t.Run("unknown evaluation", func(t *testing.T) {
		_, err := env.Responses.Start(ctx, "nope", student, StartRequest{})
		assert.ErrorIs(t, err, evaluation.ErrNotFound)
	})
}

func TestService_SubmitAnswers(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS202")
	env.Clock.Set(testutil.At(9, 5))
	sheetID := start(t, env, fx, student).ResponseSheetID

	require.NoError(t, env.Responses.SaveAnswers(ctx, sheetID, student, []AnswerInput{
		ClosedInput(fx.Closed.ID, fx.Choice("A")),
	}))

	t.Run("other student", func(t *testing.T) {
		err := env.Responses.SaveAnswers(ctx, sheetID, "ST2026/999", []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("B"))})
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = env.Responses.Get(ctx, sheetID, "ST2026/999")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("invalid answers reject the batch", func(t *testing.T) {
		tests := []struct {
			name  string
			input AnswerInput
			field string
		}{
			{name: "unknown question", input: ClosedInput("nope", fx.Choice("B")), field: "answers[1].questionId"},
			{name: "kind mismatch", input: OpenInput(fx.Closed.ID, "B"), field: "answers[1].type"},
			{name: "unknown choice", input: ClosedInput(fx.Closed.ID, "nope"), field: "answers[1].selectedOption"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := env.Responses.SaveAnswers(ctx, sheetID, student, []AnswerInput{
					OpenInput(fx.Open.ID, "ignored"),
					tt.input,
				})
				var verr *core.ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				require.Len(t, verr.Fields, 1)
				assert.Equal(t, tt.field, verr.Fields[0].Field)
			})
		}
		sheet, err := env.Responses.Get(ctx, sheetID, student)
		require.NoError(t, err)
		assert.Len(t, sheet.Answers, 1)
	})

	env.Clock.Set(testutil.At(9, 40))
	sheet, err := env.Responses.SubmitAnswers(ctx, sheetID, student, []AnswerInput{
		ClosedInput(fx.Closed.ID, fx.Choice("B")),
		OpenInput(fx.Open.ID, "mass attracts mass"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, sheet.Status)
	assert.Equal(t, testutil.At(9, 40), sheet.SubmittedAt.Time)
	assert.Equal(t, GradingGraded, sheet.GradingStatus)
	assert.Equal(t, 8.0, sheet.Score.Float64) // 5 closed + 3 words
	require.Len(t, env.Audit.All(), 1)
	assert.False(t, env.Audit.All()[0].Offline)

	t.Run("submitted sheets are frozen", func(t *testing.T) {
		env.Clock.Set(testutil.At(9, 45))
		err := env.Responses.SaveAnswers(ctx, sheetID, student, []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("C"))})
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
		_, err = env.Responses.SubmitAnswers(ctx, sheetID, student, nil)
		assert.ErrorIs(t, err, ErrAlreadySubmitted)

		got, err := env.Responses.Get(ctx, sheetID, student)
		require.NoError(t, err)
		assert.Equal(t, testutil.At(9, 40), got.SubmittedAt.Time)
		assert.Equal(t, 8.0, got.Score.Float64)
		for _, a := range got.Answers {
			if a.QuestionID == fx.Closed.ID {
				assert.Equal(t, fx.Choice("B"), a.SelectedOption())
				assert.Equal(t, 5.0, a.Score.Float64)
			}
		}
	})

	t.Run("regrade", func(t *testing.T) {
		calls := env.Scorer.CallCount()
		got, err := env.Responses.Regrade(ctx, sheetID)
		require.NoError(t, err)
		assert.Equal(t, 8.0, got.Score.Float64)
		assert.Equal(t, calls+1, env.Scorer.CallCount())
	})
}

func TestService_AnswerWindow(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS203")
	env.Clock.Set(testutil.At(9, 55))
	sheetID := start(t, env, fx, student).ResponseSheetID

	env.Clock.Set(testutil.At(10, 1)) // within grace
	require.NoError(t, env.Responses.SaveAnswers(ctx, sheetID, student, []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("B"))}))

	env.Clock.Set(testutil.At(10, 3))
	_, err := env.Responses.SubmitAnswers(ctx, sheetID, student, nil)
	assert.ErrorIs(t, err, evaluation.ErrExpired)
}

func TestService_PartialGrading(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS204")
	env.Clock.Set(testutil.At(9, 5))
	sheetID := start(t, env, fx, student).ResponseSheetID

	sheet, err := env.Responses.SubmitAnswers(ctx, sheetID, student, []AnswerInput{
		ClosedInput(fx.Closed.ID, fx.Choice("B")),
		OpenInput(fx.Open.ID, "this will fail"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, sheet.Status)
	assert.Equal(t, GradingPartial, sheet.GradingStatus)
	assert.Equal(t, 5.0, sheet.Score.Float64)
	for _, a := range sheet.Answers {
		if a.QuestionID == fx.Open.ID {
			assert.False(t, a.Score.Valid)
		}
	}

	require.Len(t, env.Alerts.Reports, 1)
	report := env.Alerts.Reports[0]
	assert.Equal(t, sheetID, report.SheetID)
	assert.Equal(t, []string{fx.Open.ID}, report.Failed)
}

func TestService_SubmitOffline(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS205")

	clientStart := testutil.At(9, 2)
	reported := testutil.At(9, 30)
	sub := OfflineSubmission{
		EvaluationID:        fx.Evaluation.ID,
		AttemptLocalID:      "attempt-1",
		ClientStartTime:     &clientStart,
		SubmittedAt:         &reported,
		IsOfflineSubmission: true,
		Answers: []AnswerInput{
			ClosedInput(fx.Closed.ID, fx.Choice("B")),
			OpenInput(fx.Open.ID, "mass attracts"),
		},
	}

	env.Clock.Set(testutil.At(10, 30)) // window over, evaluation still published
	receipt, err := env.Responses.SubmitOffline(ctx, NewSheetRef, student, sub)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.False(t, receipt.Duplicate)

	sheet, err := env.Responses.Get(ctx, receipt.ResponseSheetID, student)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, sheet.Status)
	assert.True(t, sheet.IsOfflineSubmission)
	assert.Equal(t, "attempt-1", sheet.AttemptLocalID.String)
	assert.Equal(t, testutil.At(10, 30), sheet.SyncedAt.Time)
	assert.Equal(t, reported, sheet.SubmittedAt.Time, "device time within the window is kept")
	assert.Equal(t, reported, receipt.SubmittedAt)
	assert.Equal(t, 7.0, sheet.Score.Float64)

	t.Run("replay is acknowledged without writing", func(t *testing.T) {
		env.Clock.Set(testutil.At(10, 45))
		replay := sub
		replay.Answers = []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("A"))}
		again, err := env.Responses.SubmitOffline(ctx, NewSheetRef, student, replay)
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, receipt.ResponseSheetID, again.ResponseSheetID)
		assert.Equal(t, receipt.SubmittedAt, again.SubmittedAt)

		got, err := env.Responses.Get(ctx, receipt.ResponseSheetID, student)
		require.NoError(t, err)
		assert.Equal(t, 7.0, got.Score.Float64)

		records := env.Audit.All()
		require.Len(t, records, 2)
		assert.False(t, records[0].Duplicate)
		assert.True(t, records[1].Duplicate)
	})

	t.Run("replay by another student", func(t *testing.T) {
		_, err := env.Responses.SubmitOffline(ctx, NewSheetRef, "ST2026/999", sub)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("new attempt on a submitted sheet", func(t *testing.T) {
		other := sub
		other.AttemptLocalID = "attempt-2"
		rec, err := env.Responses.SubmitOffline(ctx, receipt.ResponseSheetID, student, other)
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
		assert.Equal(t, receipt.ResponseSheetID, rec.ResponseSheetID)
	})

	t.Run("completed evaluation still accepts", func(t *testing.T) {
		_, err := env.Evals.Complete(ctx, fx.Evaluation.ID)
		require.NoError(t, err)
		late := sub
		late.AttemptLocalID = "attempt-3"
		rec, err := env.Responses.SubmitOffline(ctx, NewSheetRef, "ST2026/003", late)
		require.NoError(t, err)
		assert.NotEqual(t, receipt.ResponseSheetID, rec.ResponseSheetID)
	})
}

func TestService_SubmitOfflineRejects(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	draft := env.CreateEvaluation(t, "CS206", evaluation.TypeQuiz, core.NewClockTime(9, 0), core.NewClockTime(10, 0))

	_, err := env.Responses.SubmitOffline(ctx, NewSheetRef, student, OfflineSubmission{EvaluationID: draft.ID, AttemptLocalID: "a"})
	assert.ErrorIs(t, err, evaluation.ErrUnavailable)

	_, err = env.Responses.SubmitOffline(ctx, NewSheetRef, student, OfflineSubmission{AttemptLocalID: "b"})
	var verr *core.ValidationError
	assert.True(t, errors.As(err, &verr))

	release, err := env.Locker.Acquire(ctx, "attempt:c", time.Minute)
	require.NoError(t, err)
	defer release()
	_, err = env.Responses.SubmitOffline(ctx, NewSheetRef, student, OfflineSubmission{EvaluationID: draft.ID, AttemptLocalID: "c"})
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
}

func TestService_SubmittedAtClamp(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS207")

	tests := []struct {
		name     string
		reported *time.Time
		want     time.Time
	}{
		{name: "missing", reported: nil, want: testutil.At(9, 50)},
		{name: "within attempt", reported: timePtr(testutil.At(9, 30)), want: testutil.At(9, 30)},
		{name: "before server start", reported: timePtr(testutil.At(8, 0)), want: testutil.At(9, 50)},
		{name: "in the future", reported: timePtr(testutil.At(11, 0)), want: testutil.At(9, 50)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matricule := "ST2026/10" + string(rune('0'+i))
			env.Clock.Set(testutil.At(9, 10))
			sheetID := start(t, env, fx, matricule).ResponseSheetID

			env.Clock.Set(testutil.At(9, 50))
			rec, err := env.Responses.SubmitOffline(ctx, sheetID, matricule, OfflineSubmission{
				AttemptLocalID: "clamp-" + tt.name,
				SubmittedAt:    tt.reported,
				Answers:        []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("B"))},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.SubmittedAt)
		})
	}
}

func TestService_Finalize(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS208")

	env.Clock.Set(testutil.At(9, 10))
	pending := start(t, env, fx, student).ResponseSheetID
	require.NoError(t, env.Responses.SaveAnswers(ctx, pending, student, []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("B"))}))
	done := start(t, env, fx, "ST2026/002").ResponseSheetID
	_, err := env.Responses.SubmitAnswers(ctx, done, "ST2026/002", nil)
	require.NoError(t, err)

	env.Clock.Set(testutil.At(10, 5))
	n, err := env.Responses.Finalize(ctx, fx.Evaluation.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sheet, err := env.Responses.Get(ctx, pending, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, sheet.Status)
	assert.Equal(t, testutil.At(10, 5), sheet.SubmittedAt.Time)
	assert.Equal(t, 5.0, sheet.Score.Float64)

	n, err = env.Responses.Finalize(ctx, fx.Evaluation.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_RegradeUnsubmitted(t *testing.T) {
	env := testutil.NewEnv(t)
	fx := env.NewFixture(t, "CS209")
	env.Clock.Set(testutil.At(9, 10))
	sheetID := start(t, env, fx, student).ResponseSheetID

	_, err := env.Responses.Regrade(context.Background(), sheetID)
	assert.ErrorIs(t, err, ErrNotSubmitted)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestService_WeightPerEvaluation(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	q := env.CreateClosed(t, "Pick B", 1, "A", "B", "C")
	var correct string
	for _, c := range q.Choices {
		if c.Text == "B" {
			correct = c.ID
		}
	}

	tests := []struct {
		course string
		weight float64
	}{
		{course: "CS213", weight: 2},
		{course: "CS214", weight: 4},
	}
	evs := make([]evaluation.Evaluation, len(tests))
	for i, tt := range tests {
		ev := env.CreateEvaluation(t, tt.course, evaluation.TypeQuiz, core.NewClockTime(9, 0), core.NewClockTime(10, 0))
		env.Attach(t, ev.ID, q, tt.weight)
		evs[i] = env.Publish(t, ev.ID)
	}

	env.Clock.Set(testutil.At(9, 10))
	for i, tt := range tests {
		t.Run(tt.course, func(t *testing.T) {
			res, err := env.Responses.Start(ctx, evs[i].ID, student, StartRequest{})
			require.NoError(t, err)
			sheet, err := env.Responses.SubmitAnswers(ctx, res.ResponseSheetID, student, []AnswerInput{
				ClosedInput(q.ID, correct),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.weight, sheet.Score.Float64)
		})
	}
}

func TestService_SaveWhileSubmitting(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "CS215")
	env.Clock.Set(testutil.At(9, 10))
	sheetID := start(t, env, fx, student).ResponseSheetID

	release, err := env.Locker.Acquire(ctx, "sheet:"+sheetID, time.Minute) // a submit in progress
	require.NoError(t, err)
	err = env.Responses.SaveAnswers(ctx, sheetID, student, []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("B"))})
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	release()

	assert.NoError(t, env.Responses.SaveAnswers(ctx, sheetID, student, []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("B"))}))
}

// unstoredScores fails to store a sheet once it has been graded.
type unstoredScores struct {
	Repository
}

func (r unstoredScores) UpdateSheet(ctx context.Context, sheet Sheet, exec ...core.DBExecutor) (Sheet, error) {
	if sheet.GradingStatus != GradingPending {
		return Sheet{}, errors.New("disk full")
	}
	return r.Repository.UpdateSheet(ctx, sheet, exec...)
}

func TestService_ScoreNotStored(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WrapResponseRepo(func(repo Repository) Repository {
		return unstoredScores{repo}
	}))
	ctx := context.Background()
	fx := env.NewFixture(t, "CS216")

	t.Run("offline receipt names the submitted sheet", func(t *testing.T) {
		env.Clock.Set(testutil.At(9, 30))
		reported := testutil.At(9, 20)
		receipt, err := env.Responses.SubmitOffline(ctx, NewSheetRef, student, OfflineSubmission{
			EvaluationID:        fx.Evaluation.ID,
			AttemptLocalID:      "attempt-unstored",
			SubmittedAt:         &reported,
			IsOfflineSubmission: true,
			Answers:             []AnswerInput{ClosedInput(fx.Closed.ID, fx.Choice("B"))},
		})
		require.NoError(t, err)
		assert.True(t, receipt.Success)
		require.NotEmpty(t, receipt.ResponseSheetID)
		assert.Equal(t, reported, receipt.SubmittedAt)

		sheet, err := env.Responses.Get(ctx, receipt.ResponseSheetID, student)
		require.NoError(t, err)
		assert.Equal(t, StatusSubmitted, sheet.Status)
		assert.Equal(t, GradingPending, sheet.GradingStatus)
		assert.False(t, sheet.Score.Valid)
	})

	t.Run("finalize audits the saved answers", func(t *testing.T) {
		env.Clock.Set(testutil.At(9, 40))
		sheetID := start(t, env, fx, "ST2026/002").ResponseSheetID
		require.NoError(t, env.Responses.SaveAnswers(ctx, sheetID, "ST2026/002", []AnswerInput{
			ClosedInput(fx.Closed.ID, fx.Choice("B")),
			OpenInput(fx.Open.ID, "mass"),
		}))

		env.Clock.Set(testutil.At(10, 5))
		n, err := env.Responses.Finalize(ctx, fx.Evaluation.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		var found bool
		for _, rec := range env.Audit.All() {
			if rec.ResponseSheetID == sheetID {
				found = true
				assert.Equal(t, 2, rec.AnswerCount)
			}
		}
		assert.True(t, found)
	})
}
