package question_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	. "github.com/trezcool/mtihani/core/question"
	testutil "github.com/trezcool/mtihani/tests"
)

func TestNewQuestion_Validate(t *testing.T) {
	validate, _ := testutil.NewValidator()

	tests := []struct {
		name    string
		nq      NewQuestion
		wantErr bool
	}{
		{name: "closed", nq: NewQuestion{Text: " 1+1? ", Kind: KindClosed, Choices: []NewChoice{{Text: "2", IsCorrect: true}, {Text: "3"}}}},
		{name: "open", nq: NewQuestion{Text: "Explain.", Kind: KindOpen}},
		{name: "blank text", nq: NewQuestion{Text: "  ", Kind: KindOpen}, wantErr: true},
		{name: "unknown kind", nq: NewQuestion{Text: "?", Kind: "essay"}, wantErr: true},
		{name: "closed with one choice", nq: NewQuestion{Text: "?", Kind: KindClosed, Choices: []NewChoice{{Text: "a"}}}, wantErr: true},
		{name: "open with choices", nq: NewQuestion{Text: "?", Kind: KindOpen, Choices: []NewChoice{{Text: "a"}, {Text: "b"}}}, wantErr: true},
		{name: "blank choice", nq: NewQuestion{Text: "?", Kind: KindClosed, Choices: []NewChoice{{Text: "a"}, {Text: " "}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.nq.Validate(validate)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_Attach(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	midterm := env.CreateEvaluation(t, "MA201", evaluation.TypeMidterm, core.NewClockTime(9, 0), core.NewClockTime(10, 0))
	final := env.CreateEvaluation(t, "MA201", evaluation.TypeFinal, core.NewClockTime(14, 0), core.NewClockTime(16, 0))
	q := env.CreateClosed(t, "2+2?", 0, "4", "5")

	// one bank question, two weights
	env.Attach(t, midterm.ID, q, 2)
	env.Attach(t, final.ID, q, 10)

	mqs, err := env.Questions.ForEvaluation(ctx, midterm.ID)
	require.NoError(t, err)
	require.Len(t, mqs, 1)
	assert.Equal(t, 2.0, mqs[0].Weight)

	fqs, err := env.Questions.ForEvaluation(ctx, final.ID)
	require.NoError(t, err)
	require.Len(t, fqs, 1)
	assert.Equal(t, 10.0, fqs[0].Weight)
	assert.Equal(t, q.ID, fqs[0].ID)

	t.Run("reattach changes the weight", func(t *testing.T) {
		env.Attach(t, midterm.ID, q, 3)
		qs, err := env.Questions.ForEvaluation(ctx, midterm.ID)
		require.NoError(t, err)
		require.Len(t, qs, 1)
		assert.Equal(t, 3.0, qs[0].Weight)
	})

	t.Run("unknown question", func(t *testing.T) {
		err := env.Questions.Attach(ctx, midterm.ID, Attachment{QuestionID: "nope", Weight: 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("published evaluation is frozen", func(t *testing.T) {
		env.Publish(t, final.ID)
		other := env.CreateOpen(t, "Why?", "")
		assert.ErrorIs(t, env.Questions.Attach(ctx, final.ID, Attachment{QuestionID: other.ID, Weight: 1}), evaluation.ErrPublished)
		assert.ErrorIs(t, env.Questions.Detach(ctx, final.ID, q.ID), evaluation.ErrPublished)
	})

	t.Run("detach", func(t *testing.T) {
		require.NoError(t, env.Questions.Detach(ctx, midterm.ID, q.ID))
		qs, err := env.Questions.ForEvaluation(ctx, midterm.ID)
		require.NoError(t, err)
		assert.Empty(t, qs)
		assert.ErrorIs(t, env.Questions.Detach(ctx, midterm.ID, q.ID), ErrNotFound)

		// the bank question survives
		_, err = env.Questions.Get(ctx, q.ID)
		assert.NoError(t, err)
	})
}

func TestService_Paper(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	fx := env.NewFixture(t, "PH101")

	paper, err := env.Questions.Paper(ctx, fx.Evaluation)
	require.NoError(t, err)
	require.Len(t, paper.Questions, 2)
	for _, sq := range paper.Questions {
		for _, c := range sq.Choices {
			assert.Nil(t, c.IsCorrect, "correct choices are hidden until completion")
		}
	}

	completed, err := env.Evals.Complete(ctx, fx.Evaluation.ID)
	require.NoError(t, err)
	paper, err = env.Questions.Paper(ctx, completed)
	require.NoError(t, err)

	var revealed int
	for _, sq := range paper.Questions {
		if sq.ID != fx.Closed.ID {
			continue
		}
		assert.Equal(t, 5.0, sq.Points)
		for _, c := range sq.Choices {
			require.NotNil(t, c.IsCorrect)
			if *c.IsCorrect {
				revealed++
				assert.Equal(t, fx.Choice("B"), c.ID)
			}
		}
	}
	assert.Equal(t, 1, revealed)
}

func TestQuestion_CorrectChoices(t *testing.T) {
	q := Question{Choices: []Choice{{ID: "a"}, {ID: "b", IsCorrect: true}, {ID: "c", IsCorrect: true}}}
	assert.Equal(t, []string{"b", "c"}, q.CorrectChoices())
	assert.True(t, q.HasChoice("a"))
	assert.False(t, q.HasChoice("z"))
}
