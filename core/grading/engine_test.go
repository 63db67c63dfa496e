package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
)

type scorerFunc func(ctx context.Context, req ScoreRequest) (Score, error)

func (f scorerFunc) Score(ctx context.Context, req ScoreRequest) (Score, error) { return f(ctx, req) }

func TestEngine_GradeClosed(t *testing.T) {
	engine := NewEngine(nil, 1, core.NopLogger{})

	tests := []struct {
		name     string
		correct  []string
		selected string
		want     float64
	}{
		{name: "correct", correct: []string{"b"}, selected: "b", want: 4},
		{name: "wrong", correct: []string{"b"}, selected: "a", want: 0},
		{name: "no answer", correct: []string{"b"}, selected: "", want: 0},
		{name: "any of several correct", correct: []string{"b", "c"}, selected: "c", want: 4},
		{name: "no correct choice", correct: nil, selected: "a", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.Grade(context.Background(), []Item{{
				QuestionID:     "q",
				Kind:           question.KindClosed,
				Weight:         4,
				CorrectChoices: tt.correct,
				SelectedOption: tt.selected,
			}})
			require.Len(t, res, 1)
			assert.NoError(t, res[0].Err)
			assert.Equal(t, tt.want, res[0].Score)
		})
	}
}

func TestEngine_GradeOpen(t *testing.T) {
	scorer := scorerFunc(func(_ context.Context, req ScoreRequest) (Score, error) {
		switch req.StudentAnswer {
		case "boom":
			panic("boom")
		case "down":
			return Score{}, errors.New("scorer down")
		}
		return Score{Score: req.MaxScore / 2, Feedback: "half right", Confidence: 0.7, Source: SourceAutomated}, nil
	})
	engine := NewEngine(scorer, 2, core.NopLogger{})

	items := []Item{
		{QuestionID: "ok", Kind: question.KindOpen, Weight: 6, Text: "an answer"},
		{QuestionID: "panics", Kind: question.KindOpen, Weight: 6, Text: "boom"},
		{QuestionID: "fails", Kind: question.KindOpen, Weight: 6, Text: "down"},
		{QuestionID: "blank", Kind: question.KindOpen, Weight: 6, Text: "   "},
		{QuestionID: "closed", Kind: question.KindClosed, Weight: 2, CorrectChoices: []string{"x"}, SelectedOption: "x"},
	}
	res := engine.Grade(context.Background(), items)
	require.Len(t, res, len(items))

	assert.Equal(t, "ok", res[0].QuestionID)
	assert.Equal(t, 3.0, res[0].Score)
	assert.Equal(t, "half right", res[0].Feedback)
	assert.Equal(t, 0.7, res[0].Confidence)
	assert.True(t, res[1].Failed())
	assert.True(t, res[2].Failed())
	assert.False(t, res[3].Failed())
	assert.Equal(t, 0.0, res[3].Score)
	assert.Equal(t, 2.0, res[4].Score)

	total, failed := Total(res)
	assert.Equal(t, 5.0, total)
	assert.Equal(t, 2, failed)
}

func TestEngine_WorkerLimit(t *testing.T) {
	var running, peak int32
	scorer := scorerFunc(func(_ context.Context, req ScoreRequest) (Score, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return Score{Score: 1}, nil
	})
	engine := NewEngine(scorer, 2, core.NopLogger{})

	items := make([]Item, 8)
	for i := range items {
		items[i] = Item{QuestionID: strings.Repeat("q", i+1), Kind: question.KindOpen, Weight: 1, Text: "text"}
	}
	res := engine.Grade(context.Background(), items)
	total, failed := Total(res)
	assert.Equal(t, 8.0, total)
	assert.Zero(t, failed)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestEngine_NoScorer(t *testing.T) {
	engine := NewEngine(nil, 1, core.NopLogger{})
	res := engine.Grade(context.Background(), []Item{{QuestionID: "q", Kind: question.KindOpen, Weight: 1, Text: "hi"}})
	assert.ErrorIs(t, res[0].Err, errNoScorer)
}

type mailRecorder struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailRecorder) SendMessages(msgs ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msgs...)
}

func TestMailAlerter(t *testing.T) {
	report := PartialReport{SheetID: "s1", EvaluationID: "e1", Matricule: "ST001", Score: 4, Failed: []string{"q2"}}

	t.Run("no reviewers", func(t *testing.T) {
		mailer := &mailRecorder{}
		NewMailAlerter(mailer, nil).PartiallyGraded(context.Background(), report)
		assert.Empty(t, mailer.sent)
	})

	t.Run("reviewers", func(t *testing.T) {
		mailer := &mailRecorder{}
		NewMailAlerter(mailer, []string{"Reviewer <reviewer@uni.test>"}).PartiallyGraded(context.Background(), report)
		require.Len(t, mailer.sent, 1)
		msg := mailer.sent[0]
		assert.Equal(t, "Manual grading needed", msg.Subject)
		require.Len(t, msg.To, 1)
		assert.Equal(t, "reviewer@uni.test", msg.To[0].Address)

		var body strings.Builder
		require.NoError(t, msg.Template.Execute(&body, msg.Data))
		assert.Contains(t, body.String(), "question q2")
		assert.Contains(t, body.String(), "4.00")
	})
}
