package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
)

// Grading sources
const (
	SourceAutomated = "automated"
	SourceHuman     = "human-reviewed"
)

var errNoScorer = errors.New("no scorer configured for open questions")

type (
	// ScoreRequest is what the open-answer scorer is asked to grade.
	ScoreRequest struct {
		QuestionText  string  `json:"questionText"`
		StudentAnswer string  `json:"studentAnswer"`
		MaxScore      float64 `json:"maxScore"`
		// ReferenceAnswer is optional; remote scorers may ignore it.
		ReferenceAnswer string `json:"referenceAnswer,omitempty"`
	}

	Score struct {
		Score      float64 `json:"score"`
		Feedback   string  `json:"feedback"`
		Confidence float64 `json:"confidence"`
		Source     string  `json:"source"`
	}

	// Scorer grades open answers. It is trusted to return a score within [0, MaxScore].
	Scorer interface {
		Score(ctx context.Context, req ScoreRequest) (Score, error)
	}

	// Item is one answer to grade along with what is needed to grade it.
	Item struct {
		QuestionID      string
		Kind            question.Kind
		QuestionText    string
		ReferenceAnswer string
		Weight          float64
		CorrectChoices  []string
		SelectedOption  string
		Text            string
	}

	Result struct {
		QuestionID string
		Score      float64
		// open questions only
		Feedback   string
		Confidence float64
		Source     string
		Err        error
	}
)

func (r Result) Failed() bool { return r.Err != nil }

type Engine struct {
	scorer  Scorer
	workers int
	logger  core.Logger
}

// NewEngine returns an Engine scoring up to `workers` open answers at once. scorer may be nil when only closed
// questions are graded.
func NewEngine(scorer Scorer, workers int, logger core.Logger) *Engine {
	vala.BeginValidation().Validate(
		core.NotNil(logger, "logger"),
		vala.GreaterThan(workers, 0, "workers"),
	).CheckAndPanic()

	return &Engine{scorer: scorer, workers: workers, logger: logger}
}

// Grade scores every item. A failure grading one item never affects the others.
func (e *Engine) Grade(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range items {
		i := i
		if items[i].Kind == question.KindClosed {
			results[i] = gradeClosed(items[i])
			continue
		}
		g.Go(func() error {
			results[i] = e.gradeOpen(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func gradeClosed(it Item) Result {
	res := Result{QuestionID: it.QuestionID}
	if it.SelectedOption == "" {
		return res
	}
	for _, id := range it.CorrectChoices {
		if id == it.SelectedOption {
			res.Score = it.Weight
			break
		}
	}
	return res
}

func (e *Engine) gradeOpen(ctx context.Context, it Item) (res Result) {
	res = Result{QuestionID: it.QuestionID}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("scorer panicked: %v", r)
			e.logger.Error(fmt.Sprintf("grading question %s: %v", it.QuestionID, res.Err), res.Err)
		}
	}()

	if strings.TrimSpace(it.Text) == "" {
		res.Feedback = "no answer"
		res.Confidence = 1
		res.Source = SourceAutomated
		return res
	}
	if e.scorer == nil {
		res.Err = errNoScorer
		return res
	}

	score, err := e.scorer.Score(ctx, ScoreRequest{
		QuestionText:    it.QuestionText,
		StudentAnswer:   it.Text,
		MaxScore:        it.Weight,
		ReferenceAnswer: it.ReferenceAnswer,
	})
	if err != nil {
		res.Err = errors.Wrapf(err, "scoring question %s", it.QuestionID)
		e.logger.Warn(res.Err.Error(), res.Err)
		return res
	}
	res.Score = score.Score
	res.Feedback = score.Feedback
	res.Confidence = score.Confidence
	res.Source = score.Source
	return res
}

// Total sums the scores of the successful results and counts the failed ones.
func Total(results []Result) (total float64, failed int) {
	for _, r := range results {
		if r.Failed() {
			failed++
			continue
		}
		total += r.Score
	}
	return total, failed
}
