package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/grading"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
	locksvc "github.com/trezcool/mtihani/services/lock"
	dummydb "github.com/trezcool/mtihani/storage/database/dummy"
)

// Day is the day test evaluations take place on.
var Day = core.NewDate(2026, 3, 2)

// At returns hh:mm (UTC) on Day.
func At(hour, minute int) time.Time {
	return core.NewClockTime(hour, minute).On(Day, time.UTC)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// StubScorer grades open answers by their length; answers containing "panic" or "fail" misbehave.
type StubScorer struct {
	mu    sync.Mutex
	Calls int
}

var errScorerDown = errors.New("scorer unavailable")

func (s *StubScorer) Score(_ context.Context, req grading.ScoreRequest) (grading.Score, error) {
	s.mu.Lock()
	s.Calls++
	s.mu.Unlock()

	switch {
	case strings.Contains(req.StudentAnswer, "panic"):
		panic("scorer exploded")
	case strings.Contains(req.StudentAnswer, "fail"):
		return grading.Score{}, errScorerDown
	}
	score := float64(len(strings.Fields(req.StudentAnswer)))
	if score > req.MaxScore {
		score = req.MaxScore
	}
	return grading.Score{Score: score, Feedback: "ok", Confidence: 0.8, Source: grading.SourceAutomated}, nil
}

func (s *StubScorer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

type AlertRecorder struct {
	mu      sync.Mutex
	Reports []grading.PartialReport
}

func (a *AlertRecorder) PartiallyGraded(_ context.Context, report grading.PartialReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Reports = append(a.Reports, report)
}

type AuditRecorder struct {
	mu      sync.Mutex
	Records []core.SubmissionRecord
}

func (a *AuditRecorder) Append(_ context.Context, rec core.SubmissionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Records = append(a.Records, rec)
	return nil
}

func (a *AuditRecorder) All() []core.SubmissionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.SubmissionRecord(nil), a.Records...)
}

// NewValidator returns a validator with the custom tags and english translations registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	return validate, translator
}

// Env wires the services over the in-memory database.
type Env struct {
	Conf      *core.Config
	Clock     *Clock
	Scorer    *StubScorer
	Alerts    *AlertRecorder
	Audit     *AuditRecorder
	Locker    *locksvc.MemoryLocker
	Evals     *evaluation.Service
	Questions *question.Service
	Responses *response.Service
}

func NewConfig() *core.Config {
	return &core.Config{
		AppName:   "Mtihani",
		Env:       "TEST",
		TestMode:  true,
		SecretKey: "test-secret",
		Server: core.ServerConfig{
			JWTExpirationDelta: time.Hour,
			DisableReqLogs:     true,
		},
		Evaluation: core.EvaluationConfig{Timezone: "UTC", SubmitGrace: 2 * time.Minute},
		Grading:    core.GradingConfig{Workers: 2},
	}
}

// EnvOption swaps a piece of the Env before its services are built.
type EnvOption func(*envRepos)

type envRepos struct {
	responses response.Repository
}

// WrapResponseRepo decorates the in-memory response repository, e.g. to inject failures.
func WrapResponseRepo(wrap func(response.Repository) response.Repository) EnvOption {
	return func(r *envRepos) { r.responses = wrap(r.responses) }
}

// NewEnv starts the clock at 08:00 on Day.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	conf := NewConfig()
	db := dummydb.Open()
	tx := dummydb.NewTransactor()
	clock := &Clock{now: At(8, 0)}
	repos := envRepos{responses: dummydb.NewResponseRepository(db)}
	for _, opt := range opts {
		opt(&repos)
	}

	evals := evaluation.NewService(dummydb.NewEvaluationRepository(db), tx, conf)
	evals.SetClock(clock.Now)
	questions := question.NewService(dummydb.NewQuestionRepository(db), evals, tx)

	env := &Env{
		Conf:      conf,
		Clock:     clock,
		Scorer:    &StubScorer{},
		Alerts:    &AlertRecorder{},
		Audit:     &AuditRecorder{},
		Locker:    locksvc.NewMemoryLocker(),
		Evals:     evals,
		Questions: questions,
	}
	env.Responses = response.NewService(response.Deps{
		Repo:      repos.responses,
		Tx:        tx,
		Evals:     evals,
		Questions: questions,
		Grader:    grading.NewEngine(env.Scorer, conf.Grading.Workers, core.NopLogger{}),
		Alerter:   env.Alerts,
		Locker:    env.Locker,
		Audit:     env.Audit,
		Logger:    core.NopLogger{},
	})
	return env
}

// CreateEvaluation creates a Draft running from start to end on Day.
func (e *Env) CreateEvaluation(t *testing.T, course, typ string, start, end core.ClockTime) evaluation.Evaluation {
	t.Helper()
	ev, err := e.Evals.Create(context.Background(), evaluation.NewEvaluation{
		CourseCode: course,
		Type:       typ,
		Window:     evaluation.Window{PublishedDate: Day, StartTime: start, EndTime: end},
	})
	if err != nil {
		t.Fatalf("CreateEvaluation() failed: %v", err)
	}
	return ev
}

// CreateClosed creates a closed question whose choice at index `correct` is the right one.
func (e *Env) CreateClosed(t *testing.T, text string, correct int, choices ...string) question.Question {
	t.Helper()
	nq := question.NewQuestion{Text: text, Kind: question.KindClosed}
	for i, c := range choices {
		nq.Choices = append(nq.Choices, question.NewChoice{Text: c, IsCorrect: i == correct})
	}
	q, err := e.Questions.Create(context.Background(), nq)
	if err != nil {
		t.Fatalf("CreateClosed() failed: %v", err)
	}
	return q
}

func (e *Env) CreateOpen(t *testing.T, text, reference string) question.Question {
	t.Helper()
	return e.createQuestion(t, question.NewQuestion{Text: text, Kind: question.KindOpen, ReferenceAnswer: reference})
}

func (e *Env) createQuestion(t *testing.T, nq question.NewQuestion) question.Question {
	t.Helper()
	q, err := e.Questions.Create(context.Background(), nq)
	if err != nil {
		t.Fatalf("creating question failed: %v", err)
	}
	return q
}

func (e *Env) Attach(t *testing.T, evaluationID string, q question.Question, weight float64) {
	t.Helper()
	if err := e.Questions.Attach(context.Background(), evaluationID, question.Attachment{QuestionID: q.ID, Weight: weight}); err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}
}

func (e *Env) Publish(t *testing.T, evaluationID string) evaluation.Evaluation {
	t.Helper()
	ev, err := e.Evals.Publish(context.Background(), evaluationID)
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	return ev
}

// Fixture is a Published 09:00-10:00 evaluation with a closed question (5 pts, "B" correct) and an open one (4 pts).
type Fixture struct {
	Evaluation evaluation.Evaluation
	Closed     question.Question
	Open       question.Question
}

func (f Fixture) Choice(text string) string {
	for _, c := range f.Closed.Choices {
		if c.Text == text {
			return c.ID
		}
	}
	return ""
}

func (e *Env) NewFixture(t *testing.T, course string) Fixture {
	t.Helper()
	ev := e.CreateEvaluation(t, course, evaluation.TypeQuiz, core.NewClockTime(9, 0), core.NewClockTime(10, 0))
	closed := e.CreateClosed(t, "Pick B", 1, "A", "B", "C")
	open := e.createQuestion(t, question.NewQuestion{
		Text: "Explain gravity.", Kind: question.KindOpen, ReferenceAnswer: "mass attracts mass", Position: 1,
	})
	e.Attach(t, ev.ID, closed, 5)
	e.Attach(t, ev.ID, open, 4)
	return Fixture{Evaluation: e.Publish(t, ev.ID), Closed: closed, Open: open}
}
