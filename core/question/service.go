package question

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
)

var ErrNotFound = core.NewStateError(http.StatusNotFound, "question not found")

type Repository interface {
	CreateQuestion(ctx context.Context, q Question, exec ...core.DBExecutor) (Question, error)
	GetQuestion(ctx context.Context, id string, exec ...core.DBExecutor) (Question, error)
	// AttachQuestion inserts or re-weights the (evaluation, question) link.
	AttachQuestion(ctx context.Context, evaluationID, questionID string, weight float64, exec ...core.DBExecutor) error
	DetachQuestion(ctx context.Context, evaluationID, questionID string, exec ...core.DBExecutor) error
	// EvaluationQuestions returns questions and choices in display order.
	EvaluationQuestions(ctx context.Context, evaluationID string, exec ...core.DBExecutor) ([]Weighted, error)
}

type Service struct {
	repo  Repository
	evals *evaluation.Service
	tx    core.Transactor
}

func NewService(repo Repository, evals *evaluation.Service, tx core.Transactor) *Service {
	return &Service{repo: repo, evals: evals, tx: tx}
}

func (svc *Service) Create(ctx context.Context, nq NewQuestion) (Question, error) {
	now := svc.evals.Now()
	q := Question{
		ID:              uuid.New().String(),
		Text:            nq.Text,
		Kind:            nq.Kind,
		Position:        nq.Position,
		ReferenceAnswer: nq.ReferenceAnswer,
		Choices:         make([]Choice, 0, len(nq.Choices)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, nc := range nq.Choices {
		q.Choices = append(q.Choices, Choice{
			ID:        uuid.New().String(),
			Text:      nc.Text,
			Position:  i,
			IsCorrect: nc.IsCorrect,
		})
	}

	var created Question
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		created, err = svc.repo.CreateQuestion(ctx, q, exec)
		return errors.Wrap(err, "creating question")
	})
	return created, err
}

func (svc *Service) Get(ctx context.Context, id string) (Question, error) {
	return svc.repo.GetQuestion(ctx, id)
}

// Attach adds a bank question to a Draft evaluation, or changes its weight there.
func (svc *Service) Attach(ctx context.Context, evaluationID string, at Attachment) error {
	return svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		if err := svc.ensureDraft(ctx, evaluationID); err != nil {
			return err
		}
		if _, err := svc.repo.GetQuestion(ctx, at.QuestionID, exec); err != nil {
			return err
		}
		return errors.Wrap(
			svc.repo.AttachQuestion(ctx, evaluationID, at.QuestionID, at.Weight, exec),
			"attaching question",
		)
	})
}

func (svc *Service) Detach(ctx context.Context, evaluationID, questionID string) error {
	return svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		if err := svc.ensureDraft(ctx, evaluationID); err != nil {
			return err
		}
		return svc.repo.DetachQuestion(ctx, evaluationID, questionID, exec)
	})
}

func (svc *Service) ensureDraft(ctx context.Context, evaluationID string) error {
	ev, err := svc.evals.Get(ctx, evaluationID)
	if err != nil {
		return err
	}
	if !ev.IsDraft() {
		return evaluation.ErrPublished
	}
	return nil
}

func (svc *Service) ForEvaluation(ctx context.Context, evaluationID string) ([]Weighted, error) {
	qs, err := svc.repo.EvaluationQuestions(ctx, evaluationID)
	return qs, errors.Wrap(err, "querying evaluation questions")
}

// Paper assembles the student view of ev. Correct choices are revealed once ev is Completed.
func (svc *Service) Paper(ctx context.Context, ev evaluation.Evaluation) (Paper, error) {
	qs, err := svc.ForEvaluation(ctx, ev.ID)
	if err != nil {
		return Paper{}, err
	}
	return NewPaper(ev, qs), nil
}

func NewPaper(ev evaluation.Evaluation, qs []Weighted) Paper {
	paper := Paper{Evaluation: ev, Questions: make([]StudentQuestion, 0, len(qs))}
	for _, q := range qs {
		paper.Questions = append(paper.Questions, q.StudentView(ev.IsCompleted()))
	}
	return paper
}
