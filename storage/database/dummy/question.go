package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
)

type questionRepository struct {
	db *questionTable
}

var _ question.Repository = (*questionRepository)(nil) // interface compliance check

func NewQuestionRepository(db *DB) question.Repository {
	return &questionRepository{db: db.question}
}

func copyQuestion(q question.Question) question.Question {
	q.Choices = append(make([]question.Choice, 0, len(q.Choices)), q.Choices...)
	return q
}

func (repo *questionRepository) CreateQuestion(_ context.Context, q question.Question, _ ...core.DBExecutor) (question.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := copyQuestion(q)
	repo.db.table[q.ID] = &stored
	return q, nil
}

func (repo *questionRepository) GetQuestion(_ context.Context, id string, _ ...core.DBExecutor) (question.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if q, ok := repo.db.table[id]; ok {
		return copyQuestion(*q), nil
	}
	return question.Question{}, question.ErrNotFound
}

func (repo *questionRepository) AttachQuestion(_ context.Context, evaluationID, questionID string, weight float64, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[questionID]; !ok {
		return question.ErrNotFound
	}
	if repo.db.links[evaluationID] == nil {
		repo.db.links[evaluationID] = make(map[string]float64)
	}
	repo.db.links[evaluationID][questionID] = weight
	return nil
}

func (repo *questionRepository) DetachQuestion(_ context.Context, evaluationID, questionID string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.links[evaluationID][questionID]; !ok {
		return question.ErrNotFound
	}
	delete(repo.db.links[evaluationID], questionID)
	return nil
}

func (repo *questionRepository) EvaluationQuestions(_ context.Context, evaluationID string, _ ...core.DBExecutor) ([]question.Weighted, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	qs := make([]question.Weighted, 0, len(repo.db.links[evaluationID]))
	for id, weight := range repo.db.links[evaluationID] {
		if q, ok := repo.db.table[id]; ok {
			qs = append(qs, question.Weighted{Question: copyQuestion(*q), Weight: weight})
		}
	}
	sortQuestions(qs)
	return qs, nil
}

func sortQuestions(qs []question.Weighted) {
	sort.Slice(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
