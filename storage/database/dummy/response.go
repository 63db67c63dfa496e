package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

type responseRepository struct {
	db        *responseTable
	questions *questionTable
}

var _ response.Repository = (*responseRepository)(nil) // interface compliance check

func NewResponseRepository(db *DB) response.Repository {
	return &responseRepository{db: db.response, questions: db.question}
}

func (repo *responseRepository) GetOrCreateSheet(_ context.Context, sheet response.Sheet, _ ...core.DBExecutor) (response.Sheet, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, s := range repo.db.table {
		if s.EvaluationID == sheet.EvaluationID && s.Matricule == sheet.Matricule {
			return *s, nil
		}
	}
	sheet.Answers = nil
	repo.db.table[sheet.ID] = &sheet
	return sheet, nil
}

func (repo *responseRepository) GetSheet(_ context.Context, id string, _ ...core.DBExecutor) (response.Sheet, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.table[id]; ok {
		return *s, nil
	}
	return response.Sheet{}, response.ErrNotFound
}

func (repo *responseRepository) LockSheet(ctx context.Context, id string, exec ...core.DBExecutor) (response.Sheet, error) {
	return repo.GetSheet(ctx, id, exec...)
}

func (repo *responseRepository) FindSheetByAttempt(_ context.Context, attemptLocalID string, _ ...core.DBExecutor) (response.Sheet, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, s := range repo.db.table {
		if s.AttemptLocalID.Valid && s.AttemptLocalID.String == attemptLocalID {
			return *s, nil
		}
	}
	return response.Sheet{}, response.ErrNotFound
}

func (repo *responseRepository) QuerySheets(_ context.Context, filter response.SheetFilter, _ ...core.DBExecutor) ([]response.Sheet, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	statuses := make(map[response.Status]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}
	sheets := make([]response.Sheet, 0)
	for _, s := range repo.db.table {
		if filter.EvaluationID != "" && s.EvaluationID != filter.EvaluationID {
			continue
		}
		if filter.Matricule != "" && s.Matricule != filter.Matricule {
			continue
		}
		if len(statuses) > 0 && !statuses[s.Status] {
			continue
		}
		sheets = append(sheets, *s)
	}
	sort.Slice(sheets, func(i, j int) bool {
		if !sheets[i].CreatedAt.Equal(sheets[j].CreatedAt) {
			return sheets[i].CreatedAt.Before(sheets[j].CreatedAt)
		}
		return sheets[i].ID < sheets[j].ID
	})
	return sheets, nil
}

func (repo *responseRepository) UpdateSheet(_ context.Context, sheet response.Sheet, _ ...core.DBExecutor) (response.Sheet, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[sheet.ID]; !ok {
		return response.Sheet{}, response.ErrNotFound
	}
	if sheet.AttemptLocalID.Valid {
		for _, s := range repo.db.table {
			if s.ID != sheet.ID && s.AttemptLocalID == sheet.AttemptLocalID {
				return response.Sheet{}, response.ErrAlreadySubmitted
			}
		}
	}
	stored := sheet
	stored.Answers = nil
	repo.db.table[sheet.ID] = &stored
	return sheet, nil
}

func (repo *responseRepository) UpsertAnswers(_ context.Context, answers []response.Answer, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, a := range answers {
		if repo.db.answers[a.SheetID] == nil {
			repo.db.answers[a.SheetID] = make(map[string]response.Answer)
		}
		prev, ok := repo.db.answers[a.SheetID][a.QuestionID]
		if ok { // keep grading fields
			a.Score, a.Feedback, a.Confidence, a.GradingSource = prev.Score, prev.Feedback, prev.Confidence, prev.GradingSource
		}
		repo.db.answers[a.SheetID][a.QuestionID] = a
	}
	return nil
}

func (repo *responseRepository) GetAnswers(_ context.Context, sheetID string, _ ...core.DBExecutor) ([]response.Answer, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	answers := make([]response.Answer, 0, len(repo.db.answers[sheetID]))
	for _, a := range repo.db.answers[sheetID] {
		answers = append(answers, a)
	}
	questionOf := func(id string) question.Question {
		if q, ok := repo.questions.table[id]; ok {
			return *q
		}
		return question.Question{ID: id}
	}
	sort.Slice(answers, func(i, j int) bool {
		a, b := questionOf(answers[i].QuestionID), questionOf(answers[j].QuestionID)
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return answers, nil
}

func (repo *responseRepository) GradeAnswer(_ context.Context, a response.Answer, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.answers[a.SheetID][a.QuestionID]
	if !ok {
		return response.ErrNotFound
	}
	stored.Score, stored.Feedback, stored.Confidence, stored.GradingSource = a.Score, a.Feedback, a.Confidence, a.GradingSource
	repo.db.answers[a.SheetID][a.QuestionID] = stored
	return nil
}
