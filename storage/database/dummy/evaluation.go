package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
)

type evaluationRepository struct {
	db    *evaluationTable
	links *questionTable
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *DB) evaluation.Repository {
	return &evaluationRepository{db: db.evaluation, links: db.question}
}

func (repo *evaluationRepository) CreateEvaluation(_ context.Context, ev evaluation.Evaluation, _ ...core.DBExecutor) (evaluation.Evaluation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, e := range repo.db.table {
		if e.CourseCode == ev.CourseCode && e.Type == ev.Type {
			return evaluation.Evaluation{}, evaluation.ErrExists
		}
	}
	repo.db.table[ev.ID] = &ev
	return ev, nil
}

func (repo *evaluationRepository) GetEvaluation(_ context.Context, id string, _ ...core.DBExecutor) (evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ev, ok := repo.db.table[id]; ok && !ev.IsDeleted() {
		return *ev, nil
	}
	return evaluation.Evaluation{}, evaluation.ErrNotFound
}

func (repo *evaluationRepository) FindEvaluation(_ context.Context, courseCode, typ string, _ ...core.DBExecutor) (evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, ev := range repo.db.table {
		if ev.CourseCode == courseCode && ev.Type == typ {
			return *ev, nil
		}
	}
	return evaluation.Evaluation{}, evaluation.ErrNotFound
}

func (repo *evaluationRepository) QueryEvaluations(_ context.Context, filter evaluation.QueryFilter, _ ...core.DBExecutor) ([]evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	statuses := make(map[evaluation.Status]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}
	courses := make(map[string]bool, len(filter.CourseCodes))
	for _, c := range filter.CourseCodes {
		courses[c] = true
	}

	evs := make([]evaluation.Evaluation, 0)
	for _, ev := range repo.db.table {
		if ev.IsDeleted() {
			continue
		}
		if len(statuses) > 0 && !statuses[ev.Status] {
			continue
		}
		if len(courses) > 0 && !courses[ev.CourseCode] {
			continue
		}
		evs = append(evs, *ev)
	}
	sort.Slice(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if !a.PublishedDate.Equal(b.PublishedDate.Time) {
			return a.PublishedDate.After(b.PublishedDate.Time)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime.Minutes > b.StartTime.Minutes
		}
		return a.CourseCode < b.CourseCode
	})
	return evs, nil
}

func (repo *evaluationRepository) UpdateEvaluation(_ context.Context, ev evaluation.Evaluation, _ ...core.DBExecutor) (evaluation.Evaluation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[ev.ID]; !ok {
		return evaluation.Evaluation{}, evaluation.ErrNotFound
	}
	for _, e := range repo.db.table {
		if e.ID != ev.ID && e.CourseCode == ev.CourseCode && e.Type == ev.Type {
			return evaluation.Evaluation{}, evaluation.ErrExists
		}
	}
	repo.db.table[ev.ID] = &ev
	return ev, nil
}

func (repo *evaluationRepository) CountQuestions(_ context.Context, evaluationID string, _ ...core.DBExecutor) (int, error) {
	repo.links.RLock()
	defer repo.links.RUnlock()
	return len(repo.links.links[evaluationID]), nil
}
