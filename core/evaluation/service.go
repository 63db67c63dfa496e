package evaluation

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

var (
	ErrNotFound          = core.NewStateError(http.StatusNotFound, "evaluation not found")
	ErrExists            = core.NewStateError(http.StatusConflict, "an evaluation of this type already exists for this course")
	ErrPublished         = core.NewStateError(http.StatusForbidden, "evaluation is published and can no longer be modified")
	ErrUnavailable       = core.NewStateError(http.StatusForbidden, "evaluation is not available")
	ErrExpired           = core.NewStateError(http.StatusForbidden, "evaluation window has elapsed")
	ErrInvalidTransition = core.NewStateError(http.StatusForbidden, "invalid evaluation status transition")
	ErrNoQuestions       = core.NewStateError(http.StatusForbidden, "evaluation has no questions")
)

type Repository interface {
	CreateEvaluation(ctx context.Context, ev Evaluation, exec ...core.DBExecutor) (Evaluation, error)
	// GetEvaluation ignores soft-deleted rows.
	GetEvaluation(ctx context.Context, id string, exec ...core.DBExecutor) (Evaluation, error)
	// FindEvaluation looks a (courseCode, type) pair up, soft-deleted rows included.
	FindEvaluation(ctx context.Context, courseCode, typ string, exec ...core.DBExecutor) (Evaluation, error)
	QueryEvaluations(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Evaluation, error)
	UpdateEvaluation(ctx context.Context, ev Evaluation, exec ...core.DBExecutor) (Evaluation, error)
	CountQuestions(ctx context.Context, evaluationID string, exec ...core.DBExecutor) (int, error)
}

type Service struct {
	repo  Repository
	tx    core.Transactor
	loc   *time.Location
	grace time.Duration
	clock core.Clock
}

func NewService(repo Repository, tx core.Transactor, conf *core.Config) *Service {
	return &Service{
		repo:  repo,
		tx:    tx,
		loc:   conf.Evaluation.Location(),
		grace: conf.Evaluation.SubmitGrace,
	}
}

// SetClock replaces the time source; tests only.
func (svc *Service) SetClock(clock core.Clock) { svc.clock = clock }

func (svc *Service) Now() time.Time { return svc.clock.Now() }

func (svc *Service) Location() *time.Location { return svc.loc }

// Create creates a Draft, or restores the soft-deleted Draft of the same course and type.
// When an active one exists it is returned along with ErrExists.
func (svc *Service) Create(ctx context.Context, ne NewEvaluation) (Evaluation, error) {
	var ev Evaluation
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		existing, err := svc.repo.FindEvaluation(ctx, ne.CourseCode, ne.Type, exec)
		switch {
		case err == nil && !existing.IsDeleted():
			ev = existing
			return ErrExists
		case err == nil:
			now := svc.Now()
			existing.Window = ne.Window
			existing.Status = StatusDraft
			existing.DeletedAt = nil
			existing.UpdatedAt = now
			ev, err = svc.repo.UpdateEvaluation(ctx, existing, exec)
			return errors.Wrap(err, "restoring evaluation")
		case errors.Cause(err) != ErrNotFound:
			return errors.Wrap(err, "finding evaluation")
		}

		now := svc.Now()
		ev, err = svc.repo.CreateEvaluation(ctx, Evaluation{
			ID:         uuid.New().String(),
			CourseCode: ne.CourseCode,
			Type:       ne.Type,
			Window:     ne.Window,
			Status:     StatusDraft,
			CreatedAt:  now,
			UpdatedAt:  now,
		}, exec)
		return errors.Wrap(err, "creating evaluation")
	})
	return ev, err
}

func (svc *Service) Get(ctx context.Context, id string) (Evaluation, error) {
	return svc.repo.GetEvaluation(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Evaluation, error) {
	return svc.repo.QueryEvaluations(ctx, filter)
}

func (svc *Service) Update(ctx context.Context, id string, ue UpdateEvaluation) (Evaluation, error) {
	var ev Evaluation
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		orig, err := svc.repo.GetEvaluation(ctx, id, exec)
		if err != nil {
			return err
		}
		if !orig.IsDraft() {
			return ErrPublished
		}
		if orig.CourseCode != ue.CourseCode || orig.Type != ue.Type {
			other, err := svc.repo.FindEvaluation(ctx, ue.CourseCode, ue.Type, exec)
			if err == nil && other.ID != orig.ID {
				return ErrExists
			} else if err != nil && errors.Cause(err) != ErrNotFound {
				return errors.Wrap(err, "finding evaluation")
			}
		}

		orig.CourseCode = ue.CourseCode
		orig.Type = ue.Type
		orig.Window = ue.Window
		orig.UpdatedAt = svc.Now()
		ev, err = svc.repo.UpdateEvaluation(ctx, orig, exec)
		return errors.Wrap(err, "updating evaluation")
	})
	return ev, err
}

// Delete soft-deletes a Draft.
func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		ev, err := svc.repo.GetEvaluation(ctx, id, exec)
		if err != nil {
			return err
		}
		if !ev.IsDraft() {
			return ErrPublished
		}
		now := svc.Now()
		ev.DeletedAt = &now
		ev.UpdatedAt = now
		_, err = svc.repo.UpdateEvaluation(ctx, ev, exec)
		return errors.Wrap(err, "deleting evaluation")
	})
}

func (svc *Service) Publish(ctx context.Context, id string) (Evaluation, error) {
	var ev Evaluation
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if ev, err = svc.repo.GetEvaluation(ctx, id, exec); err != nil {
			return err
		}
		if !ev.IsDraft() {
			return ErrInvalidTransition
		}
		n, err := svc.repo.CountQuestions(ctx, id, exec)
		if err != nil {
			return errors.Wrap(err, "counting questions")
		}
		if n == 0 {
			return ErrNoQuestions
		}
		ev, err = svc.transition(ctx, ev, StatusPublished, exec)
		return err
	})
	return ev, err
}

func (svc *Service) Complete(ctx context.Context, id string) (Evaluation, error) {
	var ev Evaluation
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if ev, err = svc.repo.GetEvaluation(ctx, id, exec); err != nil {
			return err
		}
		if !ev.IsPublished() {
			return ErrInvalidTransition
		}
		ev, err = svc.transition(ctx, ev, StatusCompleted, exec)
		return err
	})
	return ev, err
}

func (svc *Service) transition(ctx context.Context, ev Evaluation, to Status, exec core.DBExecutor) (Evaluation, error) {
	ev.Status = to
	ev.UpdatedAt = svc.Now()
	ev, err := svc.repo.UpdateEvaluation(ctx, ev, exec)
	return ev, errors.Wrapf(err, "moving evaluation to %s", to)
}

// EnsureStartable fails unless ev is Published and now lies within its window.
func (svc *Service) EnsureStartable(ev Evaluation) error {
	if !ev.IsPublished() {
		return ErrUnavailable
	}
	now := svc.Now()
	if now.Before(ev.Opens(svc.loc)) {
		return ErrUnavailable
	}
	if now.After(ev.Closes(svc.loc)) {
		return ErrExpired
	}
	return nil
}

// EnsureAnswerable fails unless ev is Published and its window, plus the submit grace, has not elapsed.
func (svc *Service) EnsureAnswerable(ev Evaluation) error {
	if !ev.IsPublished() {
		if ev.IsCompleted() {
			return ErrExpired
		}
		return ErrUnavailable
	}
	if svc.Now().After(ev.Closes(svc.loc).Add(svc.grace)) {
		return ErrExpired
	}
	return nil
}

// Due returns the Published evaluations whose window (plus grace) has elapsed.
func (svc *Service) Due(ctx context.Context) ([]Evaluation, error) {
	evs, err := svc.repo.QueryEvaluations(ctx, QueryFilter{Statuses: []Status{StatusPublished}})
	if err != nil {
		return nil, errors.Wrap(err, "querying published evaluations")
	}
	byID := make(map[string]Evaluation, len(evs))
	for _, ev := range evs {
		byID[ev.ID] = ev
	}
	due := DueForCompletion(evs, svc.Now(), svc.loc, svc.grace)
	out := make([]Evaluation, 0, len(due))
	for _, id := range due {
		out = append(out, byID[id])
	}
	return out, nil
}

// DueForCompletion picks, oldest window first, the Published evaluations whose window closed more than grace before now.
func DueForCompletion(evs []Evaluation, now time.Time, loc *time.Location, grace time.Duration) []string {
	due := make([]Evaluation, 0)
	for _, ev := range evs {
		if ev.IsPublished() && !ev.IsDeleted() && now.After(ev.Closes(loc).Add(grace)) {
			due = append(due, ev)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Closes(loc).Before(due[j].Closes(loc))
	})
	ids := make([]string, 0, len(due))
	for _, ev := range due {
		ids = append(ids, ev.ID)
	}
	return ids
}
