package schedulersvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
)

type (
	// EvaluationCloser is the part of the evaluation service the closing job needs.
	EvaluationCloser interface {
		Due(ctx context.Context) ([]evaluation.Evaluation, error)
		Complete(ctx context.Context, id string) (evaluation.Evaluation, error)
	}

	// SheetFinalizer grades the pending sheets of an evaluation.
	SheetFinalizer interface {
		Finalize(ctx context.Context, evaluationID string) (int, error)
	}
)

// Scheduler completes evaluations once their window and grace have elapsed, grading what is still pending.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	evals    EvaluationCloser
	sheets   SheetFinalizer
	logger   core.Logger
	mu       sync.Mutex // one run at a time
	shutdown context.CancelFunc
	ctx      context.Context
}

func New(conf *core.Config, evals EvaluationCloser, sheets SheetFinalizer, logger core.Logger) *Scheduler {
	vala.BeginValidation().Validate(
		core.NotNil(evals, "evals"),
		core.NotNil(sheets, "sheets"),
		core.NotNil(logger, "logger"),
	).CheckAndPanic()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(conf.Evaluation.Location())),
		spec:     conf.Evaluation.CloseSchedule,
		evals:    evals,
		sheets:   sheets,
		logger:   logger,
		ctx:      ctx,
		shutdown: cancel,
	}
}

// Start registers the closing job and starts the cron runner. It does nothing when no schedule is configured.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, func() { _, _ = s.RunOnce(s.ctx) }); err != nil {
		return errors.Wrapf(err, "scheduling %q", s.spec)
	}
	s.cron.Start()
	s.logger.Info(fmt.Sprintf("evaluation closing job scheduled %q", s.spec))
	return nil
}

// Stop cancels a running job and waits for it.
func (s *Scheduler) Stop() {
	s.shutdown()
	<-s.cron.Stop().Done()
}

// RunOnce completes every due evaluation and returns how many were completed.
// An evaluation failing to close is logged and left Published for the next run.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.evals.Due(ctx)
	if err != nil {
		s.logger.Error("listing due evaluations: "+err.Error(), err)
		return 0, err
	}

	completed := 0
	for _, ev := range due {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		graded, err := s.sheets.Finalize(ctx, ev.ID)
		if err != nil {
			s.logger.Error(fmt.Sprintf("finalizing sheets of evaluation %s: %v", ev.ID, err), err)
			continue
		}
		if _, err = s.evals.Complete(ctx, ev.ID); err != nil {
			s.logger.Error(fmt.Sprintf("completing evaluation %s: %v", ev.ID, err), err)
			continue
		}
		completed++
		s.logger.Info(fmt.Sprintf("evaluation %s (%s %s) completed, %d sheet(s) graded", ev.ID, ev.CourseCode, ev.Type, graded))
	}
	return completed, nil
}
