package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/client/api"
	"github.com/trezcool/mtihani/client/offline"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

type (
	// Store is the part of the offline store the reconciler works on.
	Store interface {
		PendingAttempts(ctx context.Context) ([]offline.Attempt, error)
		Answers(ctx context.Context, attemptLocalID string) ([]offline.Answer, error)
		GetEvaluation(ctx context.Context, id string) (question.Paper, error)
		MarkSynced(ctx context.Context, attemptLocalID, responseSheetID string) error
	}

	Submitter interface {
		SubmitOffline(ctx context.Context, sheetRef string, sub response.OfflineSubmission) (response.OfflineReceipt, error)
	}
)

// Result sums up one sync pass.
type Result struct {
	Synced     int
	Duplicates int
	Skipped    int // drafts whose window is still open
	Failed     int
}

// Reconciler pushes the attempts buffered on the device to the server.
type Reconciler struct {
	store  Store
	api    Submitter
	logger core.Logger
	settle time.Duration
	loc    *time.Location
	clock  core.Clock

	mu      sync.Mutex // one pass at a time
	trigger chan struct{}
}

func New(store Store, submitter Submitter, conf *core.Config, logger core.Logger) *Reconciler {
	vala.BeginValidation().Validate(
		core.NotNil(store, "store"),
		core.NotNil(submitter, "submitter"),
		core.NotNil(logger, "logger"),
	).CheckAndPanic()

	return &Reconciler{
		store:   store,
		api:     submitter,
		logger:  logger,
		settle:  conf.Client.SettleDelay,
		loc:     conf.Evaluation.Location(),
		trigger: make(chan struct{}, 1),
	}
}

// SetClock replaces the time source; tests only.
func (r *Reconciler) SetClock(clock core.Clock) { r.clock = clock }

// Trigger asks for a sync pass, e.g. when the device goes back online or the app comes to the foreground.
// It never blocks; triggers arriving within the settle delay collapse into one pass.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run serves triggers until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	stopTimer()
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.trigger:
			stopTimer()
			timer.Reset(r.settle)
		case <-timer.C:
			if _, err := r.SyncPending(ctx); err != nil {
				r.logger.Error("sync pass failed: "+err.Error(), err)
			}
		}
	}
}

// SyncPending submits every pending attempt, least recently touched first.
// A failing attempt is logged and left pending for the next pass; it never stops the others.
func (r *Reconciler) SyncPending(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	attempts, err := r.store.PendingAttempts(ctx)
	if err != nil {
		return res, errors.Wrap(err, "listing pending attempts")
	}

	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if r.stillOpen(ctx, attempt) {
			res.Skipped++
			continue
		}

		duplicate, err := r.sync(ctx, attempt)
		switch {
		case err != nil:
			res.Failed++
			r.logger.Warn(fmt.Sprintf("syncing attempt %s: %v", attempt.AttemptLocalID, err), err)
		case duplicate:
			res.Duplicates++
		default:
			res.Synced++
		}
	}
	if len(attempts) > 0 {
		r.logger.Info(fmt.Sprintf("sync pass: %d synced, %d duplicate(s), %d skipped, %d failed",
			res.Synced, res.Duplicates, res.Skipped, res.Failed))
	}
	return res, nil
}

// stillOpen tells whether attempt is a draft the student may still be answering.
func (r *Reconciler) stillOpen(ctx context.Context, attempt offline.Attempt) bool {
	if !attempt.IsDraft() {
		return false
	}
	paper, err := r.store.GetEvaluation(ctx, attempt.EvaluationID)
	if err != nil {
		return false
	}
	return r.clock.Now().Before(paper.Closes(r.loc))
}

func (r *Reconciler) sync(ctx context.Context, attempt offline.Attempt) (duplicate bool, err error) {
	answers, err := r.store.Answers(ctx, attempt.AttemptLocalID)
	if err != nil {
		return false, errors.Wrap(err, "loading answers")
	}

	clientStart := attempt.ClientStartTime
	sub := response.OfflineSubmission{
		EvaluationID:        attempt.EvaluationID,
		AttemptLocalID:      attempt.AttemptLocalID,
		ClientStartTime:     &clientStart,
		SubmittedAt:         attempt.SubmittedAt.Ptr(),
		IsOfflineSubmission: true,
		Answers:             make([]response.AnswerInput, 0, len(answers)),
	}
	for _, ans := range answers {
		sub.Answers = append(sub.Answers, ans.Input())
	}

	sheetRef := response.NewSheetRef
	if attempt.ResponseSheetID.Valid {
		sheetRef = attempt.ResponseSheetID.String
	}

	receipt, err := r.api.SubmitOffline(ctx, sheetRef, sub)
	if err != nil {
		var se *api.StatusError
		if !errors.As(err, &se) || !se.AlreadySubmitted() {
			return false, err
		}
		// the server holds a submitted sheet already: nothing more to push
		receipt = response.OfflineReceipt{ResponseSheetID: se.ResponseSheetID, Duplicate: true}
	}

	if err = r.store.MarkSynced(ctx, attempt.AttemptLocalID, receipt.ResponseSheetID); err != nil {
		return false, errors.Wrap(err, "marking attempt synced")
	}
	return receipt.Duplicate, nil
}
