// Package session runs one evaluation attempt on the device: answers are buffered locally first and mirrored to
// the server when it is reachable.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/client/offline"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

type (
	Store interface {
		AttemptFor(ctx context.Context, evaluationID, matricule string) (offline.Attempt, error)
		CreateAttempt(ctx context.Context, evaluationID, matricule string) (offline.Attempt, error)
		SaveAnswer(ctx context.Context, attemptLocalID string, ans offline.Answer) error
		Answers(ctx context.Context, attemptLocalID string) ([]offline.Answer, error)
		MarkSubmitted(ctx context.Context, attemptLocalID string) error
		MarkSynced(ctx context.Context, attemptLocalID, responseSheetID string) error
	}

	// Remote is the online surface of the server.
	Remote interface {
		Start(ctx context.Context, evaluationID string, sr response.StartRequest) (response.StartResult, error)
		SaveAnswers(ctx context.Context, sheetID string, answers []response.AnswerInput) error
		Submit(ctx context.Context, sheetID string, answers []response.AnswerInput) error
	}

	// Syncer is told when a submitted attempt is waiting to be pushed.
	Syncer interface {
		Trigger()
	}
)

type Options struct {
	Store  Store
	Remote Remote // nil when offline
	Syncer Syncer
	Logger core.Logger
	Clock  core.Clock
	Loc    *time.Location
	// OnTick receives the time left every second.
	OnTick func(left time.Duration)
}

type Session struct {
	opts    Options
	paper   question.Paper
	attempt offline.Attempt
	sheetID string // server sheet, when started online

	countdown  *Countdown
	submitting int32
	submitted  chan struct{}
	mu         sync.Mutex // serializes answer writes
}

// Begin resumes the attempt of matricule at paper, creating it if needed, and starts the countdown.
// Reaching the end of the window submits the attempt automatically.
func Begin(ctx context.Context, paper question.Paper, matricule string, opts Options) (*Session, error) {
	vala.BeginValidation().Validate(
		core.NotNil(opts.Store, "store"),
		core.NotNil(opts.Syncer, "syncer"),
		core.NotNil(opts.Logger, "logger"),
	).CheckAndPanic()
	if opts.Loc == nil {
		opts.Loc = time.UTC
	}

	attempt, err := opts.Store.AttemptFor(ctx, paper.ID, matricule)
	if errors.Cause(err) == offline.ErrNotFound {
		attempt, err = opts.Store.CreateAttempt(ctx, paper.ID, matricule)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading attempt")
	}
	if !attempt.IsDraft() {
		return nil, offline.ErrAttemptSubmitted
	}

	s := &Session{opts: opts, paper: paper, attempt: attempt, submitted: make(chan struct{})}
	if opts.Remote != nil {
		clientStart := attempt.ClientStartTime
		res, err := opts.Remote.Start(ctx, paper.ID, response.StartRequest{Matricule: matricule, ClientStartTime: &clientStart})
		if err != nil {
			opts.Logger.Warn(fmt.Sprintf("starting %s online, continuing offline: %v", paper.ID, err), err)
		} else {
			s.sheetID = res.ResponseSheetID
		}
	}

	s.countdown = NewCountdown(paper.Closes(opts.Loc), opts.Clock, opts.OnTick, s.autoSubmit)
	s.countdown.Start()
	return s, nil
}

func (s *Session) Attempt() offline.Attempt { return s.attempt }

func (s *Session) Paper() question.Paper { return s.paper }

func (s *Session) Online() bool { return s.sheetID != "" }

func (s *Session) Left() time.Duration { return s.countdown.Left() }

// Submitted is closed once the attempt is submitted, manually or by the countdown.
func (s *Session) Submitted() <-chan struct{} { return s.submitted }

// Answer durably buffers ans before returning. Mirroring it to the server is best effort.
func (s *Session) Answer(ctx context.Context, ans offline.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if atomic.LoadInt32(&s.submitting) == 1 {
		return offline.ErrAttemptSubmitted
	}
	if err := s.opts.Store.SaveAnswer(ctx, s.attempt.AttemptLocalID, ans); err != nil {
		return errors.Wrap(err, "buffering answer")
	}
	if s.Online() {
		if err := s.opts.Remote.SaveAnswers(ctx, s.sheetID, []response.AnswerInput{ans.Input()}); err != nil {
			s.opts.Logger.Warn("mirroring answer: "+err.Error(), err)
		}
	}
	return nil
}

// Submit freezes the attempt. Only the first call, manual or automatic, does anything; it reports whether this
// call was the one.
func (s *Session) Submit(ctx context.Context) (bool, error) {
	if !atomic.CompareAndSwapInt32(&s.submitting, 0, 1) {
		return false, nil
	}
	s.countdown.Stop()

	// wait for an answer being written
	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(s.submitted)

	id := s.attempt.AttemptLocalID
	if err := s.opts.Store.MarkSubmitted(ctx, id); err != nil {
		return true, errors.Wrap(err, "marking attempt submitted")
	}

	if s.Online() {
		answers, err := s.opts.Store.Answers(ctx, id)
		if err == nil {
			inputs := make([]response.AnswerInput, 0, len(answers))
			for _, ans := range answers {
				inputs = append(inputs, ans.Input())
			}
			if err = s.opts.Remote.Submit(ctx, s.sheetID, inputs); err == nil {
				return true, s.opts.Store.MarkSynced(ctx, id, s.sheetID)
			}
		}
		s.opts.Logger.Warn("submitting online, left for sync: "+err.Error(), err)
	}
	s.opts.Syncer.Trigger()
	return true, nil
}

func (s *Session) autoSubmit() {
	if _, err := s.Submit(context.Background()); err != nil {
		s.opts.Logger.Error("auto-submitting attempt "+s.attempt.AttemptLocalID+": "+err.Error(), err)
	}
}

// Close stops the countdown; an unsubmitted attempt stays a draft.
func (s *Session) Close() {
	s.countdown.Stop()
	<-s.countdown.Done()
}
