package main

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/client/offline"
	"github.com/trezcool/mtihani/client/reconcile"
	"github.com/trezcool/mtihani/client/session"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

// synced attempts are kept on the device that long before being purged
const keepSynced = 30 * 24 * time.Hour

func (cli *commandLine) download() error {
	ctx := context.Background()
	store, err := cli.store()
	if err != nil {
		return err
	}
	rem, err := cli.remote()
	if err != nil {
		return err
	}

	papers, err := rem.Evaluations(ctx)
	if err != nil {
		return errors.Wrap(err, "downloading evaluations")
	}
	if err = store.SaveEvaluations(ctx, papers); err != nil {
		return errors.Wrap(err, "saving evaluations")
	}
	for _, p := range papers {
		fmt.Fprintf(cli.out, "  %s  %s %s  %s %s-%s  %d question(s)\n",
			p.ID, p.CourseCode, p.Type, p.PublishedDate, p.StartTime, p.EndTime, len(p.Questions))
	}
	fmt.Fprintf(cli.out, "downloaded %d evaluation(s)\n", len(papers))
	return nil
}

func (cli *commandLine) pending() error {
	store, err := cli.store()
	if err != nil {
		return err
	}
	attempts, err := store.PendingAttempts(context.Background())
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(cli.out, "nothing to sync")
		return nil
	}
	for _, a := range attempts {
		submitted := "-"
		if a.SubmittedAt.Valid {
			submitted = a.SubmittedAt.Time.Format(time.RFC3339)
		}
		fmt.Fprintf(cli.out, "%s  %s  %s  %s  %s\n", a.AttemptLocalID, a.EvaluationID, a.Matricule, a.Status, submitted)
	}
	return nil
}

func (cli *commandLine) sync() error {
	ctx := context.Background()
	store, err := cli.store()
	if err != nil {
		return err
	}
	rem, err := cli.remote()
	if err != nil {
		return err
	}

	rec := reconcile.New(store, rem, cli.conf, cli.logger)
	rec.SetClock(cli.clock)
	res, err := rec.SyncPending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d synced, %d duplicate(s), %d still open, %d failed\n",
		res.Synced, res.Duplicates, res.Skipped, res.Failed)

	purged, err := store.PurgeSynced(ctx, cli.clock.Now().Add(-keepSynced))
	if err != nil {
		return errors.Wrap(err, "purging synced attempts")
	}
	if purged > 0 {
		fmt.Fprintf(cli.out, "purged %d old attempt(s)\n", purged)
	}
	if res.Failed > 0 {
		return errors.Errorf("%d attempt(s) could not be synced, retry later", res.Failed)
	}
	return nil
}

type noSync struct{}

func (noSync) Trigger() {}

func (cli *commandLine) take(id, matricule string, offlineOnly bool) error {
	ctx := context.Background()
	store, err := cli.store()
	if err != nil {
		return err
	}
	paper, err := store.GetEvaluation(ctx, id)
	if errors.Cause(err) == offline.ErrNotFound {
		return errors.Errorf("evaluation %s is not on this device, run `download` first", id)
	}
	if err != nil {
		return err
	}

	opts := session.Options{
		Store:  store,
		Syncer: noSync{},
		Logger: cli.logger,
		Clock:  cli.clock,
		Loc:    cli.conf.Evaluation.Location(),
	}
	var rec *reconcile.Reconciler
	if !offlineOnly {
		rem, err := cli.remote()
		if err != nil {
			return err
		}
		rec = reconcile.New(store, rem, cli.conf, cli.logger)
		rec.SetClock(cli.clock)
		opts.Remote, opts.Syncer = rem, rec
	}

	sess, err := session.Begin(ctx, paper, matricule, opts)
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	defer sess.Close()

	mode := "offline"
	if sess.Online() {
		mode = "online"
	}
	fmt.Fprintf(cli.out, "%s %s (%s), %s left\n", paper.CourseCode, paper.Type, mode, sess.Left().Round(time.Second))

	if err = cli.answerAll(ctx, sess); err != nil {
		return err
	}
	if _, err = sess.Submit(ctx); err != nil {
		return errors.Wrap(err, "submitting attempt")
	}
	if rec != nil {
		if _, err = rec.SyncPending(ctx); err != nil {
			cli.logger.Warn("syncing after submit: "+err.Error(), err)
		}
	}

	attempt, err := store.GetAttempt(ctx, sess.Attempt().AttemptLocalID)
	if err != nil {
		return err
	}
	if attempt.Status == offline.AttemptSynced {
		fmt.Fprintf(cli.out, "submitted, response sheet %s\n", attempt.ResponseSheetID.String)
	} else {
		fmt.Fprintf(cli.out, "saved on this device as %s, run `sync` once online\n", attempt.AttemptLocalID)
	}
	return nil
}

// answerAll asks every question in turn. An empty line skips a question; end of input stops early.
func (cli *commandLine) answerAll(ctx context.Context, sess *session.Session) error {
	in := bufio.NewScanner(cli.in)
	for i, q := range sess.Paper().Questions {
		select {
		case <-sess.Submitted():
			fmt.Fprintln(cli.out, "time is up, the attempt was submitted")
			return nil
		default:
		}

		fmt.Fprintf(cli.out, "\n%d. %s (%g pt)\n", i+1, q.Text, q.Points)
		for j, c := range q.Choices {
			fmt.Fprintf(cli.out, "  %d) %s\n", j+1, c.Text)
		}
		resp, more := cli.readResponse(in, q)
		if !more {
			break
		}
		if resp == nil {
			continue
		}

		err := sess.Answer(ctx, offline.Answer{QuestionID: q.ID, Response: resp})
		if errors.Cause(err) == offline.ErrAttemptSubmitted {
			fmt.Fprintln(cli.out, "time is up, the attempt was submitted")
			return nil
		}
		if err != nil {
			return err
		}
	}
	return errors.Wrap(in.Err(), "reading answers")
}

// readResponse returns a nil response for a skipped question, and more=false once input is exhausted.
func (cli *commandLine) readResponse(in *bufio.Scanner, q question.StudentQuestion) (resp response.Response, more bool) {
	for {
		fmt.Fprint(cli.out, "> ")
		if !in.Scan() {
			return nil, false
		}
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
			return nil, true
		case q.Kind == question.KindOpen:
			return response.Open{Text: line}, true
		}

		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(q.Choices) {
			fmt.Fprintf(cli.out, "pick a choice between 1 and %d, or leave empty to skip\n", len(q.Choices))
			continue
		}
		return response.Closed{SelectedOption: q.Choices[n-1].ID}, true
	}
}
