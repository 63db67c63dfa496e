package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/evaluation"
)

func (cli *commandLine) publish(id string) error {
	svcs, err := cli.services()
	if err != nil {
		return err
	}
	ev, err := svcs.evals.Publish(context.Background(), id)
	if err != nil {
		return errors.Wrap(err, "publishing evaluation")
	}
	fmt.Fprintf(cli.out, "published %s %s (%s %s-%s)\n", ev.CourseCode, ev.Type, ev.PublishedDate, ev.StartTime, ev.EndTime)
	return nil
}

// complete mirrors the completion job for a single evaluation.
func (cli *commandLine) complete(id string) error {
	svcs, err := cli.services()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ev, err := svcs.evals.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ev.IsPublished() {
		return evaluation.ErrInvalidTransition
	}
	n, err := svcs.responses.Finalize(ctx, id)
	if err != nil {
		return errors.Wrap(err, "finalizing response sheets")
	}
	if ev, err = svcs.evals.Complete(ctx, id); err != nil {
		return errors.Wrap(err, "completing evaluation")
	}
	fmt.Fprintf(cli.out, "completed %s %s, %d sheet(s) finalized\n", ev.CourseCode, ev.Type, n)
	return nil
}
