package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/question"
)

type (
	seedFile struct {
		Questions   []seedQuestion   `yaml:"questions"`
		Evaluations []seedEvaluation `yaml:"evaluations"`
	}

	seedChoice struct {
		Text    string `yaml:"text"`
		Correct bool   `yaml:"correct"`
	}

	seedQuestion struct {
		Ref             string       `yaml:"ref"`
		Text            string       `yaml:"text"`
		Kind            string       `yaml:"kind"`
		Position        int          `yaml:"position"`
		ReferenceAnswer string       `yaml:"referenceAnswer"`
		Choices         []seedChoice `yaml:"choices"`
	}

	seedAttachment struct {
		Ref    string  `yaml:"ref"`
		Weight float64 `yaml:"weight"`
	}

	seedEvaluation struct {
		CourseCode    string           `yaml:"courseCode"`
		Type          string           `yaml:"type"`
		PublishedDate string           `yaml:"publishedDate"`
		StartTime     string           `yaml:"startTime"`
		EndTime       string           `yaml:"endTime"`
		Publish       bool             `yaml:"publish"`
		Questions     []seedAttachment `yaml:"questions"`
	}
)

func readSeedFile(path string) (seedFile, error) {
	var sf seedFile
	data, err := os.ReadFile(path)
	if err != nil {
		return sf, errors.Wrap(err, "reading seed file")
	}
	if err = yaml.Unmarshal(data, &sf); err != nil {
		return sf, errors.Wrap(err, "parsing seed file")
	}
	return sf, nil
}

func (sq seedQuestion) toNew() question.NewQuestion {
	nq := question.NewQuestion{
		Text:            sq.Text,
		Kind:            question.Kind(sq.Kind),
		Position:        sq.Position,
		ReferenceAnswer: sq.ReferenceAnswer,
	}
	for _, c := range sq.Choices {
		nq.Choices = append(nq.Choices, question.NewChoice{Text: c.Text, IsCorrect: c.Correct})
	}
	return nq
}

func (se seedEvaluation) toNew() (evaluation.NewEvaluation, error) {
	ne := evaluation.NewEvaluation{CourseCode: se.CourseCode, Type: se.Type}
	var err error
	if ne.PublishedDate, err = core.ParseDate(se.PublishedDate); err != nil {
		return ne, errors.Wrapf(err, "%s %s: publishedDate", se.CourseCode, se.Type)
	}
	if ne.StartTime, err = core.ParseClockTime(se.StartTime); err != nil {
		return ne, errors.Wrapf(err, "%s %s: startTime", se.CourseCode, se.Type)
	}
	if ne.EndTime, err = core.ParseClockTime(se.EndTime); err != nil {
		return ne, errors.Wrapf(err, "%s %s: endTime", se.CourseCode, se.Type)
	}
	return ne, nil
}

// seed is re-runnable: evaluations that already exist are left as they are and their questions are not recreated.
func (cli *commandLine) seed(path string) error {
	sf, err := readSeedFile(path)
	if err != nil {
		return err
	}
	svcs, err := cli.services()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bank := make(map[string]seedQuestion, len(sf.Questions))
	for _, sq := range sf.Questions {
		if _, dup := bank[sq.Ref]; dup || sq.Ref == "" {
			return fmt.Errorf("question %q: ref must be set and unique", sq.Ref)
		}
		bank[sq.Ref] = sq
	}
	created := make(map[string]string, len(bank)) // ref -> question id
	questionID := func(ref string) (string, error) {
		if id, ok := created[ref]; ok {
			return id, nil
		}
		sq, ok := bank[ref]
		if !ok {
			return "", fmt.Errorf("unknown question %q", ref)
		}
		nq := sq.toNew()
		if err := nq.Validate(svcs.validate); err != nil {
			return "", errors.Wrapf(err, "question %q", ref)
		}
		q, err := svcs.questions.Create(ctx, nq)
		if err != nil {
			return "", errors.Wrapf(err, "question %q", ref)
		}
		created[ref] = q.ID
		return q.ID, nil
	}

	for _, se := range sf.Evaluations {
		ne, err := se.toNew()
		if err != nil {
			return err
		}
		if err = ne.Validate(svcs.validate); err != nil {
			return errors.Wrapf(err, "evaluation %s %s", se.CourseCode, se.Type)
		}
		ev, err := svcs.evals.Create(ctx, ne)
		if errors.Cause(err) == evaluation.ErrExists {
			fmt.Fprintf(cli.out, "skipped %s %s: exists (%s)\n", ev.CourseCode, ev.Type, ev.ID)
			continue
		} else if err != nil {
			return errors.Wrapf(err, "evaluation %s %s", se.CourseCode, se.Type)
		}

		for _, at := range se.Questions {
			id, err := questionID(at.Ref)
			if err != nil {
				return errors.Wrapf(err, "evaluation %s %s", se.CourseCode, se.Type)
			}
			if err = svcs.questions.Attach(ctx, ev.ID, question.Attachment{QuestionID: id, Weight: at.Weight}); err != nil {
				return errors.Wrapf(err, "evaluation %s %s: attaching %q", se.CourseCode, se.Type, at.Ref)
			}
		}
		if se.Publish {
			if ev, err = svcs.evals.Publish(ctx, ev.ID); err != nil {
				return errors.Wrapf(err, "evaluation %s %s: publishing", se.CourseCode, se.Type)
			}
		}
		fmt.Fprintf(cli.out, "seeded %s %s (%s, %s, %d question(s))\n", ev.CourseCode, ev.Type, ev.ID, ev.Status, len(se.Questions))
	}
	return nil
}
