package question

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
)

type Kind string

const (
	KindClosed Kind = "closed"
	KindOpen   Kind = "open"
)

type Choice struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Position  int    `json:"position"`
	IsCorrect bool   `json:"isCorrect"`
}

type Question struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Kind     Kind   `json:"kind"`
	Position int    `json:"position"`
	// ReferenceAnswer is a model answer for open questions, never shown to students.
	ReferenceAnswer string    `json:"referenceAnswer,omitempty"`
	Choices         []Choice  `json:"choices"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CorrectChoices returns the ids of the choices flagged correct.
// Exactly one is expected but this is not enforced on write.
func (q Question) CorrectChoices() []string {
	ids := make([]string, 0, 1)
	for _, c := range q.Choices {
		if c.IsCorrect {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (q Question) HasChoice(id string) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Weighted is a Question as used by one Evaluation.
type Weighted struct {
	Question
	Weight float64 `json:"weight"`
}

type (
	StudentChoice struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Position  int    `json:"position"`
		IsCorrect *bool  `json:"isCorrect,omitempty"`
	}

	StudentQuestion struct {
		ID       string          `json:"id"`
		Text     string          `json:"text"`
		Kind     Kind            `json:"kind"`
		Position int             `json:"position"`
		Points   float64         `json:"points"`
		Choices  []StudentChoice `json:"choices"`
	}

	// Paper is an Evaluation with its questions, as handed to students.
	Paper struct {
		evaluation.Evaluation
		Questions []StudentQuestion `json:"questions"`
	}
)

// StudentView strips what students must not see. Correct choices are revealed when reveal is set.
func (w Weighted) StudentView(reveal bool) StudentQuestion {
	sq := StudentQuestion{
		ID:       w.ID,
		Text:     w.Text,
		Kind:     w.Kind,
		Position: w.Position,
		Points:   w.Weight,
		Choices:  make([]StudentChoice, 0, len(w.Choices)),
	}
	for _, c := range w.Choices {
		sc := StudentChoice{ID: c.ID, Text: c.Text, Position: c.Position}
		if reveal {
			isCorrect := c.IsCorrect
			sc.IsCorrect = &isCorrect
		}
		sq.Choices = append(sq.Choices, sc)
	}
	return sq
}

type NewChoice struct {
	Text      string `json:"text" validate:"notblank"`
	IsCorrect bool   `json:"isCorrect"`
}

// NewQuestion contains information needed to add a Question to the bank.
type NewQuestion struct {
	Text            string      `json:"text" validate:"notblank"`
	Kind            Kind        `json:"kind" validate:"required,oneof=closed open"`
	Position        int         `json:"position" validate:"gte=0"`
	ReferenceAnswer string      `json:"referenceAnswer"`
	Choices         []NewChoice `json:"choices" validate:"dive"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.Text = core.CleanString(nq.Text)
	nq.ReferenceAnswer = core.CleanString(nq.ReferenceAnswer)
	for i := range nq.Choices {
		nq.Choices[i].Text = core.CleanString(nq.Choices[i].Text)
	}

	if err := validate.Struct(nq); err != nil {
		return err
	}
	switch {
	case nq.Kind == KindClosed && len(nq.Choices) < 2:
		return core.NewValidationError(errors.New("invalid choices"),
			core.FieldError{Field: "choices", Error: "a closed question needs at least 2 choices"})
	case nq.Kind == KindOpen && len(nq.Choices) > 0:
		return core.NewValidationError(errors.New("invalid choices"),
			core.FieldError{Field: "choices", Error: "an open question has no choices"})
	}
	return nil
}

// Attachment links a bank Question to an Evaluation with the points it is worth there.
type Attachment struct {
	QuestionID string  `json:"questionId" validate:"required"`
	Weight     float64 `json:"weight" validate:"gt=0"`
}

func (a *Attachment) Validate(validate *validator.Validate) error {
	a.QuestionID = core.CleanString(a.QuestionID)
	return validate.Struct(a)
}
