package evaluation

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCompleted Status = "completed"
)

// Evaluation types
const (
	TypeMidterm    = "midterm"
	TypeFinal      = "final"
	TypeResit      = "resit"
	TypeQuiz       = "quiz"
	TypeAssignment = "assignment"
)

var Types = []string{TypeMidterm, TypeFinal, TypeResit, TypeQuiz, TypeAssignment}

// Window is the published day plus the time-of-day bounds of an evaluation.
type Window struct {
	PublishedDate core.Date      `json:"publishedDate"`
	StartTime     core.ClockTime `json:"startTime"`
	EndTime       core.ClockTime `json:"endTime"`
}

func (w Window) Opens(loc *time.Location) time.Time {
	return w.StartTime.On(w.PublishedDate, loc)
}

func (w Window) Closes(loc *time.Location) time.Time {
	return w.EndTime.On(w.PublishedDate, loc)
}

// Duration is what the client countdown starts from.
func (w Window) Duration() time.Duration {
	return time.Duration(w.EndTime.Minutes-w.StartTime.Minutes) * time.Minute
}

func (w Window) validate() []core.FieldError {
	var flds []core.FieldError
	if w.PublishedDate.IsZero() {
		flds = append(flds, core.FieldError{Field: "publishedDate", Error: "this field is required"})
	}
	if w.EndTime.Minutes <= w.StartTime.Minutes {
		flds = append(flds, core.FieldError{Field: "endTime", Error: "must be after startTime"})
	}
	return flds
}

type Evaluation struct {
	ID         string `json:"id"`
	CourseCode string `json:"courseCode"`
	Type       string `json:"type"`
	Window
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
}

func (e Evaluation) IsDraft() bool     { return e.Status == StatusDraft }
func (e Evaluation) IsPublished() bool { return e.Status == StatusPublished }
func (e Evaluation) IsCompleted() bool { return e.Status == StatusCompleted }
func (e Evaluation) IsDeleted() bool   { return e.DeletedAt != nil }

// NewEvaluation contains information needed to create a new Evaluation.
type NewEvaluation struct {
	CourseCode string `json:"courseCode" validate:"required,max=32,alphanum_"`
	Type       string `json:"type" validate:"required,oneof=midterm final resit quiz assignment"`
	Window
}

func (ne *NewEvaluation) Validate(validate *validator.Validate) error {
	ne.CourseCode = core.CleanString(ne.CourseCode)
	ne.Type = core.CleanString(ne.Type, true /* lower */)

	if err := validate.Struct(ne); err != nil {
		return err
	}
	if flds := ne.Window.validate(); len(flds) > 0 {
		return core.NewValidationError(errors.New("invalid window"), flds...)
	}
	return nil
}

// UpdateEvaluation defines what may be changed on a Draft Evaluation.
type UpdateEvaluation NewEvaluation

func (ue *UpdateEvaluation) Validate(validate *validator.Validate) error {
	return (*NewEvaluation)(ue).Validate(validate)
}

type QueryFilter struct {
	Statuses    []Status `query:"status"`
	CourseCodes []string `query:"course"`
}
