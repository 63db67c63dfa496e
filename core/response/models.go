package response

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
)

type GradingStatus string

const (
	GradingPending GradingStatus = "pending"
	GradingGraded  GradingStatus = "graded"
	// GradingPartial means at least one answer could not be scored; Score sums the others.
	GradingPartial GradingStatus = "partial"
)

// NewSheetRef stands in for the sheet id of an attempt started offline.
const NewSheetRef = "new"

// Sheet is one student's single attempt at one evaluation.
type Sheet struct {
	ID               string        `json:"id"`
	EvaluationID     string        `json:"evaluationId"`
	Matricule        string        `json:"matricule"`
	ServerStartTime  time.Time     `json:"serverStartTime"`
	ClientStartTime  null.Time     `json:"clientStartTime"`
	SubmittedAt      null.Time     `json:"submittedAt"`
	ServerSubmitTime null.Time     `json:"serverSubmitTime"`
	Score            null.Float64  `json:"score"`
	Status           Status        `json:"status"`
	GradingStatus    GradingStatus `json:"gradingStatus"`

	AttemptLocalID      null.String `json:"attemptLocalId"`
	IsOfflineSubmission bool        `json:"isOfflineSubmission"`
	OfflineSubmittedAt  null.Time   `json:"offlineSubmittedAt"`
	SyncedAt            null.Time   `json:"syncedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Answers []Answer `json:"answers,omitempty"`
}

func (s Sheet) IsSubmitted() bool { return s.SubmittedAt.Valid }

// Response is what a student gave for one question: either Closed or Open.
type Response interface {
	Kind() question.Kind
}

type (
	Closed struct {
		SelectedOption string
	}

	Open struct {
		Text string
	}
)

func (Closed) Kind() question.Kind { return question.KindClosed }
func (Open) Kind() question.Kind   { return question.KindOpen }

type Answer struct {
	SheetID    string
	QuestionID string
	Response   Response

	Score         null.Float64
	Feedback      null.String
	Confidence    null.Float64
	GradingSource null.String
	UpdatedAt     time.Time
}

func (a Answer) SelectedOption() string {
	if c, ok := a.Response.(Closed); ok {
		return c.SelectedOption
	}
	return ""
}

func (a Answer) Text() string {
	if o, ok := a.Response.(Open); ok {
		return o.Text
	}
	return ""
}

type answerJSON struct {
	QuestionID       string        `json:"questionId"`
	Type             question.Kind `json:"type"`
	SelectedOption   *string       `json:"selectedOption,omitempty"`
	OpenTextResponse *string       `json:"openTextResponse,omitempty"`
	Score            null.Float64  `json:"score"`
	Feedback         null.String   `json:"feedback"`
	Confidence       null.Float64  `json:"gradingConfidence"`
	GradingSource    null.String   `json:"gradingSource"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func (a Answer) MarshalJSON() ([]byte, error) {
	out := answerJSON{
		QuestionID:    a.QuestionID,
		Score:         a.Score,
		Feedback:      a.Feedback,
		Confidence:    a.Confidence,
		GradingSource: a.GradingSource,
		UpdatedAt:     a.UpdatedAt,
	}
	switch r := a.Response.(type) {
	case Closed:
		out.Type = question.KindClosed
		out.SelectedOption = &r.SelectedOption
	case Open:
		out.Type = question.KindOpen
		out.OpenTextResponse = &r.Text
	}
	return json.Marshal(out)
}

// AnswerInput is an answer as sent by clients.
type AnswerInput struct {
	QuestionID       string        `json:"questionId" validate:"required"`
	Type             question.Kind `json:"type" validate:"required,oneof=closed open"`
	SelectedOption   *string       `json:"selectedOption,omitempty"`
	OpenTextResponse *string       `json:"openTextResponse,omitempty"`
}

// Response keeps only the field relevant to the declared type.
func (in AnswerInput) Response() Response {
	if in.Type == question.KindOpen {
		var text string
		if in.OpenTextResponse != nil {
			text = *in.OpenTextResponse
		}
		return Open{Text: text}
	}
	var opt string
	if in.SelectedOption != nil {
		opt = core.CleanString(*in.SelectedOption)
	}
	return Closed{SelectedOption: opt}
}

func ClosedInput(questionID, choiceID string) AnswerInput {
	return AnswerInput{QuestionID: questionID, Type: question.KindClosed, SelectedOption: &choiceID}
}

func OpenInput(questionID, text string) AnswerInput {
	return AnswerInput{QuestionID: questionID, Type: question.KindOpen, OpenTextResponse: &text}
}

type AnswersRequest struct {
	Answers []AnswerInput `json:"answers" validate:"dive"`
}

func (ar *AnswersRequest) Validate(validate *validator.Validate) error {
	for i := range ar.Answers {
		ar.Answers[i].QuestionID = core.CleanString(ar.Answers[i].QuestionID)
	}
	return validate.Struct(ar)
}

type StartRequest struct {
	Matricule       string     `json:"matricule" validate:"omitempty,matricule"`
	ClientStartTime *time.Time `json:"clientStartTime"`
}

func (sr *StartRequest) Validate(validate *validator.Validate) error {
	sr.Matricule = core.CleanString(sr.Matricule)
	return validate.Struct(sr)
}

type StartResult struct {
	ResponseSheetID string                     `json:"responseSheetId"`
	Sheet           Sheet                      `json:"sheet"`
	Questions       []question.StudentQuestion `json:"questions"`
	EndsAt          time.Time                  `json:"endsAt"`
	DurationSeconds int64                      `json:"durationSeconds"`
}

// OfflineSubmission is an attempt replayed by a client, keyed by its AttemptLocalID.
type OfflineSubmission struct {
	EvaluationID        string        `json:"evaluationId"`
	AttemptLocalID      string        `json:"attemptLocalId" validate:"required,max=64"`
	ClientStartTime     *time.Time    `json:"clientStartTime"`
	SubmittedAt         *time.Time    `json:"submittedAt"`
	IsOfflineSubmission bool          `json:"isOfflineSubmission"`
	Answers             []AnswerInput `json:"answers" validate:"dive"`
}

func (sub *OfflineSubmission) Validate(validate *validator.Validate) error {
	sub.EvaluationID = core.CleanString(sub.EvaluationID)
	sub.AttemptLocalID = core.CleanString(sub.AttemptLocalID)
	for i := range sub.Answers {
		sub.Answers[i].QuestionID = core.CleanString(sub.Answers[i].QuestionID)
	}
	return validate.Struct(sub)
}

type OfflineReceipt struct {
	ResponseSheetID string    `json:"responseSheetId"`
	Success         bool      `json:"success"`
	SubmittedAt     time.Time `json:"submittedAt"`
	Message         string    `json:"message"`
	Duplicate       bool      `json:"duplicate"`
}

type SheetFilter struct {
	EvaluationID string
	Matricule    string
	Statuses     []Status
}

func answerField(i int, name string) string {
	return fmt.Sprintf("answers[%d].%s", i, name)
}
