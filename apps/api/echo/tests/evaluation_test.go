package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/question"
)

func Test_home(t *testing.T) {
	_, app := setup(t)
	req, rec := newAuthRequest(http.MethodGet, "/", "")
	app.ServeHTTP(rec, req)
	checkCodeAndText(t, rec, http.StatusOK, "Welcome to Mtihani API!")
}

func Test_evaluationApi_auth(t *testing.T) {
	env, app := setup(t)
	studentTk := studentToken(t, env, student)

	run(t, app, []httpTest{
		{name: "Auth required", path: "/api/evaluations", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Staff required", path: "/api/evaluations", token: studentTk, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "Staff required (questions)", method: http.MethodPost, path: "/api/questions", token: studentTk,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Student required", path: "/api/evaluation/student", token: staffToken(t, env),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{name: "Student list", path: "/api/evaluation/student", token: studentTk, wantData: []byte("[]")},
	})
}

func Test_evaluationApi_create(t *testing.T) {
	env, app := setup(t)
	token := staffToken(t, env)

	body := []byte(`{"courseCode": "CS301", "type": "midterm", "publishedDate": "2026-03-02", "startTime": "09:00", "endTime": "11:00"}`)
	req, rec := newAuthRequest(http.MethodPost, "/api/evaluations", token, body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created evaluation.Evaluation
	unmarshal(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, evaluation.StatusDraft, created.Status)
	assert.Equal(t, "11:00", created.EndTime.String())

	run(t, app, []httpTest{
		{
			name: "Duplicate", method: http.MethodPost, path: "/api/evaluations", token: token, body: body,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: evaluation.ErrExists.Message}),
		},
		{
			name: "Missing course", method: http.MethodPost, path: "/api/evaluations", token: token,
			body:     []byte(`{"type": "quiz", "publishedDate": "2026-03-02", "startTime": "09:00", "endTime": "11:00"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"courseCode": "this field is required"}`),
		},
		{
			name: "Bad window", method: http.MethodPost, path: "/api/evaluations", token: token,
			body:     []byte(`{"courseCode": "CS302", "type": "quiz", "publishedDate": "2026-03-02", "startTime": "11:00", "endTime": "09:00"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"endTime": "must be after startTime"}`),
		},
		{
			name: "Bad time", method: http.MethodPost, path: "/api/evaluations", token: token,
			body:     []byte(`{"courseCode": "CS302", "type": "quiz", "publishedDate": "2026-03-02", "startTime": "9am", "endTime": "11:00"}`),
			wantCode: http.StatusBadRequest,
		},
		{name: "Retrieve unknown", path: "/api/evaluations/nope", token: token, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: evaluation.ErrNotFound.Message})},
		{
			name: "Update", method: http.MethodPut, path: "/api/evaluations/" + created.ID, token: token,
			body: []byte(`{"courseCode": "CS301", "type": "midterm", "publishedDate": "2026-03-03", "startTime": "10:00", "endTime": "11:00"}`),
		},
		{name: "Publish without questions", method: http.MethodPost, path: "/api/evaluations/" + created.ID + "/publish", token: token,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: evaluation.ErrNoQuestions.Message})},
		{name: "Delete", method: http.MethodDelete, path: "/api/evaluations/" + created.ID, token: token, wantCode: http.StatusNoContent},
		{name: "Deleted is gone", path: "/api/evaluations/" + created.ID, token: token, wantCode: http.StatusNotFound},
	})
}

func Test_evaluationApi_questions(t *testing.T) {
	env, app := setup(t)
	ctx := context.Background()
	token := staffToken(t, env)
	ev := env.CreateEvaluation(t, "CS303", evaluation.TypeQuiz, core.NewClockTime(9, 0), core.NewClockTime(10, 0))

	req, rec := newAuthRequest(http.MethodPost, "/api/questions", token, []byte(
		`{"text": "Capital of Kenya?", "kind": "closed", "choices": [{"text": "Nairobi", "isCorrect": true}, {"text": "Mombasa"}]}`,
	))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var q question.Question
	unmarshal(t, rec, &q)
	require.Len(t, q.Choices, 2)

	run(t, app, []httpTest{
		{
			name: "Closed question needs choices", method: http.MethodPost, path: "/api/questions", token: token,
			body:     []byte(`{"text": "?", "kind": "closed", "choices": [{"text": "only"}]}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"choices": "a closed question needs at least 2 choices"}`),
		},
		{
			name: "Attach unknown question", method: http.MethodPost, path: "/api/evaluations/" + ev.ID + "/questions", token: token,
			body: []byte(`{"questionId": "nope", "weight": 2}`), wantCode: http.StatusNotFound,
		},
		{
			name: "Attach needs a weight", method: http.MethodPost, path: "/api/evaluations/" + ev.ID + "/questions", token: token,
			body: []byte(`{"questionId": "` + q.ID + `"}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "Attach", method: http.MethodPost, path: "/api/evaluations/" + ev.ID + "/questions", token: token,
			body: []byte(`{"questionId": "` + q.ID + `", "weight": 2.5}`), wantData: []byte(`{"success": "question attached"}`),
		},
		{name: "Publish", method: http.MethodPost, path: "/api/evaluations/" + ev.ID + "/publish", token: token},
		{
			name: "Publish twice", method: http.MethodPost, path: "/api/evaluations/" + ev.ID + "/publish", token: token,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: evaluation.ErrInvalidTransition.Message}),
		},
		{
			name: "Detach from published", method: http.MethodDelete, path: "/api/evaluations/" + ev.ID + "/questions/" + q.ID, token: token,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: evaluation.ErrPublished.Message}),
		},
		{
			name: "Delete published", method: http.MethodDelete, path: "/api/evaluations/" + ev.ID, token: token,
			wantCode: http.StatusForbidden,
		},
	})

	t.Run("staff view reveals answers", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/evaluations/"+ev.ID, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var paper struct {
			Status    evaluation.Status   `json:"status"`
			Questions []question.Weighted `json:"questions"`
		}
		unmarshal(t, rec, &paper)
		assert.Equal(t, evaluation.StatusPublished, paper.Status)
		require.Len(t, paper.Questions, 1)
		assert.Equal(t, 2.5, paper.Questions[0].Weight)
		assert.Equal(t, []string{q.Choices[0].ID}, paper.Questions[0].CorrectChoices())
	})

	t.Run("student view hides answers", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/evaluation/student", studentToken(t, env, student))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "isCorrect")

		var papers []question.Paper
		unmarshal(t, rec, &papers)
		require.Len(t, papers, 1)
		assert.Equal(t, ev.ID, papers[0].ID)
		require.Len(t, papers[0].Questions, 1)
		assert.Equal(t, 2.5, papers[0].Questions[0].Points)
	})

	t.Run("query by status", func(t *testing.T) {
		env.CreateEvaluation(t, "CS304", evaluation.TypeQuiz, core.NewClockTime(9, 0), core.NewClockTime(10, 0))
		req, rec := newAuthRequest(http.MethodGet, "/api/evaluations?status=published", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var evs []evaluation.Evaluation
		unmarshal(t, rec, &evs)
		require.Len(t, evs, 1)
		assert.Equal(t, ev.ID, evs[0].ID)

		all, err := env.Evals.Query(ctx, evaluation.QueryFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}
