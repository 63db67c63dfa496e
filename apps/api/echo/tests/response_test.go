package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/response"
	testutil "github.com/trezcool/mtihani/tests"
)

func startSheet(t *testing.T, app *Server, evaluationID, token string) response.StartResult {
	req, rec := newAuthRequest(http.MethodPost, "/api/evaluation/"+evaluationID+"/start", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res response.StartResult
	unmarshal(t, rec, &res)
	return res
}

func answersBody(fx testutil.Fixture, choice, text string) []byte {
	return []byte(fmt.Sprintf(
		`{"answers": [{"questionId": %q, "type": "closed", "selectedOption": %q}, {"questionId": %q, "type": "open", "openTextResponse": %q}]}`,
		fx.Closed.ID, fx.Choice(choice), fx.Open.ID, text,
	))
}

func Test_responseApi_start(t *testing.T) {
	env, app := setup(t)
	fx := env.NewFixture(t, "CS401")
	token := studentToken(t, env, student)
	path := "/api/evaluation/" + fx.Evaluation.ID + "/start"

	run(t, app, []httpTest{
		{name: "Auth required", method: http.MethodPost, path: path, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Students only", method: http.MethodPost, path: path, token: staffToken(t, env), wantCode: http.StatusForbidden},
		{
			name: "Before window", method: http.MethodPost, path: path, token: token,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: evaluation.ErrUnavailable.Message}),
		},
	})

	env.Clock.Set(testutil.At(9, 5))
	first := startSheet(t, app, fx.Evaluation.ID, token)
	assert.NotEmpty(t, first.ResponseSheetID)
	assert.Equal(t, int64(3600), first.DurationSeconds)
	assert.Len(t, first.Questions, 2)

	again := startSheet(t, app, fx.Evaluation.ID, token)
	assert.Equal(t, first.ResponseSheetID, again.ResponseSheetID)

	run(t, app, []httpTest{
		{
			name: "Matricule must be the caller's", method: http.MethodPost, path: path, token: token,
			body:     []byte(`{"matricule": "` + otherStudent + `"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: response.ErrForbidden.Message}),
		},
		{
			name: "Unknown evaluation", method: http.MethodPost, path: "/api/evaluation/nope/start", token: token,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: evaluation.ErrNotFound.Message}),
		},
	})
}

func Test_responseApi_answerAndSubmit(t *testing.T) {
	env, app := setup(t)
	fx := env.NewFixture(t, "CS402")
	token := studentToken(t, env, student)
	env.Clock.Set(testutil.At(9, 5))
	sheetID := startSheet(t, app, fx.Evaluation.ID, token).ResponseSheetID
	base := "/api/evaluation/response/" + sheetID

	run(t, app, []httpTest{
		{
			name: "Unknown question", method: http.MethodPost, path: base + "/answers", token: token,
			body:     []byte(`{"answers": [{"questionId": "nope", "type": "open", "openTextResponse": "hi"}]}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"answers[0].questionId": "question is not part of this evaluation"}`),
		},
		{
			name: "Missing type", method: http.MethodPost, path: base + "/answers", token: token,
			body:     []byte(`{"answers": [{"questionId": "` + fx.Open.ID + `"}]}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"answers[0].type": "this field is required"}`),
		},
		{
			name: "Other student", method: http.MethodPost, path: base + "/answers", token: studentToken(t, env, otherStudent),
			body:     answersBody(fx, "B", "hi"),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: response.ErrForbidden.Message}),
		},
		{name: "Other student cannot read", path: base, token: studentToken(t, env, otherStudent), wantCode: http.StatusForbidden},
		{name: "Unknown sheet", path: "/api/evaluation/response/nope", token: token, wantCode: http.StatusNotFound},
	})

	t.Run("save", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, base+"/answers", token, answersBody(fx, "A", "gravity"))
		app.ServeHTTP(rec, req)
		checkCodeAndText(t, rec, http.StatusOK, "Answers saved.")
	})

	t.Run("submit", func(t *testing.T) {
		env.Clock.Set(testutil.At(9, 30))
		req, rec := newAuthRequest(http.MethodPost, base+"/submit", token, answersBody(fx, "B", "mass attracts mass"))
		app.ServeHTTP(rec, req)
		checkCodeAndText(t, rec, http.StatusOK, "Response sheet submitted.")
	})

	t.Run("read back", func(t *testing.T) {
		for _, tk := range []string{token, staffToken(t, env)} {
			req, rec := newAuthRequest(http.MethodGet, base, tk)
			app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)

			var sheet struct {
				Status        response.Status        `json:"status"`
				GradingStatus response.GradingStatus `json:"gradingStatus"`
				Score         float64                `json:"score"`
				Answers       []struct {
					QuestionID     string  `json:"questionId"`
					SelectedOption string  `json:"selectedOption"`
					Score          float64 `json:"score"`
				} `json:"answers"`
			}
			unmarshal(t, rec, &sheet)
			assert.Equal(t, response.StatusSubmitted, sheet.Status)
			assert.Equal(t, response.GradingGraded, sheet.GradingStatus)
			assert.Equal(t, 8.0, sheet.Score)
			assert.Len(t, sheet.Answers, 2)
		}
	})

	errSubmitted := marchallObj(t, httpErr{Error: response.ErrAlreadySubmitted.Message})
	run(t, app, []httpTest{
		{
			name: "Save after submit", method: http.MethodPost, path: base + "/answers", token: token,
			body: answersBody(fx, "C", "changed"), wantCode: http.StatusForbidden, wantData: errSubmitted,
		},
		{
			name: "Submit twice", method: http.MethodPost, path: base + "/submit", token: token,
			body: answersBody(fx, "C", "changed"), wantCode: http.StatusForbidden, wantData: errSubmitted,
		},
		{name: "Regrade is staff only", method: http.MethodPost, path: base + "/regrade", token: token, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "Regrade", method: http.MethodPost, path: base + "/regrade", token: staffToken(t, env)},
	})
}

func Test_responseApi_submitOffline(t *testing.T) {
	env, app := setup(t)
	fx := env.NewFixture(t, "CS403")
	token := studentToken(t, env, student)
	env.Clock.Set(testutil.At(10, 20))

	body := []byte(fmt.Sprintf(
		`{"evaluationId": %q, "attemptLocalId": "8c1f7f0e-att", "clientStartTime": "2026-03-02T09:01:00Z", "submittedAt": "2026-03-02T09:41:00Z", "isOfflineSubmission": true, `+
			`"answers": [{"questionId": %q, "type": "closed", "selectedOption": %q}]}`,
		fx.Evaluation.ID, fx.Closed.ID, fx.Choice("B"),
	))
	submit := func(sheetRef, tk string, data []byte) (int, []byte) {
		req, rec := newAuthRequest(http.MethodPost, "/api/responseSheet/"+sheetRef+"/submit-offline", tk, data)
		app.ServeHTTP(rec, req)
		return rec.Code, rec.Body.Bytes()
	}

	code, data := submit(response.NewSheetRef, token, body)
	require.Equal(t, http.StatusOK, code, string(data))
	var receipt response.OfflineReceipt
	require.NoError(t, json.Unmarshal(data, &receipt))
	assert.True(t, receipt.Success)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, testutil.At(9, 41), receipt.SubmittedAt)

	t.Run("replay", func(t *testing.T) {
		code, data := submit(response.NewSheetRef, token, body)
		require.Equal(t, http.StatusOK, code, string(data))
		var again response.OfflineReceipt
		require.NoError(t, json.Unmarshal(data, &again))
		assert.True(t, again.Duplicate)
		assert.Equal(t, receipt.ResponseSheetID, again.ResponseSheetID)
	})

	t.Run("another attempt on the submitted sheet", func(t *testing.T) {
		other := []byte(`{"attemptLocalId": "second-att", "answers": []}`)
		code, data := submit(receipt.ResponseSheetID, token, other)
		assert.Equal(t, http.StatusForbidden, code)
		want := marchallObj(t, map[string]string{
			"error":           response.ErrAlreadySubmitted.Message,
			"responseSheetId": receipt.ResponseSheetID,
		})
		assert.JSONEq(t, string(want), string(data))
	})

	run(t, app, []httpTest{
		{
			name: "Attempt id required", method: http.MethodPost, path: "/api/responseSheet/new/submit-offline", token: token,
			body:     []byte(`{"evaluationId": "` + fx.Evaluation.ID + `"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"attemptLocalId": "this field is required"}`),
		},
		{
			name: "Evaluation required for new sheets", method: http.MethodPost, path: "/api/responseSheet/new/submit-offline", token: token,
			body:     []byte(`{"attemptLocalId": "third-att"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"evaluationId": "this field is required"}`),
		},
		{
			name: "Someone else's sheet", method: http.MethodPost, path: "/api/responseSheet/" + receipt.ResponseSheetID + "/submit-offline",
			token: studentToken(t, env, otherStudent), body: []byte(`{"attemptLocalId": "fourth-att"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: response.ErrForbidden.Message}),
		},
	})
}

func Test_evaluationApi_complete(t *testing.T) {
	env, app := setup(t)
	fx := env.NewFixture(t, "CS404")
	token := studentToken(t, env, student)
	env.Clock.Set(testutil.At(9, 5))
	sheetID := startSheet(t, app, fx.Evaluation.ID, token).ResponseSheetID

	req, rec := newAuthRequest(http.MethodPost, "/api/evaluation/response/"+sheetID+"/answers", token, answersBody(fx, "B", ""))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	env.Clock.Set(testutil.At(10, 30))
	staffTk := staffToken(t, env)
	run(t, app, []httpTest{
		{name: "Complete", method: http.MethodPost, path: "/api/evaluations/" + fx.Evaluation.ID + "/complete", token: staffTk},
		{
			name: "Complete twice", method: http.MethodPost, path: "/api/evaluations/" + fx.Evaluation.ID + "/complete", token: staffTk,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: evaluation.ErrInvalidTransition.Message}),
		},
	})

	req, rec = newAuthRequest(http.MethodGet, "/api/evaluations/"+fx.Evaluation.ID+"/sheets", staffTk)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sheets []response.Sheet
	unmarshal(t, rec, &sheets)
	require.Len(t, sheets, 1)
	assert.Equal(t, response.StatusSubmitted, sheets[0].Status)
	assert.Equal(t, 5.0, sheets[0].Score.Float64)
}
