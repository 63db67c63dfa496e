package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	testutil "github.com/trezcool/mtihani/tests"
)

const (
	student      = "ST2026/001"
	otherStudent = "ST2026/002"
	staff        = "STAFF/01"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

func setup(t *testing.T) (*testutil.Env, *Server) {
	env := testutil.NewEnv(t)
	validate, translator := testutil.NewValidator()

	app := NewServer(ServerDeps{
		Conf:        env.Conf,
		Logger:      core.NopLogger{},
		Validate:    validate,
		Translator:  translator,
		EvalSvc:     env.Evals,
		QuestionSvc: env.Questions,
		ResponseSvc: env.Responses,
	})
	t.Cleanup(func() { _ = app.Close() })
	return env, app
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, conf *core.Config, matricule string, roles ...string) string {
	token, err := GenerateToken(NewClaims(conf, matricule, "", roles...), conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func studentToken(t *testing.T, env *testutil.Env, matricule string) string {
	return getToken(t, env.Conf, matricule, RoleStudent)
}

func staffToken(t *testing.T, env *testutil.Env) string {
	return getToken(t, env.Conf, staff, RoleStaff)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}

func checkCodeAndText(t *testing.T, rec *httptest.ResponseRecorder, wantCode int, wantText string) {
	assert.Equal(t, wantCode, rec.Code)
	assert.Equal(t, wantText, rec.Body.String())
}

func run(t *testing.T, app *Server, tests []httpTest) {
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
