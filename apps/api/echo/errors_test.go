package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/response"
)

func Test_errorBody(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody interface{}
		wantOk   bool
	}{
		{name: "missing jwt", err: middleware.ErrJWTMissing, wantCode: http.StatusUnauthorized, wantBody: "missing or malformed jwt", wantOk: true},
		{
			name:     "wrapped http error",
			err:      echo.NewHTTPError(http.StatusBadRequest).SetInternal(errHttpForbidden),
			wantCode: http.StatusForbidden,
			wantBody: "permission denied",
			wantOk:   true,
		},
		{
			name:     "field errors",
			err:      core.NewValidationError(nil, core.FieldError{Field: "questionId", Error: "unknown question"}),
			wantCode: http.StatusBadRequest,
			wantBody: map[string]string{"questionId": "unknown question"},
			wantOk:   true,
		},
		{name: "plain validation", err: core.NewValidationError(errors.New("no answers")), wantCode: http.StatusBadRequest, wantBody: "no answers", wantOk: true},
		{
			name:     "wrapped state error",
			err:      errors.Wrap(response.ErrAlreadySubmitted, "submitting"),
			wantCode: http.StatusForbidden,
			wantBody: response.ErrAlreadySubmitted.Message,
			wantOk:   true,
		},
		{name: "unknown", err: errors.New("db down"), wantCode: http.StatusInternalServerError, wantBody: "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body, ok := errorBody(tt.err, nil)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantBody, body)
			assert.Equal(t, tt.wantOk, ok)
		})
	}
}

func Test_requireRole(t *testing.T) {
	next := func(ctx echo.Context) error { return ctx.NoContent(http.StatusNoContent) }

	tests := []struct {
		name    string
		roles   []string
		claims  *Claims
		wantErr error
	}{
		{name: "no token", roles: []string{RoleStaff}, wantErr: errUnauthorized},
		{name: "student on staff route", roles: []string{RoleStaff}, claims: &Claims{Roles: []string{RoleStudent}}, wantErr: errHttpForbidden},
		{name: "staff", roles: []string{RoleStaff}, claims: &Claims{Roles: []string{RoleStaff}}},
		{name: "any of", roles: []string{RoleStaff, RoleStudent}, claims: &Claims{Roles: []string{RoleStudent}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ctx := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			if tt.claims != nil {
				ctx.Set(contextTokenKey, &jwt.Token{Claims: tt.claims})
			}

			err := requireRole(tt.roles...)(next)(ctx)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, http.StatusNoContent, rec.Code)
		})
	}
}
