package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/response"
)

type responseApi struct {
	svc      *response.Service
	validate *validator.Validate
}

// alreadySubmittedResponse tells a replaying client which sheet already holds its attempt.
type alreadySubmittedResponse struct {
	Error           string `json:"error"`
	ResponseSheetID string `json:"responseSheetId"`
}

func registerResponseAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := responseApi{svc: deps.ResponseSvc, validate: deps.Validate}

	g.POST("/evaluation/:evaluationId/start", api.start, jwt, studentMiddleware)
	g.POST("/responseSheet/:responseSheetId/submit-offline", api.submitOffline, jwt, studentMiddleware)

	rg := g.Group("/evaluation/response/:id", jwt)
	rg.GET("", api.retrieve)
	rg.POST("/answers", api.saveAnswers, studentMiddleware)
	rg.POST("/submit", api.submit, studentMiddleware)
	rg.POST("/regrade", api.regrade, staffMiddleware)
}

// ctxMatricule returns the caller's matricule, or "" for staff who may see every sheet.
func ctxMatricule(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}
	if claims.IsStaff() {
		return "", nil
	}
	return claims.Matricule(), nil
}

// Handlers

func (api *responseApi) start(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	var data response.StartRequest
	if err = bindAndValidate(ctx, api.validate, &data, "StartRequest"); err != nil {
		return err
	}
	if data.Matricule != "" && data.Matricule != claims.Matricule() {
		return response.ErrForbidden
	}

	res, err := api.svc.Start(ctx.Request().Context(), ctx.Param("evaluationId"), claims.Matricule(), data)
	if err != nil {
		return errors.Wrap(err, "starting evaluation")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *responseApi) retrieve(ctx echo.Context) error {
	matricule, err := ctxMatricule(ctx)
	if err != nil {
		return err
	}
	sheet, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"), matricule)
	if err != nil {
		return errors.Wrap(err, "getting response sheet")
	}
	return ctx.JSON(http.StatusOK, sheet)
}

func (api *responseApi) saveAnswers(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	var data response.AnswersRequest
	if err = bindAndValidate(ctx, api.validate, &data, "AnswersRequest"); err != nil {
		return err
	}
	if err = api.svc.SaveAnswers(ctx.Request().Context(), ctx.Param("id"), claims.Matricule(), data.Answers); err != nil {
		return errors.Wrap(err, "saving answers")
	}
	return ctx.String(http.StatusOK, "Answers saved.")
}

func (api *responseApi) submit(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	var data response.AnswersRequest
	if err = bindAndValidate(ctx, api.validate, &data, "AnswersRequest"); err != nil {
		return err
	}
	if _, err = api.svc.SubmitAnswers(ctx.Request().Context(), ctx.Param("id"), claims.Matricule(), data.Answers); err != nil {
		return errors.Wrap(err, "submitting answers")
	}
	return ctx.String(http.StatusOK, "Response sheet submitted.")
}

func (api *responseApi) submitOffline(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	var data response.OfflineSubmission
	if err = bindAndValidate(ctx, api.validate, &data, "OfflineSubmission"); err != nil {
		return err
	}

	receipt, err := api.svc.SubmitOffline(ctx.Request().Context(), ctx.Param("responseSheetId"), claims.Matricule(), data)
	if err != nil {
		if errors.Cause(err) == response.ErrAlreadySubmitted {
			return ctx.JSON(http.StatusForbidden, alreadySubmittedResponse{
				Error:           response.ErrAlreadySubmitted.Message,
				ResponseSheetID: receipt.ResponseSheetID,
			})
		}
		return errors.Wrap(err, "submitting offline attempt")
	}
	return ctx.JSON(http.StatusOK, receipt)
}

func (api *responseApi) regrade(ctx echo.Context) error {
	sheet, err := api.svc.Regrade(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "regrading response sheet")
	}
	return ctx.JSON(http.StatusOK, sheet)
}
