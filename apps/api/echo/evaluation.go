package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

type evaluationApi struct {
	evals     *evaluation.Service
	questions *question.Service
	responses *response.Service
	validate  *validator.Validate
}

// staffPaper is the full view of an evaluation, correct choices and weights included.
type staffPaper struct {
	evaluation.Evaluation
	Questions []question.Weighted `json:"questions"`
}

func registerEvaluationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := evaluationApi{
		evals:     deps.EvalSvc,
		questions: deps.QuestionSvc,
		responses: deps.ResponseSvc,
		validate:  deps.Validate,
	}

	g.GET("/evaluation/student", api.studentQuery, jwt, studentMiddleware)
	g.POST("/questions", api.createQuestion, jwt, staffMiddleware)

	eg := g.Group("/evaluations", jwt, staffMiddleware)
	eg.GET("", api.query)
	eg.POST("", api.create)
	eg.GET("/:id", api.retrieve)
	eg.PUT("/:id", api.update)
	eg.DELETE("/:id", api.destroy)
	eg.POST("/:id/publish", api.publish)
	eg.POST("/:id/complete", api.complete)
	eg.GET("/:id/sheets", api.sheets)
	eg.POST("/:id/questions", api.attachQuestion)
	eg.DELETE("/:id/questions/:questionId", api.detachQuestion)
}

// Handlers

// studentQuery lists Published and Completed evaluations with their questions.
func (api *evaluationApi) studentQuery(ctx echo.Context) error {
	c := ctx.Request().Context()
	evs, err := api.evals.Query(c, evaluation.QueryFilter{
		Statuses: []evaluation.Status{evaluation.StatusPublished, evaluation.StatusCompleted},
	})
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}

	papers := make([]question.Paper, 0, len(evs))
	for _, ev := range evs {
		paper, err := api.questions.Paper(c, ev)
		if err != nil {
			return errors.Wrapf(err, "assembling paper of %s", ev.ID)
		}
		papers = append(papers, paper)
	}
	return ctx.JSON(http.StatusOK, papers)
}

func (api *evaluationApi) query(ctx echo.Context) error {
	filter := new(evaluation.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []evaluation.Evaluation{})
	}
	evs, err := api.evals.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	return ctx.JSON(http.StatusOK, evs)
}

func (api *evaluationApi) create(ctx echo.Context) error {
	var data evaluation.NewEvaluation
	if err := bindAndValidate(ctx, api.validate, &data, "NewEvaluation"); err != nil {
		return err
	}
	ev, err := api.evals.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating evaluation")
	}
	return ctx.JSON(http.StatusCreated, ev)
}

func (api *evaluationApi) retrieve(ctx echo.Context) error {
	c := ctx.Request().Context()
	ev, err := api.evals.Get(c, ctx.Param("id"))
	if err != nil {
		return err
	}
	qs, err := api.questions.ForEvaluation(c, ev.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, staffPaper{Evaluation: ev, Questions: qs})
}

func (api *evaluationApi) update(ctx echo.Context) error {
	var data evaluation.UpdateEvaluation
	if err := bindAndValidate(ctx, api.validate, &data, "UpdateEvaluation"); err != nil {
		return err
	}
	ev, err := api.evals.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) destroy(ctx echo.Context) error {
	if err := api.evals.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting evaluation")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *evaluationApi) publish(ctx echo.Context) error {
	ev, err := api.evals.Publish(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "publishing evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

// complete finalizes the sheets still in progress before closing the evaluation.
func (api *evaluationApi) complete(ctx echo.Context) error {
	c := ctx.Request().Context()
	ev, err := api.evals.Get(c, ctx.Param("id"))
	if err != nil {
		return err
	}
	if !ev.IsPublished() {
		return evaluation.ErrInvalidTransition
	}
	if _, err = api.responses.Finalize(c, ev.ID); err != nil {
		return errors.Wrap(err, "finalizing response sheets")
	}
	if ev, err = api.evals.Complete(c, ev.ID); err != nil {
		return errors.Wrap(err, "completing evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) sheets(ctx echo.Context) error {
	c := ctx.Request().Context()
	ev, err := api.evals.Get(c, ctx.Param("id"))
	if err != nil {
		return err
	}
	sheets, err := api.responses.ForEvaluation(c, ev.ID)
	if err != nil {
		return errors.Wrap(err, "querying response sheets")
	}
	return ctx.JSON(http.StatusOK, sheets)
}

func (api *evaluationApi) createQuestion(ctx echo.Context) error {
	var data question.NewQuestion
	if err := bindAndValidate(ctx, api.validate, &data, "NewQuestion"); err != nil {
		return err
	}
	q, err := api.questions.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *evaluationApi) attachQuestion(ctx echo.Context) error {
	var data question.Attachment
	if err := bindAndValidate(ctx, api.validate, &data, "Attachment"); err != nil {
		return err
	}
	if err := api.questions.Attach(ctx.Request().Context(), ctx.Param("id"), data); err != nil {
		return errors.Wrap(err, "attaching question")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "question attached"})
}

func (api *evaluationApi) detachQuestion(ctx echo.Context) error {
	if err := api.questions.Detach(ctx.Request().Context(), ctx.Param("id"), ctx.Param("questionId")); err != nil {
		return errors.Wrap(err, "detaching question")
	}
	return ctx.NoContent(http.StatusNoContent)
}
