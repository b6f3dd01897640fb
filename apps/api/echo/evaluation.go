package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core/evaluation"
)

type evaluationApi struct {
	svc      evaluation.Service
	auth     authenticator
	validate *validator.Validate
}

func registerEvaluationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth authenticator,
	svc evaluation.Service,
	validate *validator.Validate,
) {
	api := evaluationApi{
		svc:      svc,
		auth:     auth,
		validate: validate,
	}

	eg := g.Group("/evaluations", jwt, evaluatorMiddleware(auth))
	eg.GET("/assigned", api.assigned)
	eg.GET("/progress", api.progress)
	eg.GET("/mine", api.query)
	eg.GET("/:number", api.retrieve)
	eg.PUT("/:number", api.submit)
}

// Handlers

func (api *evaluationApi) assigned(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	assignments, err := api.svc.Assignments(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "finding assignments")
	}
	return ctx.JSON(http.StatusOK, assignments)
}

func (api *evaluationApi) progress(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	prog, err := api.svc.Progress(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "computing progress")
	}
	return ctx.JSON(http.StatusOK, prog)
}

func (api *evaluationApi) query(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	evals, err := api.svc.Query(
		ctx.Request().Context(),
		evaluation.QueryFilter{Institution: contextInstitution(ctx), Evaluator: usr.Username},
		ordering.Orderings,
	)
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	if evals == nil {
		evals = []evaluation.Evaluation{}
	}
	return ctx.JSON(http.StatusOK, evals)
}

func (api *evaluationApi) retrieve(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	ev, err := api.svc.Get(ctx.Request().Context(), contextInstitution(ctx), usr.Username, ctx.Param("number"))
	if err != nil {
		return errors.Wrap(err, "finding evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) submit(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data evaluation.NewEvaluation
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvaluation")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	ev, created, err := api.svc.Submit(ctx.Request().Context(), usr, ctx.Param("number"), data)
	if err != nil {
		return errors.Wrap(err, "submitting evaluation")
	}
	if created {
		return ctx.JSON(http.StatusCreated, ev)
	}
	return ctx.JSON(http.StatusOK, ev)
}
