package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core/analysis"
	"github.com/iroils/evalapp/core/evaluation"
)

type institutionApi struct {
	svc     analysis.Service
	evalSvc evaluation.Service
}

func registerInstitutionAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth authenticator,
	svc analysis.Service,
	evalSvc evaluation.Service,
) {
	api := institutionApi{
		svc:     svc,
		evalSvc: evalSvc,
	}

	ig := g.Group("/institution", jwt, adminMiddleware(), institutionMiddleware(auth))
	ig.GET("/stats", api.stats)
	ig.POST("/stats/rebuild", api.rebuildStats)
	ig.GET("/overview", api.overview)
	ig.GET("/evaluations", api.evaluations)
	ig.GET("/evaluators", api.evaluators)
	ig.GET("/tags", api.tagDistribution)
	ig.GET("/tags/comparison", api.tagComparison)
	ig.POST("/reset", api.reset)
	ig.POST("/snapshot", api.takeSnapshot)
	ig.POST("/snapshot/restore", api.loadSnapshot)
}

// Handlers

func (api *institutionApi) stats(ctx echo.Context) error {
	stats, err := api.svc.Stats(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "getting stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *institutionApi) rebuildStats(ctx echo.Context) error {
	stats, err := api.svc.RebuildStats(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "rebuilding stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *institutionApi) overview(ctx echo.Context) error {
	ov, err := api.svc.Overview(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "computing overview")
	}
	return ctx.JSON(http.StatusOK, ov)
}

func (api *institutionApi) evaluations(ctx echo.Context) error {
	filter := evaluation.QueryFilter{
		Institution: contextInstitution(ctx),
		Evaluator:   ctx.QueryParam("evaluator"),
		EntryNumber: ctx.QueryParam("entry"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	evals, err := api.evalSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	if evals == nil {
		evals = []evaluation.Evaluation{}
	}
	return ctx.JSON(http.StatusOK, evals)
}

func (api *institutionApi) evaluators(ctx echo.Context) error {
	perf, err := api.svc.EvaluatorPerformance(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "computing evaluator performance")
	}
	if perf == nil {
		perf = []analysis.EvaluatorStats{}
	}
	return ctx.JSON(http.StatusOK, perf)
}

func (api *institutionApi) tagDistribution(ctx echo.Context) error {
	top, err := queryInt(ctx, "top", analysis.DefaultTopTags)
	if err != nil {
		return err
	}
	tags, err := api.svc.TagDistribution(ctx.Request().Context(), contextInstitution(ctx), top)
	if err != nil {
		return errors.Wrap(err, "computing tag distribution")
	}
	return ctx.JSON(http.StatusOK, tags)
}

func (api *institutionApi) tagComparison(ctx echo.Context) error {
	tags, err := api.svc.TagComparison(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "computing tag comparison")
	}
	return ctx.JSON(http.StatusOK, tags)
}

func (api *institutionApi) reset(ctx echo.Context) error {
	res, err := api.svc.Reset(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "resetting institution")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *institutionApi) takeSnapshot(ctx echo.Context) error {
	snap, err := api.svc.TakeSnapshot(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "taking snapshot")
	}
	return ctx.JSON(http.StatusCreated, snap)
}

func (api *institutionApi) loadSnapshot(ctx echo.Context) error {
	snap, err := api.svc.LoadSnapshot(ctx.Request().Context(), contextInstitution(ctx))
	if err != nil {
		return errors.Wrap(err, "restoring snapshot")
	}
	return ctx.JSON(http.StatusOK, snap)
}
