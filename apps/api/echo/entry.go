package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core/entry"
)

type entryApi struct {
	svc      entry.Service
	validate *validator.Validate
}

func registerEntryAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth authenticator,
	svc entry.Service,
	validate *validator.Validate,
) {
	api := entryApi{
		svc:      svc,
		validate: validate,
	}

	eg := g.Group("/entries", jwt, adminMiddleware(), institutionMiddleware(auth))
	eg.GET("", api.query)
	eg.POST("/upload", api.upload)
	eg.PUT("/selection", api.setSelection)
	eg.POST("/select-random", api.selectRandom)
	eg.GET("/:number", api.retrieve)
	eg.PUT("/:number/selection", api.toggleSelection)
}

// Handlers

func (api *entryApi) query(ctx echo.Context) error {
	filter := entry.QueryFilter{
		Institution: contextInstitution(ctx),
		Selection:   ctx.QueryParam("selection"),
		Search:      ctx.QueryParam("search"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	entries, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying entries")
	}
	if entries == nil {
		entries = []entry.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *entryApi) upload(ctx echo.Context) error {
	var data entry.Upload
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Upload")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Upload(ctx.Request().Context(), contextInstitution(ctx), data)
	if err != nil {
		return errors.Wrap(err, "uploading entries")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *entryApi) retrieve(ctx echo.Context) error {
	ent, err := api.svc.Get(ctx.Request().Context(), contextInstitution(ctx), ctx.Param("number"))
	if err != nil {
		return errors.Wrap(err, "finding entry")
	}
	return ctx.JSON(http.StatusOK, ent)
}

func (api *entryApi) setSelection(ctx echo.Context) error {
	var data entry.SelectionUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SelectionUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	return api.updateSelection(ctx, data)
}

func (api *entryApi) toggleSelection(ctx echo.Context) error {
	var data SelectionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SelectionRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	return api.updateSelection(ctx, entry.SelectionUpdate{
		EventNumbers: []string{ctx.Param("number")},
		Selected:     data.Selected,
	})
}

func (api *entryApi) updateSelection(ctx echo.Context, su entry.SelectionUpdate) error {
	n, err := api.svc.SetSelection(ctx.Request().Context(), contextInstitution(ctx), su)
	if err != nil {
		return errors.Wrap(err, "setting selection")
	}
	return ctx.JSON(http.StatusOK, SelectionResponse{Updated: n})
}

func (api *entryApi) selectRandom(ctx echo.Context) error {
	var data entry.RandomSelection
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RandomSelection")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	entries, err := api.svc.SelectRandom(ctx.Request().Context(), contextInstitution(ctx), data.Count)
	if err != nil {
		return errors.Wrap(err, "selecting random entries")
	}
	return ctx.JSON(http.StatusOK, entries)
}

type (
	SelectionRequest struct {
		Selected *bool `json:"selected" validate:"required"`
	}

	SelectionResponse struct {
		Updated int `json:"updated"`
	}
)
