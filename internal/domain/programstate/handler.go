package programstate

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/pkg/pagination"
)

type Handler struct {
	engine    *Engine
	locations location.Repository
	refs      *reference.Registry
	siteType  string
}

func NewHandler(engine *Engine, locations location.Repository, refs *reference.Registry, siteType string) *Handler {
	return &Handler{engine: engine, locations: locations, refs: refs, siteType: siteType}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/program-states", h.List)
	api.POST("/program-states/reset", h.Reset)
	api.POST("/program-states/update", h.Update)
	api.GET("/locations/:id/program-health", h.Health)
}

// List handles GET /program-states?site=&program=&state=.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	var f Filter
	if code := c.QueryParam("site"); code != "" {
		site, err := h.locations.GetByCode(ctx, code)
		if errors.Is(err, location.ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown site "+code)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		f.SiteID = site.ID
	}
	if code := c.QueryParam("program"); code != "" {
		p := h.refs.Program(code)
		if p == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown program "+code)
		}
		f.ProgramID = p.ID
	}
	if v := c.QueryParam("state"); v != "" {
		s := State(strings.ToUpper(v))
		if !s.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown state "+v)
		}
		f.State = s
	}

	pg := pagination.FromContext(c)
	items, total, err := h.engine.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Reset(c echo.Context) error {
	n, err := h.engine.ResetAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"created": n})
}

func (h *Handler) Update(c echo.Context) error {
	n, err := h.engine.UpdateAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

// Health handles GET /locations/:id/program-health?program=CODE.
func (h *Handler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	loc, err := h.locations.GetByID(ctx, id)
	if errors.Is(err, location.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "location not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	prog := h.refs.Program(c.QueryParam("program"))
	if prog == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "program is required")
	}

	_, sites, err := h.locations.Descendants(ctx, loc, h.siteType, 1, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	health, err := h.engine.Health(ctx, loc.ID, loc.Path, prog.ID, sites)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, health)
}
