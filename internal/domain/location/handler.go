package location

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/imam/imam/pkg/pagination"
)

type Handler struct {
	repo     Repository
	siteType string
}

func NewHandler(repo Repository, siteType string) *Handler {
	return &Handler{repo: repo, siteType: siteType}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/locations", h.Lookup)
	api.GET("/locations/:id", h.Get)
	api.GET("/locations/:id/sites", h.Sites)
}

// Lookup handles GET /locations?code=HCID.
func (h *Handler) Lookup(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	loc, err := h.repo.GetByCode(c.Request().Context(), code)
	if err != nil {
		return h.lookupError(err)
	}
	return c.JSON(http.StatusOK, loc)
}

func (h *Handler) Get(c echo.Context) error {
	loc, err := h.byParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loc)
}

// Sites lists the reporting sites under a location.
func (h *Handler) Sites(c echo.Context) error {
	loc, err := h.byParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.repo.Descendants(c.Request().Context(), loc, h.siteType, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) byParam(c echo.Context) (*Location, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	loc, err := h.repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return nil, h.lookupError(err)
	}
	return loc, nil
}

func (h *Handler) lookupError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "location not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
