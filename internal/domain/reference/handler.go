package reference

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reference", h.Get)
	api.POST("/reference/refresh", h.Refresh)
}

func (h *Handler) Get(c echo.Context) error {
	snap := h.registry.Snapshot()
	if snap == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrNotLoaded.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

// Refresh reloads the reference tables, e.g. after an admin edit.
func (h *Handler) Refresh(c echo.Context) error {
	if err := h.registry.Load(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	snap := h.registry.Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"loaded_at": snap.LoadedAt,
		"programs":  len(snap.Programs),
		"groups":    len(snap.Groups),
		"items":     len(snap.Items),
		"positions": len(snap.Positions),
	})
}
