package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes the outbound queue over HTTP for operators.
type Handler struct {
	queue Queue
}

func NewHandler(queue Queue) *Handler {
	return &Handler{queue: queue}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications/pending", h.HandlePending)
}

// HandlePending handles GET /notifications/pending?limit=N.
func (h *Handler) HandlePending(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	ctx := c.Request().Context()
	items, err := h.queue.Pending(ctx, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read queue")
	}
	total, err := h.queue.Len(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read queue")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": total,
	})
}
