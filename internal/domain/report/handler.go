package report

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/pkg/pagination"
)

type Handler struct {
	svc       *Service
	locations location.Repository
	refs      *reference.Registry
}

func NewHandler(svc *Service, locations location.Repository, refs *reference.Registry) *Handler {
	return &Handler{svc: svc, locations: locations, refs: refs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reports", h.Search)
	api.GET("/reports/:id", h.Get)
	api.GET("/locations/:id/stock", h.LatestStock)
	api.GET("/stock-outs", h.StockOuts)
	api.GET("/low-stock-alerts", h.LowStockAlerts)
	api.POST("/jobs/reminders", h.Reminders)
}

// Search handles GET /reports?site=&program=&group=&period=&year=&from=&to=&week_of=&sms_only=.
// site, program and group are codes; from, to and week_of are YYYY-MM-DD.
// period with year selects that ISO week; week_of selects the ISO week
// containing the date.
func (h *Handler) Search(c echo.Context) error {
	ctx := c.Request().Context()
	var p SearchParams

	if code := c.QueryParam("site"); code != "" {
		site, err := h.locations.GetByCode(ctx, code)
		if errors.Is(err, location.ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown site "+code)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		p.SiteID = site.ID
	}
	if code := c.QueryParam("program"); code != "" {
		prog := h.refs.Program(code)
		if prog == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown program "+code)
		}
		p.ProgramID = prog.ID
	}
	if code := c.QueryParam("group"); code != "" {
		g := h.refs.Group(code)
		if g == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown group "+code)
		}
		p.GroupID = g.ID
	}
	if v := c.QueryParam("period"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n, err = ParsePeriodSpec(v)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid period")
		}
		p.Period = n
	}
	var err error
	if p.From, err = parseDay(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
	}
	if p.To, err = parseDay(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
	}
	if v := c.QueryParam("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || p.Period == 0 || p.Period > IsoWeeksIn(year) {
			return echo.NewHTTPError(http.StatusBadRequest, "year needs a period within that year")
		}
		p.From, p.To = IsoWeekStarts(p.Period, year), IsoWeekEnds(p.Period, year)
	}
	if v := c.QueryParam("week_of"); v != "" {
		d, err := parseDay(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid week_of date")
		}
		end := IsoNormalize(d)
		p.From, p.To = end.AddDate(0, 0, -6), end
	}
	p.SMSOnly, _ = strconv.ParseBool(c.QueryParam("sms_only"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(ctx, p, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", v)
}

// Get returns a program report with its audit versions.
func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	r, err := h.svc.GetProgramReport(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	versions, err := h.svc.Versions(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"report":   r,
		"versions": versions,
	})
}

func (h *Handler) LatestStock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.LatestStockReport(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if r == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no stock reports")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) StockOuts(c echo.Context) error {
	items, err := h.svc.ListStockOuts(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) LowStockAlerts(c echo.Context) error {
	items, err := h.svc.ListLowStockAlerts(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

// Reminders runs the reminders job on demand.
func (h *Handler) Reminders(c echo.Context) error {
	sent, err := h.svc.SendReminders(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]interface{}{"sent": sent, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sent": sent})
}
