package sms

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler is the webhook the message bus posts inbound SMS to.
type Handler struct {
	router *Router
}

func NewHandler(router *Router) *Handler {
	return &Handler{router: router}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sms/inbound", h.Inbound)
}

type InboundMessage struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

type Reply struct {
	Reply string `json:"reply"`
}

// Inbound handles POST /sms/inbound. The reply is always 200 once the sender
// is known; command failures are part of the reply text.
func (h *Handler) Inbound(c echo.Context) error {
	var msg InboundMessage
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	msg.Identity = strings.TrimSpace(msg.Identity)
	if msg.Identity == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "identity is required")
	}
	reply := h.router.Handle(c.Request().Context(), msg.Identity, msg.Text)
	return c.JSON(http.StatusOK, Reply{Reply: reply})
}
