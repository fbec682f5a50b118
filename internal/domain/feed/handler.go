package feed

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mci/mci/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/feed", auth.RequireRole("admin"))
	admin.POST("/tick", h.Tick)
}

// Tick processes one entry on demand, outside the runner's schedule.
func (h *Handler) Tick(c echo.Context) error {
	processed, err := h.svc.ProcessNextFeedEntry(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"processed": processed})
}
