package dedup

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/platform/auth"
)

const (
	RoleApprover = "mci-approver"
	RoleAdmin    = "admin"
)

type Handler struct {
	svc       *ResolutionService
	pageLimit int
}

func NewHandler(svc *ResolutionService, pageLimit int) *Handler {
	if pageLimit <= 0 || pageLimit > MaxPageLimit {
		pageLimit = DefaultPageLimit
	}
	return &Handler{svc: svc, pageLimit: pageLimit}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(RoleAdmin, RoleApprover))
	read.GET("/catchments/:catchment/duplicates", h.ListDuplicates)

	write := api.Group("", auth.RequireRole(RoleApprover))
	write.PUT("/duplicates", h.Resolve)
}

type listResponse struct {
	Data []Report `json:"data"`
	Next string   `json:"next,omitempty"`
}

func (h *Handler) ListDuplicates(c echo.Context) error {
	q := ListQuery{Catchment: c.Param("catchment"), Limit: h.pageLimit}
	var err error
	if q.After, err = parseCursor(c.QueryParam("after")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid after cursor")
	}
	if q.Before, err = parseCursor(c.QueryParam("before")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid before cursor")
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPageLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		q.Limit = n
	}

	page, err := h.svc.ListDuplicates(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	resp := listResponse{Data: page.Reports}
	if page.Next != uuid.Nil {
		resp.Next = page.Next.String()
	}
	if resp.Data == nil {
		resp.Data = []Report{}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Resolve(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Resolve(c.Request().Context(), req); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func parseCursor(v string) (uuid.UUID, error) {
	if v == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(v)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidResolution), errors.Is(err, ErrInvalidCatchment):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, patient.ErrNotFound), errors.Is(err, ErrDuplicateNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTransientStore):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
