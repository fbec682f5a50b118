package patient

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mci/mci/internal/platform/auth"
)

const RoleRegistrar = "mci-registrar"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", RoleRegistrar, "mci-approver"))
	read.GET("/patients/:hid", h.GetPatient)

	write := api.Group("", auth.RequireRole("admin", RoleRegistrar))
	write.POST("/patients", h.CreatePatient)
	write.PUT("/patients/:hid", h.UpdatePatient)
	write.POST("/patients/:hid/retire", h.RetirePatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Record
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("hid"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var p Record
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.HealthID = c.Param("hid")
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type retireRequest struct {
	MergedWith string `json:"merged_with"`
}

func (h *Handler) RetirePatient(c echo.Context) error {
	var req retireRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RetirePatient(c.Request().Context(), c.Param("hid"), req.MergedWith); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	var invalid *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
