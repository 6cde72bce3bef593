package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tiersync/tiersync/internal/infrastructure/scheduler"
)

// SweepTrigger starts a named sweep out of schedule.
type SweepTrigger interface {
	Trigger(name string) error
}

// SweepHandler exposes on-demand sweeps to operators.
type SweepHandler struct {
	sweeps SweepTrigger
}

func NewSweepHandler(sweeps SweepTrigger) *SweepHandler {
	return &SweepHandler{sweeps: sweeps}
}

type triggerSweepRequest struct {
	Kind string `param:"kind" validate:"required,oneof=pending entitlement"`
}

type acceptedResponse struct {
	Message string `json:"message"`
	Sweep   string `json:"sweep"`
}

// Trigger handles POST /v1/sweeps/:kind.
// The sweep runs in the background; 409 is returned while one is in flight.
func (h *SweepHandler) Trigger(c echo.Context) error {
	var req triggerSweepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sweep kind")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown sweep")
	}

	if err := h.sweeps.Trigger(req.Kind); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobRunning):
			return echo.NewHTTPError(http.StatusConflict, "sweep already running")
		case errors.Is(err, scheduler.ErrUnknownJob):
			return echo.NewHTTPError(http.StatusNotFound, "unknown sweep")
		case errors.Is(err, scheduler.ErrNotStarted):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler not started")
		}
		return err
	}

	return c.JSON(http.StatusAccepted, acceptedResponse{Message: "sweep started", Sweep: req.Kind})
}
