package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/apperr"
	"github.com/clockframe/clockframe/internal/middleware"
	"github.com/clockframe/clockframe/internal/services"
)

// TimerHandler implements the timer surface from 4.D: start, stop, pause,
// active, state, resolve-conflict, force-stop-all.
type TimerHandler struct {
	timers *services.TimerService
	log    zerolog.Logger
}

func NewTimerHandler(timers *services.TimerService, log zerolog.Logger) *TimerHandler {
	return &TimerHandler{timers: timers, log: log}
}

type startTimerRequest struct {
	ProjectID   uuid.UUID `json:"projectId" validate:"required"`
	Description string    `json:"description" validate:"max=500"`
}

// Start implements start(). A running timer already in progress comes back
// as TIMER_CONFLICT, carrying the conflicting entry so the client can offer
// resolve-conflict.
func (h *TimerHandler) Start(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[startTimerRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	userID := middleware.GetUserID(c)
	entry, err := h.timers.Start(c.Context(), userID, req.ProjectID, req.Description)
	if err != nil {
		return mapTimerError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "entry": entry})
}

type stopTimerRequest struct {
	EndTime *time.Time `json:"endTime,omitempty"`
}

// Stop implements stop().
func (h *TimerHandler) Stop(c *fiber.Ctx) error {
	var req stopTimerRequest
	_ = c.BodyParser(&req)

	userID := middleware.GetUserID(c)
	entry, err := h.timers.Stop(c.Context(), userID, req.EndTime, false)
	if err != nil {
		return mapTimerError(err)
	}

	return c.JSON(fiber.Map{"success": true, "entry": entry})
}

// Pause implements pause(): the same stop operation, published as a
// different event so the client can tell the two apart.
func (h *TimerHandler) Pause(c *fiber.Ctx) error {
	var req stopTimerRequest
	_ = c.BodyParser(&req)

	userID := middleware.GetUserID(c)
	entry, err := h.timers.Stop(c.Context(), userID, req.EndTime, true)
	if err != nil {
		return mapTimerError(err)
	}

	return c.JSON(fiber.Map{"success": true, "entry": entry})
}

// Active implements active(): {activeTimer, hasActiveTimer}.
func (h *TimerHandler) Active(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	entry, err := h.timers.Active(c.Context(), userID)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(fiber.Map{"success": true, "activeTimer": entry, "hasActiveTimer": entry != nil})
}

// State implements state(): {isRunning, currentEntry?, elapsedSeconds}.
func (h *TimerHandler) State(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	state, err := h.timers.State(c.Context(), userID)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(fiber.Map{"success": true, "state": state})
}

type resolveConflictRequest struct {
	Action services.ConflictAction `json:"action" validate:"required,oneof=stop_existing cancel_new"`
}

// ResolveConflict implements resolve_conflict().
func (h *TimerHandler) ResolveConflict(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[resolveConflictRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	userID := middleware.GetUserID(c)
	entry, err := h.timers.ResolveConflict(c.Context(), userID, req.Action)
	if err != nil {
		return mapTimerError(err)
	}

	return c.JSON(fiber.Map{"success": true, "entry": entry})
}

// ForceStopAll implements force-stop-all(): the admin/client recovery path
// that closes every running entry for the caller in one shot.
func (h *TimerHandler) ForceStopAll(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	closed, err := h.timers.ForceStopAll(c.Context(), userID)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(fiber.Map{"success": true, "entries": closed})
}

func mapTimerError(err error) error {
	var conflict *services.TimerConflictError
	if errors.As(err, &conflict) {
		return apperr.New(apperr.CodeTimerConflict, "a timer is already running").
			WithDetail("conflicting", conflict.Conflicting)
	}
	switch {
	case errors.Is(err, services.ErrProjectNotFound):
		return apperr.New(apperr.CodeProjectNotFound, "project not found")
	case errors.Is(err, services.ErrNoActiveTimer):
		return apperr.New(apperr.CodeNoActiveTimer, "no timer is currently running")
	case errors.Is(err, services.ErrInvalidEndTime):
		return apperr.New(apperr.CodeInvalidEndTime, "end time must be after start time")
	default:
		return apperr.Internal(err)
	}
}
