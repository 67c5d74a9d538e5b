package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/apperr"
	"github.com/clockframe/clockframe/internal/middleware"
	"github.com/clockframe/clockframe/internal/repository"
	"github.com/clockframe/clockframe/internal/services"
)

// EntryHandler implements the entry surface from 4.E: list, get, create,
// update, delete, bulk update/delete, stats, search.
type EntryHandler struct {
	entries *services.EntryService
	log     zerolog.Logger
}

func NewEntryHandler(entries *services.EntryService, log zerolog.Logger) *EntryHandler {
	return &EntryHandler{entries: entries, log: log}
}

// parseFilter reads the shared list/stats/search query params: project_id,
// start_date, end_date, is_running, tags (comma-separated), q.
func parseFilter(c *fiber.Ctx) (repository.EntryFilter, error) {
	var f repository.EntryFilter

	if v := c.Query("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, apperr.Validation("invalid project_id", map[string]string{"project_id": "must be a uuid"})
		}
		f.ProjectID = &id
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperr.Validation("invalid start_date", map[string]string{"start_date": "must be RFC3339"})
		}
		f.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperr.Validation("invalid end_date", map[string]string{"end_date": "must be RFC3339"})
		}
		f.EndDate = &t
	}
	if v := c.Query("is_running"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, apperr.Validation("invalid is_running", map[string]string{"is_running": "must be a bool"})
		}
		f.IsRunning = &b
	}
	if v := c.Query("tags"); v != "" {
		f.Tags = strings.Split(v, ",")
	}
	f.Search = c.Query("q")

	return f, nil
}

// List implements list() with its full query surface.
func (h *EntryHandler) List(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	userID := middleware.GetUserID(c)
	result, svcErr := h.entries.List(c.Context(), userID, filter, limit, offset)
	if svcErr != nil {
		return mapEntryError(svcErr)
	}
	return c.JSON(fiber.Map{"success": true, "entries": result.Entries, "total": result.Total, "hasMore": result.HasMore})
}

// Search implements search() by delegating to List, so every list filter
// applies alongside the search term.
func (h *EntryHandler) Search(c *fiber.Ctx) error {
	return h.List(c)
}

// Since implements the offline-sync delta feed, returning every entry
// changed after a cursor timestamp.
func (h *EntryHandler) Since(c *fiber.Ctx) error {
	cursorParam := c.Query("since")
	if cursorParam == "" {
		return apperr.Validation("since is required", map[string]string{"since": "must be RFC3339"})
	}
	cursor, err := time.Parse(time.RFC3339, cursorParam)
	if err != nil {
		return apperr.Validation("invalid since", map[string]string{"since": "must be RFC3339"})
	}

	userID := middleware.GetUserID(c)
	entries, svcErr := h.entries.ListSince(c.Context(), userID, cursor)
	if svcErr != nil {
		return apperr.Internal(svcErr)
	}
	return c.JSON(fiber.Map{"success": true, "entries": entries})
}

// Stats implements stats() over the same filter surface as list().
func (h *EntryHandler) Stats(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return err
	}

	userID := middleware.GetUserID(c)
	stats, svcErr := h.entries.Stats(c.Context(), userID, filter)
	if svcErr != nil {
		return apperr.Internal(svcErr)
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

func parseEntryID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.CodeEntryNotFound, "entry not found")
	}
	return id, nil
}

// Get implements get().
func (h *EntryHandler) Get(c *fiber.Ctx) error {
	entryID, err := parseEntryID(c)
	if err != nil {
		return err
	}

	userID := middleware.GetUserID(c)
	entry, svcErr := h.entries.Get(c.Context(), userID, entryID)
	if svcErr != nil {
		return mapEntryError(svcErr)
	}
	return c.JSON(fiber.Map{"success": true, "entry": entry})
}

type createEntryRequest struct {
	ProjectID   uuid.UUID `json:"projectId" validate:"required"`
	Description string    `json:"description" validate:"max=500"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required"`
	Tags        []string  `json:"tags"`
}

// Create implements create().
func (h *EntryHandler) Create(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[createEntryRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	userID := middleware.GetUserID(c)
	entry, err := h.entries.Create(c.Context(), userID, services.CreateInput{
		ProjectID:   req.ProjectID,
		Description: req.Description,
		Start:       req.Start,
		End:         req.End,
		Tags:        req.Tags,
	})
	if err != nil {
		return mapEntryError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "entry": entry})
}

type updateEntryRequest struct {
	ProjectID    *uuid.UUID `json:"projectId"`
	Description  *string    `json:"description"`
	Start        *time.Time `json:"start"`
	End          *time.Time `json:"end"`
	Tags         []string   `json:"tags"`
	LastModified *time.Time `json:"lastModified"`
	Force        bool       `json:"force"`
}

// Update implements update(), enforcing the last_modified conflict check
// from §4.E unless the caller sets force=true.
func (h *EntryHandler) Update(c *fiber.Ctx) error {
	entryID, perr := parseEntryID(c)
	if perr != nil {
		return perr
	}

	var req updateEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body", nil)
	}

	userID := middleware.GetUserID(c)
	entry, err := h.entries.Update(c.Context(), userID, entryID, services.UpdateInput{
		ProjectID:    req.ProjectID,
		Description:  req.Description,
		Start:        req.Start,
		End:          req.End,
		Tags:         req.Tags,
		LastModified: req.LastModified,
		Force:        req.Force,
	})
	if err != nil {
		return mapEntryError(err)
	}
	return c.JSON(fiber.Map{"success": true, "entry": entry})
}

// Delete implements delete().
func (h *EntryHandler) Delete(c *fiber.Ctx) error {
	entryID, perr := parseEntryID(c)
	if perr != nil {
		return perr
	}

	userID := middleware.GetUserID(c)
	if err := h.entries.Delete(c.Context(), userID, entryID); err != nil {
		return mapEntryError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

type bulkEntryUpdates struct {
	Description *string    `json:"description"`
	ProjectID   *uuid.UUID `json:"projectId"`
	Tags        []string   `json:"tags"`
}

type bulkUpdateRequest struct {
	EntryIDs []uuid.UUID      `json:"entryIds" validate:"required,min=1"`
	Updates  bulkEntryUpdates `json:"updates"`
}

// BulkUpdate implements bulk update(): PUT /entries/bulk, applying the same
// patch to every id in entryIds.
func (h *EntryHandler) BulkUpdate(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[bulkUpdateRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	userID := middleware.GetUserID(c)
	updated, err := h.entries.BulkUpdate(c.Context(), userID, services.BulkUpdateInput{
		EntryIDs:    req.EntryIDs,
		Description: req.Updates.Description,
		ProjectID:   req.Updates.ProjectID,
		Tags:        req.Updates.Tags,
	})
	if err != nil {
		return mapEntryError(err)
	}
	return c.JSON(fiber.Map{"success": true, "entries": updated})
}

type bulkDeleteRequest struct {
	EntryIDs []uuid.UUID `json:"entryIds" validate:"required,min=1"`
}

// BulkDelete implements bulk delete(): DELETE /entries/bulk.
func (h *EntryHandler) BulkDelete(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[bulkDeleteRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	userID := middleware.GetUserID(c)
	if err := h.entries.BulkDelete(c.Context(), userID, req.EntryIDs); err != nil {
		return mapEntryError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func mapEntryError(err error) error {
	var conflict *services.EntryConflictError
	if errors.As(err, &conflict) {
		return apperr.New(apperr.CodeEntityStale, "entry has been modified since last_modified").
			WithDetail("serverRecord", conflict.ServerRecord)
	}
	switch {
	case errors.Is(err, repository.ErrEntryNotFound):
		return apperr.New(apperr.CodeEntryNotFound, "entry not found")
	case errors.Is(err, services.ErrEntriesNotFound):
		return apperr.New(apperr.CodeEntriesNotFound, "one or more entries not found")
	case errors.Is(err, services.ErrProjectNotFound):
		return apperr.New(apperr.CodeProjectNotFound, "project not found")
	case errors.Is(err, services.ErrEntryTimerRunning):
		return apperr.New(apperr.CodeTimerRunning, "cannot create a closed entry while a timer is running")
	case errors.Is(err, services.ErrEntryInvalidRange):
		return apperr.New(apperr.CodeInvalidEndTime, "end time must be after start time")
	case errors.Is(err, services.ErrEntryLimitExceeded):
		return apperr.Validation("limit must not exceed 100", map[string]string{"limit": "too large"})
	default:
		return apperr.Internal(err)
	}
}
