package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/apperr"
	"github.com/clockframe/clockframe/internal/middleware"
	"github.com/clockframe/clockframe/internal/models"
	"github.com/clockframe/clockframe/internal/repository"
)

// ProjectHandler implements the project surface from 4.E: plain
// ownership-scoped CRUD, with no state machine of its own.
type ProjectHandler struct {
	projects *repository.ProjectRepository
	log      zerolog.Logger
}

func NewProjectHandler(projects *repository.ProjectRepository, log zerolog.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, log: log}
}

// List returns the caller's projects, active-only unless includeInactive=true.
// With ?since=, it's the delta-sync feed the Offline Sync Engine uses to
// hydrate a reconnecting client's project list, mirroring /entries/since.
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	includeInactive := c.QueryBool("includeInactive", false)
	userID := middleware.GetUserID(c)

	var since *time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return apperr.Validation("invalid since", map[string]string{"since": "must be RFC3339"})
		}
		since = &t
	}

	projects, err := h.projects.ListByUser(c.Context(), userID, includeInactive, since)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(fiber.Map{"success": true, "projects": projects})
}

func parseProjectID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.CodeProjectNotFound, "project not found")
	}
	return id, nil
}

// Get returns a single project owned by the caller.
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	projectID, perr := parseProjectID(c)
	if perr != nil {
		return perr
	}

	userID := middleware.GetUserID(c)
	project, err := h.projects.GetByID(c.Context(), projectID, userID)
	if err != nil {
		return mapProjectError(err)
	}
	return c.JSON(fiber.Map{"success": true, "project": project})
}

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Color       string `json:"color" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

// Create adds a new project for the caller.
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[createProjectRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	userID := middleware.GetUserID(c)
	now := time.Now()
	project := &models.Project{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.projects.Create(c.Context(), project); err != nil {
		return apperr.Internal(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "project": project})
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Color       *string `json:"color"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// Update applies a patch to a project owned by the caller.
func (h *ProjectHandler) Update(c *fiber.Ctx) error {
	projectID, perr := parseProjectID(c)
	if perr != nil {
		return perr
	}

	var req updateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body", nil)
	}

	userID := middleware.GetUserID(c)
	current, err := h.projects.GetByID(c.Context(), projectID, userID)
	if err != nil {
		return mapProjectError(err)
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Color != nil {
		current.Color = *req.Color
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.IsActive != nil {
		current.IsActive = *req.IsActive
	}
	current.UpdatedAt = time.Now()

	if err := h.projects.Update(c.Context(), current); err != nil {
		return mapProjectError(err)
	}
	return c.JSON(fiber.Map{"success": true, "project": current})
}

// Delete removes a project owned by the caller.
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	projectID, perr := parseProjectID(c)
	if perr != nil {
		return perr
	}

	userID := middleware.GetUserID(c)
	if err := h.projects.Delete(c.Context(), projectID, userID); err != nil {
		return mapProjectError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func mapProjectError(err error) error {
	if errors.Is(err, repository.ErrProjectNotFound) {
		return apperr.New(apperr.CodeProjectNotFound, "project not found")
	}
	return apperr.Internal(err)
}
