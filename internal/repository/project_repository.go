package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clockframe/clockframe/internal/models"
)

var ErrProjectNotFound = errors.New("project not found")

// ProjectRepository handles project persistence, scoped to a user.
type ProjectRepository struct {
	db *pgxpool.Pool
}

func NewProjectRepository(db *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// ListByUser lists a user's projects. With since nil, it's the plain
// listing used by the project surface (inactive projects excluded unless
// includeInactive is set). With since set, it's the delta-sync feed for
// reconnecting clients (§1 item 4): every project touched after the cursor,
// ascending by updated_at, regardless of includeInactive — a client needs to
// learn about a project being deactivated since its last sync, not just the
// still-active ones.
func (r *ProjectRepository) ListByUser(ctx context.Context, userID uuid.UUID, includeInactive bool, since *time.Time) ([]models.Project, error) {
	query := `
		SELECT id, user_id, name, color, description, is_active, created_at, updated_at
		FROM projects
		WHERE user_id = $1
	`
	args := []any{userID}

	if since != nil {
		args = append(args, *since)
		query += " AND updated_at > $2 ORDER BY updated_at ASC, id ASC"
	} else {
		if !includeInactive {
			query += " AND is_active = true"
		}
		query += " ORDER BY created_at ASC"
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &p.Color, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepository) GetByID(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	query := `
		SELECT id, user_id, name, color, description, is_active, created_at, updated_at
		FROM projects WHERE id = $1 AND user_id = $2
	`
	var p models.Project
	err := r.db.QueryRow(ctx, query, projectID, userID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Color, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (id, user_id, name, color, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.Color, p.Description, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *ProjectRepository) Update(ctx context.Context, p *models.Project) error {
	query := `
		UPDATE projects SET name = $3, color = $4, description = $5, is_active = $6, updated_at = $7
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.Color, p.Description, p.IsActive, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *ProjectRepository) Delete(ctx context.Context, projectID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM projects WHERE id = $1 AND user_id = $2", projectID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// Exists reports whether a project belongs to a user, used when validating
// a time entry's project reference without fetching the whole row.
func (r *ProjectRepository) Exists(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1 AND user_id = $2)",
		projectID, userID,
	).Scan(&exists)
	return exists, err
}
