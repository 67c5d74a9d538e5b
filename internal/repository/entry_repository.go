package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clockframe/clockframe/internal/models"
)

var ErrEntryNotFound = errors.New("time entry not found")

// EntryRepository handles time-entry persistence. Insert and Update accept an
// optional pgx.Tx (nil runs on the pool); BulkUpdate, BulkDelete and
// ForceStopAll require a non-nil pgx.Tx; Delete always runs on the pool. This
// lets the service layer run writes inside a transaction it controls (needed
// for SELECT ... FOR UPDATE in the per-user critical section).
type EntryRepository struct {
	db *pgxpool.Pool
}

func NewEntryRepository(db *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{db: db}
}

// BeginTx starts a transaction for the per-user critical section.
func (r *EntryRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

func scanEntry(row pgx.Row) (*models.TimeEntry, error) {
	var e models.TimeEntry
	err := row.Scan(
		&e.ID, &e.UserID, &e.ProjectID, &e.Description, &e.StartTime, &e.EndTime,
		&e.Duration, &e.IsRunning, &e.Tags, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return &e, nil
}

const entryColumns = `id, user_id, project_id, description, start_time, end_time, duration, is_running, tags, created_at, updated_at`

func (r *EntryRepository) GetByID(ctx context.Context, entryID, userID uuid.UUID) (*models.TimeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM time_entries WHERE id = $1 AND user_id = $2`
	return scanEntry(r.db.QueryRow(ctx, query, entryID, userID))
}

// RunningForUser returns the user's single running entry, if any, locking
// the row FOR UPDATE when called inside tx so concurrent start/stop calls
// for the same user serialize against each other.
func (r *EntryRepository) RunningForUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.TimeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM time_entries WHERE user_id = $1 AND is_running = true FOR UPDATE`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query, userID)
	} else {
		row = r.db.QueryRow(ctx, strings.TrimSuffix(query, " FOR UPDATE"), userID)
	}
	entry, err := scanEntry(row)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	return entry, err
}

func (r *EntryRepository) Insert(ctx context.Context, tx pgx.Tx, e *models.TimeEntry) error {
	query := `
		INSERT INTO time_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	args := []any{e.ID, e.UserID, e.ProjectID, e.Description, e.StartTime, e.EndTime, e.Duration, e.IsRunning, e.Tags, e.CreatedAt, e.UpdatedAt}
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, query, args...)
	} else {
		_, err = r.db.Exec(ctx, query, args...)
	}
	return err
}

func (r *EntryRepository) Update(ctx context.Context, tx pgx.Tx, e *models.TimeEntry) error {
	query := `
		UPDATE time_entries SET
			project_id = $3, description = $4, start_time = $5, end_time = $6,
			duration = $7, is_running = $8, tags = $9, updated_at = $10
		WHERE id = $1 AND user_id = $2
	`
	args := []any{e.ID, e.UserID, e.ProjectID, e.Description, e.StartTime, e.EndTime, e.Duration, e.IsRunning, e.Tags, e.UpdatedAt}

	var rowsAffected int64
	if tx != nil {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
	} else {
		tag, err := r.db.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *EntryRepository) Delete(ctx context.Context, entryID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM time_entries WHERE id = $1 AND user_id = $2", entryID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// EntryFilter narrows list/stats queries. Zero values mean "no filter".
type EntryFilter struct {
	ProjectID *uuid.UUID
	StartDate *time.Time
	EndDate   *time.Time
	IsRunning *bool
	Tags      []string
	Search    string
}

// List returns entries ordered start_time DESC, id as tiebreaker, plus the
// total matching count (ignoring limit/offset) so callers can report has_more.
func (r *EntryRepository) List(ctx context.Context, userID uuid.UUID, filter EntryFilter, limit, offset int) ([]models.TimeEntry, int, error) {
	where, args := buildFilterArgs(userID, filter)

	countQuery := "SELECT COUNT(*) FROM time_entries WHERE " + where
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(append([]any{}, args...), limit, offset)
	listQuery := fmt.Sprintf(
		"SELECT %s FROM time_entries WHERE %s ORDER BY start_time DESC, id DESC LIMIT $%d OFFSET $%d",
		entryColumns, where, len(args)+1, len(args)+2,
	)

	rows, err := r.db.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []models.TimeEntry{}
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

// buildFilterArgs builds the WHERE clause with userID bound as $1.
func buildFilterArgs(userID uuid.UUID, f EntryFilter) (string, []any) {
	clauses := []string{"user_id = $1"}
	args := []any{userID}
	idx := 1

	add := func(clause string, val any) {
		idx++
		clauses = append(clauses, fmt.Sprintf(clause, idx))
		args = append(args, val)
	}

	if f.ProjectID != nil {
		add("project_id = $%d", *f.ProjectID)
	}
	if f.StartDate != nil {
		add("start_time >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("start_time <= $%d", *f.EndDate)
	}
	if f.IsRunning != nil {
		add("is_running = $%d", *f.IsRunning)
	}
	if len(f.Tags) > 0 {
		add("tags && $%d", f.Tags)
	}
	if f.Search != "" {
		add("description ILIKE $%d", "%"+f.Search+"%")
	}

	return strings.Join(clauses, " AND "), args
}

func scanEntryRow(rows pgx.Rows) (*models.TimeEntry, error) {
	var e models.TimeEntry
	err := rows.Scan(
		&e.ID, &e.UserID, &e.ProjectID, &e.Description, &e.StartTime, &e.EndTime,
		&e.Duration, &e.IsRunning, &e.Tags, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return &e, nil
}

// ListSince returns every entry updated after cursor, ascending by
// updated_at with id as tiebreaker, for offline-client hydration.
func (r *EntryRepository) ListSince(ctx context.Context, userID uuid.UUID, cursor time.Time) ([]models.TimeEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM time_entries
		WHERE user_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, userID, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.TimeEntry{}
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// EntryStats aggregates duration figures over a filtered set. Durations of
// entries still running are excluded — stats only reflect closed spans.
type EntryStats struct {
	TotalEntries  int
	TotalDuration int64
	AverageSeconds float64
	LongestSeconds int64
	ShortestSeconds int64
}

func (r *EntryRepository) Stats(ctx context.Context, userID uuid.UUID, filter EntryFilter) (*EntryStats, error) {
	where, args := buildFilterArgs(userID, filter)
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE NOT is_running),
			COALESCE(SUM(duration) FILTER (WHERE NOT is_running), 0),
			COALESCE(AVG(duration) FILTER (WHERE NOT is_running), 0),
			COALESCE(MAX(duration) FILTER (WHERE NOT is_running), 0),
			COALESCE(MIN(duration) FILTER (WHERE NOT is_running), 0)
		FROM time_entries WHERE %s
	`, where)

	var s EntryStats
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&s.TotalEntries, &s.TotalDuration, &s.AverageSeconds, &s.LongestSeconds, &s.ShortestSeconds,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// BulkUpdate applies the same patch fields to a set of entries owned by the
// user, inside one transaction; any missing/foreign id aborts the whole batch.
func (r *EntryRepository) BulkUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, entryIDs []uuid.UUID, apply func(*models.TimeEntry)) ([]models.TimeEntry, error) {
	updated := make([]models.TimeEntry, 0, len(entryIDs))
	for _, id := range entryIDs {
		row := tx.QueryRow(ctx, "SELECT "+entryColumns+" FROM time_entries WHERE id = $1 AND user_id = $2 FOR UPDATE", id, userID)
		e, err := scanEntry(row)
		if err != nil {
			return nil, err
		}
		apply(e)
		e.UpdatedAt = time.Now()
		if err := r.Update(ctx, tx, e); err != nil {
			return nil, err
		}
		updated = append(updated, *e)
	}
	return updated, nil
}

// BulkDelete removes a set of entries owned by the user inside one
// transaction; any missing/foreign id aborts the whole batch.
func (r *EntryRepository) BulkDelete(ctx context.Context, tx pgx.Tx, userID uuid.UUID, entryIDs []uuid.UUID) error {
	for _, id := range entryIDs {
		tag, err := tx.Exec(ctx, "DELETE FROM time_entries WHERE id = $1 AND user_id = $2", id, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrEntryNotFound
		}
	}
	return nil
}

// ForceStopAll closes every running entry for a user (defensive operation),
// returning the entries that were closed.
func (r *EntryRepository) ForceStopAll(ctx context.Context, tx pgx.Tx, userID uuid.UUID, end time.Time) ([]models.TimeEntry, error) {
	query := `
		UPDATE time_entries SET end_time = $2, duration = EXTRACT(EPOCH FROM ($2 - start_time))::bigint,
			is_running = false, updated_at = $2
		WHERE user_id = $1 AND is_running = true
		RETURNING ` + entryColumns
	rows, err := tx.Query(ctx, query, userID, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	closed := []models.TimeEntry{}
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		closed = append(closed, *e)
	}
	return closed, rows.Err()
}

// CountRunning reports how many entries are marked running for a user —
// used by TimerService.Validate to detect the "multiple running entries"
// bug signal.
func (r *EntryRepository) CountRunning(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM time_entries WHERE user_id = $1 AND is_running = true", userID).Scan(&count)
	return count, err
}

// RunningOlderThan returns every running entry across all users whose
// start_time precedes cutoff, for the consistency-sweep job to flag as
// abandoned (a client that crashed or lost connectivity without calling stop).
func (r *EntryRepository) RunningOlderThan(ctx context.Context, cutoff time.Time) ([]models.TimeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM time_entries WHERE is_running = true AND start_time < $1 ORDER BY start_time ASC`
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.TimeEntry{}
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
