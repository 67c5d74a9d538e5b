package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/models"
	"github.com/clockframe/clockframe/internal/realtime"
	"github.com/clockframe/clockframe/internal/repository"
)

var (
	ErrEntryTimerRunning  = errors.New("cannot create a closed entry while a timer is running")
	ErrEntriesNotFound    = errors.New("one or more entries not owned by the user or do not exist")
	ErrEntryInvalidRange  = errors.New("end time must be after start time")
	ErrEntryLimitExceeded = errors.New("limit must not exceed 100")
)

// EntryConflictError surfaces a stale update per §4.E's conflict protocol:
// the caller supplied last_modified and the server's copy is newer.
type EntryConflictError struct {
	ServerRecord *models.TimeEntry
}

func (e *EntryConflictError) Error() string { return "entry has been modified since last_modified" }

// EntryService implements 4.E: CRUD, bulk ops, filtered listing, search,
// stats, and delta-since, scoped to the acting user's own rows.
type EntryService struct {
	entries  *repository.EntryRepository
	projects *repository.ProjectRepository
	users    *repository.UserRepository
	hub      *realtime.Hub
	log      zerolog.Logger
}

func NewEntryService(entries *repository.EntryRepository, projects *repository.ProjectRepository, users *repository.UserRepository, hub *realtime.Hub, log zerolog.Logger) *EntryService {
	return &EntryService{entries: entries, projects: projects, users: users, hub: hub, log: log}
}

// CreateInput is the closed-entry creation payload; Start/End are required
// since a create() that leaves a timer running would bypass 4.D entirely.
type CreateInput struct {
	ProjectID   uuid.UUID
	Description string
	Start       time.Time
	End         time.Time
	Tags        []string
}

// Create inserts a closed entry. A running timer for the user blocks this
// path outright — creation may not silently coexist with it.
func (s *EntryService) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*models.TimeEntry, error) {
	if !in.End.After(in.Start) {
		return nil, ErrEntryInvalidRange
	}

	exists, err := s.projects.Exists(ctx, in.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrProjectNotFound
	}

	var entry *models.TimeEntry
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.users.LockForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		running, err := s.entries.RunningForUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if running != nil {
			return ErrEntryTimerRunning
		}

		tags := in.Tags
		if tags == nil {
			tags = []string{}
		}
		now := time.Now()
		entry = &models.TimeEntry{
			ID:          uuid.New(),
			UserID:      userID,
			ProjectID:   in.ProjectID,
			Description: in.Description,
			StartTime:   in.Start,
			EndTime:     &in.End,
			Duration:    int64(in.End.Sub(in.Start).Seconds()),
			IsRunning:   false,
			Tags:        tags,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.entries.Insert(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(userID, realtime.EventEntryCreated, entry)
	return entry, nil
}

func (s *EntryService) Get(ctx context.Context, userID, entryID uuid.UUID) (*models.TimeEntry, error) {
	return s.entries.GetByID(ctx, entryID, userID)
}

// UpdateInput carries only the fields a PATCH/PUT may change; nil means
// "leave as-is". LastModified implements the optimistic-concurrency check.
type UpdateInput struct {
	ProjectID    *uuid.UUID
	Description  *string
	Start        *time.Time
	End          *time.Time
	Tags         []string
	LastModified *time.Time
	Force        bool
}

// Update applies a patch with ownership and temporal-invariant checks, and
// the last_modified conflict protocol from §4.E.
func (s *EntryService) Update(ctx context.Context, userID, entryID uuid.UUID, in UpdateInput) (*models.TimeEntry, error) {
	var entry *models.TimeEntry

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := s.entries.GetByID(ctx, entryID, userID)
		if err != nil {
			return err
		}

		if in.LastModified != nil && !in.Force && current.UpdatedAt.After(*in.LastModified) {
			return &EntryConflictError{ServerRecord: current}
		}

		if in.ProjectID != nil {
			exists, err := s.projects.Exists(ctx, *in.ProjectID, userID)
			if err != nil {
				return err
			}
			if !exists {
				return ErrProjectNotFound
			}
			current.ProjectID = *in.ProjectID
		}
		if in.Description != nil {
			current.Description = *in.Description
		}
		if in.Start != nil {
			current.StartTime = *in.Start
		}
		if in.End != nil {
			current.EndTime = in.End
		}
		if in.Tags != nil {
			current.Tags = in.Tags
		}

		if current.EndTime != nil && !current.EndTime.After(current.StartTime) {
			return ErrEntryInvalidRange
		}
		if current.EndTime != nil {
			current.Duration = int64(current.EndTime.Sub(current.StartTime).Seconds())
		}
		current.UpdatedAt = time.Now()

		if err := s.entries.Update(ctx, tx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(userID, realtime.EventEntryUpdated, entry)
	return entry, nil
}

func (s *EntryService) Delete(ctx context.Context, userID, entryID uuid.UUID) error {
	if err := s.entries.Delete(ctx, entryID, userID); err != nil {
		return err
	}
	s.hub.Publish(userID, realtime.EventEntryDeleted, map[string]uuid.UUID{"id": entryID})
	return nil
}

// ListResult is the {entries, total, has_more} shape from §4.E.
type ListResult struct {
	Entries []models.TimeEntry `json:"entries"`
	Total   int                `json:"total"`
	HasMore bool               `json:"hasMore"`
}

func (s *EntryService) List(ctx context.Context, userID uuid.UUID, filter repository.EntryFilter, limit, offset int) (*ListResult, error) {
	if limit <= 0 || limit > 100 {
		return nil, ErrEntryLimitExceeded
	}
	entries, total, err := s.entries.List(ctx, userID, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Entries: entries,
		Total:   total,
		HasMore: offset+len(entries) < total,
	}, nil
}

func (s *EntryService) ListSince(ctx context.Context, userID uuid.UUID, cursor time.Time) ([]models.TimeEntry, error) {
	return s.entries.ListSince(ctx, userID, cursor)
}

func (s *EntryService) Stats(ctx context.Context, userID uuid.UUID, filter repository.EntryFilter) (*repository.EntryStats, error) {
	return s.entries.Stats(ctx, userID, filter)
}

// BulkUpdateInput is the patch applied identically to every id in EntryIDs.
type BulkUpdateInput struct {
	EntryIDs    []uuid.UUID
	Description *string
	ProjectID   *uuid.UUID
	Tags        []string
}

// verifyOwnership checks every id up front so a bulk operation can report
// the complete set of missing/foreign ids instead of whichever one the
// repository happened to hit first.
func (s *EntryService) verifyOwnership(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) error {
	var result *multierror.Error
	for _, id := range ids {
		if _, err := s.entries.GetByID(ctx, id, userID); err != nil {
			result = multierror.Append(result, fmt.Errorf("entry %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}

// BulkUpdate is all-or-nothing: any id not owned by the user, or missing,
// rolls the whole batch back as ErrEntriesNotFound.
func (s *EntryService) BulkUpdate(ctx context.Context, userID uuid.UUID, in BulkUpdateInput) ([]models.TimeEntry, error) {
	if err := s.verifyOwnership(ctx, userID, in.EntryIDs); err != nil {
		s.log.Warn().Err(err).Int("count", len(in.EntryIDs)).Msg("bulk update rejected, ownership check failed")
		return nil, ErrEntriesNotFound
	}

	var updated []models.TimeEntry

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = s.entries.BulkUpdate(ctx, tx, userID, in.EntryIDs, func(e *models.TimeEntry) {
			if in.Description != nil {
				e.Description = *in.Description
			}
			if in.ProjectID != nil {
				e.ProjectID = *in.ProjectID
			}
			if in.Tags != nil {
				e.Tags = in.Tags
			}
		})
		if errors.Is(err, repository.ErrEntryNotFound) {
			return ErrEntriesNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range updated {
		e := updated[i]
		s.hub.Publish(userID, realtime.EventEntryUpdated, &e)
	}
	return updated, nil
}

// BulkDelete is all-or-nothing over entryIDs, same semantics as BulkUpdate.
func (s *EntryService) BulkDelete(ctx context.Context, userID uuid.UUID, entryIDs []uuid.UUID) error {
	if err := s.verifyOwnership(ctx, userID, entryIDs); err != nil {
		s.log.Warn().Err(err).Int("count", len(entryIDs)).Msg("bulk delete rejected, ownership check failed")
		return ErrEntriesNotFound
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := s.entries.BulkDelete(ctx, tx, userID, entryIDs)
		if errors.Is(err, repository.ErrEntryNotFound) {
			return ErrEntriesNotFound
		}
		return err
	})
	if err != nil {
		return err
	}

	for _, id := range entryIDs {
		s.hub.Publish(userID, realtime.EventEntryDeleted, map[string]uuid.UUID{"id": id})
	}
	return nil
}

func (s *EntryService) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.entries.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
