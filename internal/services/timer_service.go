package services

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/audit"
	"github.com/clockframe/clockframe/internal/metrics"
	"github.com/clockframe/clockframe/internal/models"
	"github.com/clockframe/clockframe/internal/realtime"
	"github.com/clockframe/clockframe/internal/repository"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNoActiveTimer   = errors.New("no active timer")
	ErrInvalidEndTime  = errors.New("end time must be after start time")
)

// TimerConflictError reports that a user already has a running entry; the
// caller resolves it via ResolveConflict.
type TimerConflictError struct {
	Conflicting *models.TimeEntry
}

func (e *TimerConflictError) Error() string { return "a timer is already running" }

// TimerService implements 4.D, the single-running-entry state machine.
// Every mutating operation runs inside a transaction that locks the user's
// own row (users ... FOR UPDATE, see withUserLock), giving the per-user
// critical section described in §5.
type TimerService struct {
	entries  *repository.EntryRepository
	projects *repository.ProjectRepository
	users    *repository.UserRepository
	hub      *realtime.Hub
	log      zerolog.Logger
	audit    *audit.Logger
}

func NewTimerService(entries *repository.EntryRepository, projects *repository.ProjectRepository, users *repository.UserRepository, hub *realtime.Hub, log zerolog.Logger) *TimerService {
	return &TimerService{entries: entries, projects: projects, users: users, hub: hub, log: log}
}

// SetAuditLogger wires the append-only security/recovery event log. Left
// nil, conflict and force-stop events simply aren't recorded.
func (s *TimerService) SetAuditLogger(l *audit.Logger) {
	s.audit = l
}

// Start opens a critical section, verifies project ownership, and either
// inserts a new running entry or reports a TimerConflictError without
// auto-stopping the existing one.
func (s *TimerService) Start(ctx context.Context, userID, projectID uuid.UUID, description string) (*models.TimeEntry, error) {
	var entry *models.TimeEntry

	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		exists, err := s.projects.Exists(ctx, projectID, userID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrProjectNotFound
		}

		running, err := s.entries.RunningForUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if running != nil {
			metrics.TimerConflicts.Inc()
			if s.audit != nil {
				_ = s.audit.Success(ctx, userID.String(), audit.EventTimerConflict, map[string]any{"conflictingEntryId": running.ID.String()}, "", "")
			}
			return &TimerConflictError{Conflicting: running}
		}

		now := time.Now()
		entry = &models.TimeEntry{
			ID:          uuid.New(),
			UserID:      userID,
			ProjectID:   projectID,
			Description: description,
			StartTime:   now,
			IsRunning:   true,
			Tags:        []string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.entries.Insert(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(userID, realtime.EventTimerStarted, entry)
	return entry, nil
}

// Stop closes the running entry. pause() is the same operation under a
// different event name — there is no distinct Paused state server-side.
func (s *TimerService) Stop(ctx context.Context, userID uuid.UUID, end *time.Time, pause bool) (*models.TimeEntry, error) {
	var entry *models.TimeEntry

	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		running, err := s.entries.RunningForUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if running == nil {
			return ErrNoActiveTimer
		}

		endTime := time.Now()
		if end != nil {
			endTime = *end
		}
		if !endTime.After(running.StartTime) {
			return ErrInvalidEndTime
		}

		running.EndTime = &endTime
		running.Duration = int64(endTime.Sub(running.StartTime).Seconds())
		running.IsRunning = false
		running.UpdatedAt = time.Now()

		if err := s.entries.Update(ctx, tx, running); err != nil {
			return err
		}
		entry = running
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("userId", userID.String()).
		Str("entryId", entry.ID.String()).
		Str("elapsed", humanize.RelTime(entry.StartTime, *entry.EndTime, "", "")).
		Bool("pause", pause).
		Msg("timer stopped")

	if pause {
		s.hub.Publish(userID, realtime.EventTimerPaused, entry)
	} else {
		s.hub.Publish(userID, realtime.EventTimerStopped, entry)
	}
	s.hub.Publish(userID, realtime.EventEntryUpdated, entry)
	return entry, nil
}

// Active returns the current running entry, or nil, without locking.
func (s *TimerService) Active(ctx context.Context, userID uuid.UUID) (*models.TimeEntry, error) {
	return s.entries.RunningForUser(ctx, nil, userID)
}

// TimerState is the {is_running, current_entry?, elapsed_seconds} shape.
type TimerState struct {
	IsRunning      bool              `json:"isRunning"`
	CurrentEntry   *models.TimeEntry `json:"currentEntry,omitempty"`
	ElapsedSeconds int64             `json:"elapsedSeconds"`
}

func (s *TimerService) State(ctx context.Context, userID uuid.UUID) (*TimerState, error) {
	entry, err := s.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &TimerState{IsRunning: false}, nil
	}
	return &TimerState{
		IsRunning:      true,
		CurrentEntry:   entry,
		ElapsedSeconds: entry.ElapsedSeconds(time.Now()),
	}, nil
}

// ConflictAction selects how resolve_conflict resolves a pending
// TimerConflictError.
type ConflictAction string

const (
	ConflictStopExisting ConflictAction = "stop_existing"
	ConflictCancelNew    ConflictAction = "cancel_new"
)

// ResolveConflict applies the client's choice after a TimerConflictError.
// cancel_new is a no-op success: the pending start was never persisted, so
// there is nothing to undo.
func (s *TimerService) ResolveConflict(ctx context.Context, userID uuid.UUID, action ConflictAction) (*models.TimeEntry, error) {
	switch action {
	case ConflictStopExisting:
		now := time.Now()
		return s.Stop(ctx, userID, &now, false)
	case ConflictCancelNew:
		return nil, nil
	default:
		return nil, errors.New("unknown conflict action")
	}
}

// ForceStopAll is the defensive operation that closes every running entry
// for a user, used by the consistency-sweep job and admin recovery tooling.
func (s *TimerService) ForceStopAll(ctx context.Context, userID uuid.UUID) ([]models.TimeEntry, error) {
	var closed []models.TimeEntry

	err := s.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		var err error
		closed, err = s.entries.ForceStopAll(ctx, tx, userID, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.ForceStopAllRuns.Inc()
	if s.audit != nil && len(closed) > 0 {
		_ = s.audit.Success(ctx, userID.String(), audit.EventForceStopAll, map[string]any{"count": len(closed)}, "", "")
	}
	for i := range closed {
		s.log.Warn().
			Str("userId", userID.String()).
			Str("entryId", closed[i].ID.String()).
			Str("elapsed", humanize.RelTime(closed[i].StartTime, *closed[i].EndTime, "", "")).
			Msg("force-stopped stale running entry")
	}

	for i := range closed {
		e := closed[i]
		s.hub.Publish(userID, realtime.EventTimerStopped, &e)
	}
	return closed, nil
}

// ValidationReport is the validate() consistency probe result.
type ValidationReport struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
}

// Validate runs the consistency probe described in 4.D: multiple running
// entries, or a running entry with an end already set, are bug signals.
func (s *TimerService) Validate(ctx context.Context, userID uuid.UUID) (*ValidationReport, error) {
	count, err := s.entries.CountRunning(ctx, userID)
	if err != nil {
		return nil, err
	}

	issues := []string{}
	if count > 1 {
		issues = append(issues, "multiple running entries")
	}

	entry, err := s.entries.RunningForUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if entry != nil && entry.EndTime != nil {
		issues = append(issues, "entry with is_running=true but end!=null")
	}

	return &ValidationReport{OK: len(issues) == 0, Issues: issues}, nil
}

// withUserLock runs fn inside a transaction that holds a row lock on the
// user's own row for its duration — this is the per-user critical section
// from §5. Locking the user row (rather than the running-entry row) works
// even when no entry is running yet, which is exactly the race Start must
// close.
func (s *TimerService) withUserLock(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := s.entries.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.users.LockForUpdate(ctx, tx, userID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
