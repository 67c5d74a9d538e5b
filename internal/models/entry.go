package models

import (
	"time"

	"github.com/google/uuid"
)

// TimeEntry is a single tracked span of work, running or closed.
// IsRunning=true and End=nil always travel together; the service layer
// enforces that no user has more than one of these at once.
type TimeEntry struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	ProjectID   uuid.UUID  `json:"projectId"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Duration    int64      `json:"duration"` // whole seconds, defined only when EndTime is set
	IsRunning   bool       `json:"isRunning"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ElapsedSeconds returns the authoritative duration: recomputed from
// instants, never trusted from a cached field, matching entries that are
// still running against the supplied wall-clock reading.
func (e *TimeEntry) ElapsedSeconds(now time.Time) int64 {
	if e.IsRunning && e.EndTime == nil {
		return int64(now.Sub(e.StartTime).Seconds())
	}
	return e.Duration
}
