// Package audit records security-relevant events — logins, refresh-token
// replay, forced timer recovery — to an append-only table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventType string

const (
	EventLogin                EventType = "auth.login"
	EventLoginFailed          EventType = "auth.login_failed"
	EventLogout               EventType = "auth.logout"
	EventLogoutAll            EventType = "auth.logout_all"
	EventRegister             EventType = "auth.register"
	EventPasswordChange       EventType = "auth.password_change"
	EventRefreshReplayDetected EventType = "auth.refresh_replay_detected"
	EventTimerConflict        EventType = "timer.conflict"
	EventForceStopAll         EventType = "timer.force_stop_all"
)

// Event is one append-only row. Details is opaque, event-specific context
// (conflicting entry id, session agent string, etc.).
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Type      EventType      `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Status    string         `json:"status"` // success, failure
	CreatedAt time.Time      `json:"createdAt"`
}

// Logger writes and queries the audit_logs table.
type Logger struct {
	db *pgxpool.Pool
}

func NewLogger(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

func (l *Logger) Log(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Status == "" {
		event.Status = "success"
	}

	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, event_type, details, ip_address, user_agent, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.UserID, event.Type, detailsJSON, event.IPAddress, event.UserAgent, event.Status, event.CreatedAt)
	return err
}

func (l *Logger) Success(ctx context.Context, userID string, eventType EventType, details map[string]any, ipAddress, userAgent string) error {
	return l.Log(ctx, &Event{
		UserID:    userID,
		Type:      eventType,
		Details:   details,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Status:    "success",
	})
}

func (l *Logger) Failure(ctx context.Context, userID string, eventType EventType, details map[string]any, ipAddress, userAgent string) error {
	return l.Log(ctx, &Event{
		UserID:    userID,
		Type:      eventType,
		Details:   details,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Status:    "failure",
	})
}

func (l *Logger) ForUser(ctx context.Context, userID string, limit, offset int) ([]*Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, user_id, event_type, details, ip_address, user_agent, status, created_at
		FROM audit_logs WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SearchFilter narrows Search; zero values mean "no filter".
type SearchFilter struct {
	UserID    string
	EventType EventType
	Status    string
}

// Search filters the audit log, binding each present filter as its own
// placeholder rather than concatenating literal values into the query.
func (l *Logger) Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]*Event, int, error) {
	query := `SELECT id, user_id, event_type, details, ip_address, user_agent, status, created_at FROM audit_logs WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`

	var args []any
	argIndex := 1

	add := func(clause string, val any) {
		placeholder := fmt.Sprintf(clause, argIndex)
		query += placeholder
		countQuery += placeholder
		args = append(args, val)
		argIndex++
	}

	if filter.UserID != "" {
		add(" AND user_id = $%d", filter.UserID)
	}
	if filter.EventType != "" {
		add(" AND event_type = $%d", filter.EventType)
	}
	if filter.Status != "" {
		add(" AND status = $%d", filter.Status)
	}

	var total int
	if err := l.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	return events, total, err
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		event := &Event{}
		var detailsJSON []byte
		if err := rows.Scan(&event.ID, &event.UserID, &event.Type, &detailsJSON, &event.IPAddress, &event.UserAgent, &event.Status, &event.CreatedAt); err != nil {
			return nil, err
		}
		if len(detailsJSON) > 0 {
			json.Unmarshal(detailsJSON, &event.Details)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
