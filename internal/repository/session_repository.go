package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clockframe/clockframe/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrRefreshTokenNotFound = errors.New("refresh token not found or already used")

// SessionRepository is the Session Store: short-lived session and
// refresh-token state that lives in Redis, never in Postgres.
type SessionRepository struct {
	rdb *redis.Client
}

func NewSessionRepository(rdb *redis.Client) *SessionRepository {
	return &SessionRepository{rdb: rdb}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func userSessionsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_sessions:%s", userID.String())
}

func refreshTokenKey(tokenID string) string {
	return fmt.Sprintf("refresh_token:%s", tokenID)
}

func userRefreshTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_refresh_tokens:%s", userID.String())
}

func wsTicketKey(ticket string) string {
	return fmt.Sprintf("ws_ticket:%s", ticket)
}

// Create stores a new session with an idle TTL; LastActivityAt refreshes it.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
	pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	session := &models.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateActivity bumps LastActivityAt and slides the idle TTL forward.
func (r *SessionRepository) UpdateActivity(ctx context.Context, session *models.Session, ttl time.Duration) error {
	session.LastActivityAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionKey(session.ID), data, ttl).Err()
}

func (r *SessionRepository) Delete(ctx context.Context, session *models.Session) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, sessionKey(session.ID))
	pipe.SRem(ctx, userSessionsKey(session.UserID), session.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteAllForUser tears down every session belonging to a user, used on
// logout-all and on refresh-token replay detection.
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	sessionIDs, err := r.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return err
	}
	if len(sessionIDs) == 0 {
		return nil
	}

	pipe := r.rdb.Pipeline()
	for _, sid := range sessionIDs {
		pipe.Del(ctx, sessionKey(sid))
	}
	pipe.Del(ctx, userSessionsKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

// StoreRefreshToken registers a refresh token as valid for its session, with
// its own TTL distinct from the session's idle TTL.
func (r *SessionRepository) StoreRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	data, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	ttl := time.Until(rt.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, refreshTokenKey(rt.ID), data, ttl)
	pipe.SAdd(ctx, userRefreshTokensKey(rt.UserID), rt.ID)
	pipe.Expire(ctx, userRefreshTokensKey(rt.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// ConsumeRefreshToken atomically retrieves and invalidates a refresh token.
// ErrRefreshTokenNotFound signals either an unknown token or a replay of one
// already consumed — the caller cannot distinguish the two, and per the
// token-rotation invariant must treat both as a replay and revoke the user.
func (r *SessionRepository) ConsumeRefreshToken(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	data, err := r.rdb.GetDel(ctx, refreshTokenKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	rt := &models.RefreshToken{}
	if err := json.Unmarshal(data, rt); err != nil {
		return nil, err
	}
	r.rdb.SRem(ctx, userRefreshTokensKey(rt.UserID), rt.ID)
	return rt, nil
}

// DeleteAllRefreshTokensForUser revokes every outstanding refresh token for
// a user, used alongside DeleteAllForUser on replay detection and logout-all.
func (r *SessionRepository) DeleteAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	tokenIDs, err := r.rdb.SMembers(ctx, userRefreshTokensKey(userID)).Result()
	if err != nil {
		return err
	}
	if len(tokenIDs) == 0 {
		return nil
	}

	pipe := r.rdb.Pipeline()
	for _, tid := range tokenIDs {
		pipe.Del(ctx, refreshTokenKey(tid))
	}
	pipe.Del(ctx, userRefreshTokensKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

// CreateWSTicket issues a short-lived, one-time ticket so the WebSocket
// upgrade URL never carries a bearer token.
func (r *SessionRepository) CreateWSTicket(ctx context.Context, ticket string, userID uuid.UUID, sessionID string) error {
	payload := struct {
		UserID    uuid.UUID `json:"userId"`
		SessionID string    `json:"sessionId"`
	}{userID, sessionID}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, wsTicketKey(ticket), data, 30*time.Second).Err()
}

type WSTicket struct {
	UserID    uuid.UUID `json:"userId"`
	SessionID string    `json:"sessionId"`
}

// GetWSTicket retrieves and deletes a ticket atomically so it can never be
// replayed against a second upgrade request.
func (r *SessionRepository) GetWSTicket(ctx context.Context, ticket string) (*WSTicket, error) {
	data, err := r.rdb.GetDel(ctx, wsTicketKey(ticket)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	t := &WSTicket{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}
