package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/clockframe/clockframe/internal/audit"
	"github.com/clockframe/clockframe/internal/config"
	"github.com/clockframe/clockframe/internal/metrics"
	"github.com/clockframe/clockframe/internal/models"
	"github.com/clockframe/clockframe/internal/repository"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrInvalidRefreshToken  = errors.New("invalid or expired refresh token")
	ErrEmailTaken           = errors.New("email already registered")
	ErrWeakPassword         = errors.New("password does not meet strength requirements")
	ErrNameTooShort         = errors.New("name must be at least 2 characters")
)

// sessionCacheEntry holds a cached session-validity result, trading a
// short staleness window for fewer round trips to the Session Store.
type sessionCacheEntry struct {
	session   *models.Session
	expiresAt time.Time
}

// AuthService implements 4.C: register, login, refresh, logout,
// logout-all, and password change. Owns password hashing.
type AuthService struct {
	userRepo    *repository.UserRepository
	sessionRepo *repository.SessionRepository
	jwtConfig   config.JWTConfig
	log         zerolog.Logger
	audit       *audit.Logger

	sessionCache   map[string]*sessionCacheEntry
	sessionCacheMu sync.RWMutex
	cacheTTL       time.Duration
}

func NewAuthService(userRepo *repository.UserRepository, sessionRepo *repository.SessionRepository, jwtConfig config.JWTConfig) *AuthService {
	svc := &AuthService{
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		jwtConfig:    jwtConfig,
		log:          zerolog.Nop(),
		sessionCache: make(map[string]*sessionCacheEntry),
		cacheTTL:     5 * time.Second,
	}
	go svc.cleanupSessionCache()
	return svc
}

func (s *AuthService) SetLogger(log zerolog.Logger) {
	s.log = log
}

// SetAuditLogger wires the append-only security event log. Left nil, every
// audit call below is a no-op — useful for tests that don't stand up a DB.
func (s *AuthService) SetAuditLogger(l *audit.Logger) {
	s.audit = l
}

func (s *AuthService) recordAudit(ctx context.Context, userID string, eventType audit.EventType, details map[string]any, status, ipAddress, userAgent string) {
	if s.audit == nil {
		return
	}
	var err error
	if status == "failure" {
		err = s.audit.Failure(ctx, userID, eventType, details, ipAddress, userAgent)
	} else {
		err = s.audit.Success(ctx, userID, eventType, details, ipAddress, userAgent)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("eventType", string(eventType)).Msg("failed to record audit event")
	}
}

func (s *AuthService) cleanupSessionCache() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.sessionCacheMu.Lock()
		for key, entry := range s.sessionCache {
			if now.After(entry.expiresAt) {
				delete(s.sessionCache, key)
			}
		}
		s.sessionCacheMu.Unlock()
	}
}

// RegisterInput is the register() contract from 4.C.
type RegisterInput struct {
	Email          string
	Name           string
	Password       string
	OrganizationID *uuid.UUID
}

// NeedsSetup reports whether no users exist yet (first register becomes admin).
func (s *AuthService) NeedsSetup(ctx context.Context) (bool, error) {
	count, err := s.userRepo.Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

var passwordSymbolRe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// validatePassword enforces the policy: >=8 chars, >=1 upper, >=1 lower,
// >=1 digit, >=1 symbol.
func validatePassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !passwordSymbolRe.MatchString(password) {
		return ErrWeakPassword
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AuthResult is the {user-view, access, refresh, session_id} shape common
// to register, login, and completed-refresh responses.
type AuthResult struct {
	User      *models.User
	Tokens    TokenPair
	SessionID string
}

// Register creates a new account; the very first user in the system is
// promoted to admin.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, userAgent, ipAddress string) (*AuthResult, error) {
	email := normalizeEmail(input.Email)
	if len(strings.TrimSpace(input.Name)) < 2 {
		return nil, ErrNameTooShort
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	exists, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost())
	if err != nil {
		return nil, err
	}

	userCount, err := s.userRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	role := models.RoleUser
	if userCount == 0 {
		role = models.RoleAdmin
	}

	now := time.Now()
	user := &models.User{
		ID:             uuid.New(),
		Email:          email,
		Name:           input.Name,
		PasswordHash:   string(hashedPassword),
		Role:           role,
		OrganizationID: input.OrganizationID,
		Preferences:    models.DefaultPreferences(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	tokens, sessionID, err := s.createSession(ctx, user.ID, user.Role, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, user.ID.String(), audit.EventRegister, nil, "success", ipAddress, userAgent)
	return &AuthResult{User: user, Tokens: *tokens, SessionID: sessionID}, nil
}

func (s *AuthService) bcryptCost() int {
	if s.jwtConfig.PasswordKDFWork >= bcrypt.MinCost && s.jwtConfig.PasswordKDFWork <= bcrypt.MaxCost {
		return s.jwtConfig.PasswordKDFWork
	}
	return bcrypt.DefaultCost
}

// TokenPair is the {access, refresh} shape returned by register/login/refresh.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Login always answers a non-match with the single uniform
// ErrInvalidCredentials, including when the account itself does not exist,
// to resist user enumeration.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*AuthResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Still pay the bcrypt cost so a nonexistent account can't be
			// distinguished from a wrong password by response latency.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$CwTycUXWue0Thq9StjUM0uJ8z7A7uqBhz8t3G.9zQjVqzYh6OZ7Xe"), []byte(password))
			s.recordAudit(ctx, "", audit.EventLoginFailed, map[string]any{"email": normalizeEmail(email)}, "failure", ipAddress, userAgent)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordAudit(ctx, user.ID.String(), audit.EventLoginFailed, nil, "failure", ipAddress, userAgent)
		return nil, ErrInvalidCredentials
	}

	tokens, sessionID, err := s.createSession(ctx, user.ID, user.Role, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, user.ID.String(), audit.EventLogin, nil, "success", ipAddress, userAgent)
	return &AuthResult{User: user, Tokens: *tokens, SessionID: sessionID}, nil
}

// RefreshTokens implements refresh(): verifies the refresh token's
// signature, consumes its id via the Session Store, and rotates it. A
// missing token id with an otherwise-valid signature is a replay signal —
// every refresh token and session for that user is revoked.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshTokenString string) (*TokenPair, error) {
	claims, err := s.parseRefreshClaims(refreshTokenString)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	rt, err := s.sessionRepo.ConsumeRefreshToken(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			s.log.Warn().
				Str("userId", claims.UserID.String()).
				Str("tokenId", claims.TokenID).
				Msg("refresh token replay detected, revoking all sessions")
			_ = s.sessionRepo.DeleteAllRefreshTokensForUser(ctx, claims.UserID)
			_ = s.sessionRepo.DeleteAllForUser(ctx, claims.UserID)
			metrics.RefreshReplaysDetected.Inc()
			s.recordAudit(ctx, claims.UserID.String(), audit.EventRefreshReplayDetected, map[string]any{"tokenId": claims.TokenID}, "failure", "", "")
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	session, err := s.sessionRepo.GetByID(ctx, rt.SessionID)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.GetByID(ctx, rt.UserID)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	accessToken, err := s.generateAccessToken(user.ID, session.ID, user.Role)
	if err != nil {
		return nil, err
	}
	newRefresh, err := s.issueRefreshToken(ctx, user.ID, session.ID)
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.UpdateActivity(ctx, session, s.jwtConfig.SessionIdleTTL); err != nil {
		return nil, err
	}
	s.invalidateSessionCache(session.ID)

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    time.Now().Add(s.jwtConfig.Expiry),
	}, nil
}

// Logout is best-effort: a missing session is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	s.invalidateSessionCache(sessionID)
	if err := s.sessionRepo.Delete(ctx, session); err != nil {
		return err
	}
	s.recordAudit(ctx, session.UserID.String(), audit.EventLogout, nil, "success", "", "")
	return nil
}

// LogoutAll deletes every session and refresh token for a user.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.sessionRepo.DeleteAllRefreshTokensForUser(ctx, userID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	s.recordAudit(ctx, userID.String(), audit.EventLogoutAll, nil, "success", "", "")
	return nil
}

// ChangePassword verifies the current password, persists the new hash, and
// logs the user out of every session and device.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost())
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, string(hashedPassword)); err != nil {
		return err
	}

	s.recordAudit(ctx, userID.String(), audit.EventPasswordChange, nil, "success", "", "")
	return s.LogoutAll(ctx, userID)
}

// UpdatePreferences persists a user's display preferences.
func (s *AuthService) UpdatePreferences(ctx context.Context, userID uuid.UUID, prefs models.Preferences) error {
	return s.userRepo.UpdatePreferences(ctx, userID, prefs)
}

// ValidateSession returns the session or ErrSessionNotFound, bumping
// last-activity on success. A short in-process cache absorbs repeated
// validation hits from the same connection without a Redis round trip per
// request.
func (s *AuthService) ValidateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s.sessionCacheMu.RLock()
	cached, ok := s.sessionCache[sessionID]
	s.sessionCacheMu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.session, nil
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.UpdateActivity(ctx, session, s.jwtConfig.SessionIdleTTL); err != nil {
		s.log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to bump session activity")
	}

	s.sessionCacheMu.Lock()
	s.sessionCache[sessionID] = &sessionCacheEntry{session: session, expiresAt: time.Now().Add(s.cacheTTL)}
	s.sessionCacheMu.Unlock()

	return session, nil
}

func (s *AuthService) invalidateSessionCache(sessionID string) {
	s.sessionCacheMu.Lock()
	delete(s.sessionCache, sessionID)
	s.sessionCacheMu.Unlock()
}

// CreateWebSocketTicket issues a one-time ticket so the channel upgrade URL
// never carries a bearer token.
func (s *AuthService) CreateWebSocketTicket(ctx context.Context, userID uuid.UUID, sessionID string) (string, error) {
	ticket, err := randomToken()
	if err != nil {
		return "", err
	}
	if err := s.sessionRepo.CreateWSTicket(ctx, ticket, userID, sessionID); err != nil {
		return "", err
	}
	return ticket, nil
}

// ValidateWebSocketTicket validates and consumes a WebSocket ticket.
func (s *AuthService) ValidateWebSocketTicket(ctx context.Context, ticket string) (*repository.WSTicket, error) {
	wsTicket, err := s.sessionRepo.GetWSTicket(ctx, ticket)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return wsTicket, nil
}

// JWTClaims is the access-token payload: user_id, session_id, role plus
// standard registered claims. Email is declared here, but
// generateAccessToken does not set it, so issued tokens carry an empty email.
type JWTClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	jwt.RegisteredClaims
}

// refreshClaims is the refresh-token payload: a signed pointer to the
// opaque, single-use token id tracked in the Session Store.
type refreshClaims struct {
	UserID  uuid.UUID `json:"user_id"`
	TokenID string    `json:"token_id"`
	jwt.RegisteredClaims
}

// ValidateToken verifies an access token's signature and expiry.
func (s *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtConfig.Secret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) parseRefreshClaims(tokenString string) (*refreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &refreshClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtConfig.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*refreshClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// createSession mints a session plus its first token pair.
func (s *AuthService) createSession(ctx context.Context, userID uuid.UUID, role, userAgent, ipAddress string) (*TokenPair, string, error) {
	sessionID := uuid.New().String()
	now := time.Now()

	session := &models.Session{
		ID:             sessionID,
		UserID:         userID,
		UserAgent:      userAgent,
		IPAddress:      ipAddress,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session, s.jwtConfig.SessionIdleTTL); err != nil {
		return nil, "", err
	}

	accessToken, err := s.generateAccessToken(userID, sessionID, role)
	if err != nil {
		return nil, "", err
	}
	refreshToken, err := s.issueRefreshToken(ctx, userID, sessionID)
	if err != nil {
		return nil, "", err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.jwtConfig.Expiry),
	}, sessionID, nil
}

func (s *AuthService) generateAccessToken(userID uuid.UUID, sessionID, role string) (string, error) {
	claims := JWTClaims{
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.jwtConfig.Expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "clockframe",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtConfig.Secret))
}

// issueRefreshToken creates a fresh opaque token id, registers it in the
// Session Store with its own TTL, and signs a pointer to it.
func (s *AuthService) issueRefreshToken(ctx context.Context, userID uuid.UUID, sessionID string) (string, error) {
	tokenID, err := randomToken()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().Add(s.jwtConfig.RefreshExpiry)

	if err := s.sessionRepo.StoreRefreshToken(ctx, &models.RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", err
	}

	claims := refreshClaims{
		UserID:  userID,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "clockframe",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtConfig.Secret))
}

func randomToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
