package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/apperr"
	"github.com/clockframe/clockframe/internal/config"
	"github.com/clockframe/clockframe/internal/middleware"
	"github.com/clockframe/clockframe/internal/services"
)

// AuthHandler implements the external auth surface from 4.C: register,
// login, refresh, logout, logout-all, me, change-password. Every response
// that carries tokens also sets them as HttpOnly cookies so an embedding
// client never has to touch the access/refresh token directly.
type AuthHandler struct {
	authService *services.AuthService
	jwtConfig   config.JWTConfig
	log         zerolog.Logger
}

func NewAuthHandler(authService *services.AuthService, jwtConfig config.JWTConfig, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, jwtConfig: jwtConfig, log: log}
}

const (
	accessCookieName  = "clockframe_access"
	refreshCookieName = "clockframe_refresh"
)

// setAuthCookies writes the access/refresh pair as SameSite=None;Secure
// cookies, required for the cross-origin-iframe embedding case in 4.F.
func (h *AuthHandler) setAuthCookies(c *fiber.Ctx, tokens services.TokenPair, refreshTTL time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     accessCookieName,
		Value:    tokens.AccessToken,
		Expires:  tokens.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "None",
		Path:     "/",
	})
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    tokens.RefreshToken,
		Expires:  time.Now().Add(refreshTTL),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "None",
		Path:     "/",
	})
}

func (h *AuthHandler) clearAuthCookies(c *fiber.Ctx) {
	expired := time.Now().Add(-time.Hour)
	c.Cookie(&fiber.Cookie{Name: accessCookieName, Value: "", Expires: expired, HTTPOnly: true, Secure: true, SameSite: "None", Path: "/"})
	c.Cookie(&fiber.Cookie{Name: refreshCookieName, Value: "", Expires: expired, HTTPOnly: true, Secure: true, SameSite: "None", Path: "/"})
}

type userView struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Preferences any       `json:"preferences"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,valid_email"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Password string `json:"password" validate:"required,min=8"`
}

type authResponse struct {
	Success bool     `json:"success"`
	User    userView `json:"user"`
	Tokens  struct {
		AccessToken  string    `json:"accessToken"`
		RefreshToken string    `json:"refreshToken"`
		ExpiresAt    time.Time `json:"expiresAt"`
	} `json:"tokens"`
	SessionID string `json:"sessionId"`
}

func toUserView(u *services.AuthResult) userView {
	return userView{
		ID:          u.User.ID,
		Email:       u.User.Email,
		Name:        u.User.Name,
		Role:        u.User.Role,
		Preferences: u.User.Preferences,
	}
}

func (h *AuthHandler) writeAuthResponse(c *fiber.Ctx, status int, result *services.AuthResult, refreshTTL time.Duration) error {
	h.setAuthCookies(c, result.Tokens, refreshTTL)

	resp := authResponse{Success: true, User: toUserView(result), SessionID: result.SessionID}
	resp.Tokens.AccessToken = result.Tokens.AccessToken
	resp.Tokens.RefreshToken = result.Tokens.RefreshToken
	resp.Tokens.ExpiresAt = result.Tokens.ExpiresAt

	return c.Status(status).JSON(resp)
}

// Register implements register() from 4.C.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[registerRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	result, err := h.authService.Register(c.Context(), services.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	}, c.Get(fiber.HeaderUserAgent), c.IP())
	if err != nil {
		return mapAuthError(err)
	}

	return h.writeAuthResponse(c, fiber.StatusCreated, result, h.refreshTTL())
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,valid_email"`
	Password string `json:"password" validate:"required"`
}

// Login implements login() from 4.C.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[loginRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	result, err := h.authService.Login(c.Context(), req.Email, req.Password, c.Get(fiber.HeaderUserAgent), c.IP())
	if err != nil {
		return mapAuthError(err)
	}

	return h.writeAuthResponse(c, fiber.StatusOK, result, h.refreshTTL())
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken implements refresh() from 4.C. The refresh token is read
// from the request body when present, falling back to the cookie so a
// same-site browser client never has to surface it in JS at all.
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	var req refreshRequest
	_ = c.BodyParser(&req)

	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken = c.Cookies(refreshCookieName)
	}
	if refreshToken == "" {
		return apperr.New(apperr.CodeInvalidRefreshToken, "refresh token is required")
	}

	tokens, err := h.authService.RefreshTokens(c.Context(), refreshToken)
	if err != nil {
		return mapAuthError(err)
	}

	h.setAuthCookies(c, *tokens, h.refreshTTL())

	return c.JSON(fiber.Map{
		"success": true,
		"tokens": fiber.Map{
			"accessToken":  tokens.AccessToken,
			"refreshToken": tokens.RefreshToken,
			"expiresAt":    tokens.ExpiresAt,
		},
	})
}

// Logout implements logout() from 4.C: deletes the caller's own session.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sessionID := middleware.GetSessionID(c)
	if sessionID != "" {
		if err := h.authService.Logout(c.Context(), sessionID); err != nil {
			return apperr.Internal(err)
		}
	}
	h.clearAuthCookies(c)
	return c.JSON(fiber.Map{"success": true})
}

// LogoutAll implements logout-all() from 4.C: deletes every session and
// refresh token belonging to the caller, across every device.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if err := h.authService.LogoutAll(c.Context(), userID); err != nil {
		return apperr.Internal(err)
	}
	h.clearAuthCookies(c)
	return c.JSON(fiber.Map{"success": true})
}

// WebSocketTicket issues a one-time ticket for the /socket upgrade, so the
// upgrade URL never has to carry the bearer token itself.
func (h *AuthHandler) WebSocketTicket(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	sessionID := middleware.GetSessionID(c)

	ticket, err := h.authService.CreateWebSocketTicket(c.Context(), userID, sessionID)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(fiber.Map{"success": true, "ticket": ticket})
}

// Me returns the authenticated caller's profile.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	user, err := h.authService.GetUserByID(c.Context(), userID)
	if err != nil {
		return apperr.New(apperr.CodeUserNotFound, "user not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": userView{
			ID:          user.ID,
			Email:       user.Email,
			Name:        user.Name,
			Role:        user.Role,
			Preferences: user.Preferences,
		},
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

// ChangePassword implements change-password() from 4.C. On success every
// session for the user is revoked, matching 4.C's logout-all mandate.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	req, ferr := middleware.ValidateBody[changePasswordRequest](c)
	if ferr != nil {
		return apperr.Validation(ferr.Error(), nil)
	}

	userID := middleware.GetUserID(c)
	if err := h.authService.ChangePassword(c.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			return apperr.New(apperr.CodeInvalidCredentials, "current password is incorrect")
		}
		return mapAuthError(err)
	}

	h.clearAuthCookies(c)
	return c.JSON(fiber.Map{"success": true})
}

func (h *AuthHandler) refreshTTL() time.Duration {
	return h.jwtConfig.RefreshExpiry
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return apperr.New(apperr.CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, services.ErrInvalidRefreshToken):
		return apperr.New(apperr.CodeInvalidRefreshToken, "invalid or expired refresh token")
	case errors.Is(err, services.ErrInvalidToken):
		return apperr.New(apperr.CodeTokenInvalid, "invalid or expired token")
	case errors.Is(err, services.ErrEmailTaken):
		return apperr.New(apperr.CodeUserExists, "an account with this email already exists")
	case errors.Is(err, services.ErrWeakPassword):
		return apperr.Validation("password does not meet strength requirements", map[string]string{"password": "must be at least 8 characters with upper, lower, digit and symbol"})
	case errors.Is(err, services.ErrNameTooShort):
		return apperr.Validation("name must be at least 2 characters", map[string]string{"name": "too short"})
	default:
		return apperr.Internal(err)
	}
}
