package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/clockframe/clockframe/internal/config"
	"github.com/clockframe/clockframe/internal/services"
)

// AuthMiddleware verifies the bearer access token on every protected route
// and optionally cross-checks a session-id header against the Session
// Store, per 4.G.
type AuthMiddleware struct {
	authService *services.AuthService
	jwtConfig   config.JWTConfig
}

func NewAuthMiddleware(authService *services.AuthService, jwtConfig config.JWTConfig) *AuthMiddleware {
	return &AuthMiddleware{authService: authService, jwtConfig: jwtConfig}
}

// Authenticate verifies the JWT, confirms the session it names is still
// live, and rejects a session-id header that doesn't match the token.
func (m *AuthMiddleware) Authenticate(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "TOKEN_MISSING", "message": "missing authorization header"},
		})
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "TOKEN_INVALID", "message": "invalid authorization header format"},
		})
	}

	claims, err := m.authService.ValidateToken(parts[1])
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "TOKEN_INVALID", "message": "invalid or expired token"},
		})
	}

	if headerSessionID := c.Get("session-id"); headerSessionID != "" && headerSessionID != claims.SessionID {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "INVALID_SESSION", "message": "session-id header does not match token"},
		})
	}

	session, err := m.authService.ValidateSession(c.Context(), claims.SessionID)
	if err != nil || session == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "INVALID_SESSION", "message": "session has been revoked"},
		})
	}

	c.Locals("userID", claims.UserID)
	c.Locals("sessionID", claims.SessionID)
	c.Locals("userRole", claims.Role)

	return c.Next()
}

// RequireAdmin rejects non-admin callers; used on admin-only recovery routes.
func (m *AuthMiddleware) RequireAdmin(c *fiber.Ctx) error {
	role, ok := c.Locals("userRole").(string)
	if !ok || role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "ADMIN_REQUIRED", "message": "admin access required"},
		})
	}
	return c.Next()
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	if userID, ok := c.Locals("userID").(uuid.UUID); ok {
		return userID
	}
	return uuid.Nil
}

func GetSessionID(c *fiber.Ctx) string {
	if sessionID, ok := c.Locals("sessionID").(string); ok {
		return sessionID
	}
	return ""
}

func GetUserRole(c *fiber.Ctx) string {
	if role, ok := c.Locals("userRole").(string); ok {
		return role
	}
	return "user"
}
