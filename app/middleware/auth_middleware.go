// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/wablast/blast-core/app/dto"
	"github.com/wablast/blast-core/app/services"
)

// Locals keys set by Authenticate
const (
	LocalKlienID = "klien_id"
	LocalRole    = "role"
	LocalClaims  = "token_claims"
)

// AuthMiddleware handles JWT token validation for protected endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

func unauthorized(c fiber.Ctx, message, code string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error:   dto.ErrorDetail{Code: code},
	})
}

// Authenticate validates the bearer token and stores the actor in the request locals
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required", "MISSING_AUTHORIZATION_HEADER")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Expected 'Bearer <token>'", "INVALID_AUTHORIZATION_FORMAT")
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return unauthorized(c, "Access token is required", "MISSING_ACCESS_TOKEN")
		}

		claims, err := m.tokenService.ValidateToken(token)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				return unauthorized(c, "Access token has expired", "TOKEN_EXPIRED")
			case errors.Is(err, services.ErrTokenInvalid):
				return unauthorized(c, "Invalid access token", "TOKEN_INVALID")
			default:
				return unauthorized(c, "Token validation failed", "TOKEN_VALIDATION_FAILED")
			}
		}

		c.Locals(LocalKlienID, claims.KlienID)
		c.Locals(LocalRole, claims.Role)
		c.Locals(LocalClaims, claims)

		return c.Next()
	}
}

// RequireAdmin rejects actors without the admin role. Mount it after Authenticate.
func (m *AuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c fiber.Ctx) error {
		claims, ok := GetClaimsFromContext(c)
		if !ok {
			return unauthorized(c, "Authentication required", "AUTHENTICATION_REQUIRED")
		}
		if !claims.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{
				Success: false,
				Message: "Admin role required",
				Error:   dto.ErrorDetail{Code: "ADMIN_ROLE_REQUIRED"},
			})
		}
		return c.Next()
	}
}

// GetKlienIDFromContext returns the tenant the caller acts for. Admin tokens carry no tenant.
func GetKlienIDFromContext(c fiber.Ctx) (uint, bool) {
	klienID, ok := c.Locals(LocalKlienID).(uint)
	if !ok || klienID == 0 {
		return 0, false
	}
	return klienID, true
}

// GetClaimsFromContext extracts token claims from the request context
func GetClaimsFromContext(c fiber.Ctx) (*services.ActorClaims, bool) {
	claims, ok := c.Locals(LocalClaims).(*services.ActorClaims)
	return claims, ok
}
