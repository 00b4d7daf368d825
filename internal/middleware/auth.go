package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "junction-backend/pkg/errors"
	"junction-backend/pkg/jwt"
	"junction-backend/pkg/logger"
	"junction-backend/pkg/response"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID = "user_id"
	ContextName   = "name"
)

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
}

// AuthMiddleware validates the access token and stores the caller in the
// Gin context. Browsers cannot set headers on a WebSocket handshake, so a
// "token" query parameter is accepted when no Authorization header is sent.
// revocationChecker may be nil.
func AuthMiddleware(jwtManager *jwt.JWTManager, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, appErr := extractToken(c)
		if appErr != nil {
			response.AppError(c, appErr)
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			response.AppError(c, apperrors.InvalidTokenError("Invalid token"))
			c.Abort()
			return
		}

		if revocationChecker != nil {
			revoked, err := revocationChecker.IsTokenRevoked(c.Request.Context(), tokenString)
			if err != nil {
				// Fail-open: the signature is already verified and revocation
				// lookups are best-effort while Redis is unavailable.
				logger.Debug("Revocation check skipped", zap.Error(err))
			} else if revoked {
				response.AppError(c, apperrors.TokenRevokedError())
				c.Abort()
				return
			}
		}

		c.Set(ContextUserID, claims.Identity())
		c.Set(ContextName, claims.Name)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, *apperrors.AppError) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", apperrors.UnauthorizedError("Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apperrors.UnauthorizedError("Invalid authorization header format")
	}
	return parts[1], nil
}

// UserID returns the authenticated user id set by AuthMiddleware
func UserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	return userID, userID != ""
}
