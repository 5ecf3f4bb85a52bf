package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
)

// Context keys set by the auth middlewares
const (
	UserIDKey = "user_id"
	RoleKey   = "role"
)

const bearerPrefix = "Bearer "

var (
	errMissingToken = errors.New("authorization header is required")
	errBadFormat    = errors.New("invalid authorization header format")
)

// UserClaims are the claims of an access token issued by the auth service
type UserClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// bearerToken extracts the token from "Bearer <token>"
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", errMissingToken
	}
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", errBadFormat
	}
	return strings.TrimSpace(header[len(bearerPrefix):]), nil
}

// ParseUserToken verifies an HS256 access token and returns its claims
func ParseUserToken(secret []byte, tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Auth validates the user's access token and sets user_id and role in context
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, errMissingToken) {
				code = "MISSING_TOKEN"
			}
			response.Abort(c, http.StatusUnauthorized, code, err.Error())
			return
		}

		claims, err := ParseUserToken(key, raw)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token has expired"
			}
			response.Abort(c, http.StatusUnauthorized, "INVALID_TOKEN", msg)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole restricts a route group to the given roles
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		if role == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "User role not found in context")
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Abort(c, http.StatusForbidden, "FORBIDDEN", "Insufficient role for this resource")
			return
		}
		c.Next()
	}
}
