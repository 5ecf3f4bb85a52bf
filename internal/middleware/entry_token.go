package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
)

// EntryTokenHeader carries the entry token on checkout routes
const EntryTokenHeader = "X-Entry-Token"

const grantKey = "entry_grant"

// EntryTokenGuard admits a request only with a live entry token. The token
// is read from X-Entry-Token, falling back to the Authorization bearer.
func EntryTokenGuard(tokens service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(EntryTokenHeader)
		if raw == "" {
			raw, _ = bearerToken(c)
		}
		if raw == "" {
			response.Abort(c, http.StatusUnauthorized, "ENTRY_TOKEN_REQUIRED", domain.ErrEntryTokenMissing.Error())
			return
		}

		grant, err := tokens.Validate(c.Request.Context(), raw)
		if err != nil {
			if !domain.IsCredentialError(err) {
				_ = c.Error(err)
				response.Abort(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal Server Error")
				return
			}
			response.Abort(c, http.StatusForbidden, entryTokenCode(err), err.Error())
			return
		}

		// a user-authenticated caller must own the token
		if uid := c.GetString(UserIDKey); uid != "" && uid != grant.UserID {
			response.Abort(c, http.StatusForbidden, "ENTRY_TOKEN_USER_MISMATCH", domain.ErrEntryTokenUserMismatch.Error())
			return
		}

		SetEntryGrant(c, grant)
		c.Next()
	}
}

// SetEntryGrant stores a validated grant and its user on the context
func SetEntryGrant(c *gin.Context, grant *domain.EntryGrant) {
	c.Set(grantKey, grant)
	c.Set(UserIDKey, grant.UserID)
}

// GetEntryGrant returns the grant stored by EntryTokenGuard
func GetEntryGrant(c *gin.Context) (*domain.EntryGrant, bool) {
	v, ok := c.Get(grantKey)
	if !ok {
		return nil, false
	}
	grant, ok := v.(*domain.EntryGrant)
	return grant, ok
}

func entryTokenCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrEntryTokenExpired):
		return "ENTRY_TOKEN_EXPIRED"
	case errors.Is(err, domain.ErrEntryTokenMismatch):
		return "ENTRY_TOKEN_SUPERSEDED"
	default:
		return "INVALID_ENTRY_TOKEN"
	}
}
