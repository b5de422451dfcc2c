package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/marketplace-api/internal/auth"
	"github.com/flicky/marketplace-api/internal/model"
)

const (
	userIDKey = "userID"
	claimsKey = "claims"
)

// UserEnsurer creates the caller's user record on first contact.
type UserEnsurer interface {
	EnsureUser(ctx context.Context, sub, name, email string) (*model.User, error)
}

// Authenticate verifies the bearer token and, when users is non-nil,
// gets-or-creates the caller's user.
func Authenticate(verifier auth.Verifier, users UserEnsurer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			AbortUnauthorized(c, err)
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			AbortUnauthorized(c, err)
			return
		}
		if claims.Subject == "" {
			AbortUnauthorized(c, &auth.Error{Code: auth.CodeInvalidClaims, Description: "token has no subject"})
			return
		}

		if users != nil {
			if _, err := users.EnsureUser(c.Request.Context(), claims.Subject, claims.Name, claims.Email); err != nil {
				slog.ErrorContext(c.Request.Context(), "ensure user", "sub", claims.Subject, "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"Error": "internal server error"})
				return
			}
		}

		c.Set(userIDKey, claims.Subject)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// AbortUnauthorized writes a 401 for err.
func AbortUnauthorized(c *gin.Context, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		authErr = &auth.Error{Code: auth.CodeInvalidHeader, Description: "Unable to parse authentication token."}
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"Error": authErr.Description, "code": authErr.Code})
}

func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func GetClaims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}
