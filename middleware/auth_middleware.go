package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	APIKeyHeader  = "x-api-key"
	VoterIDHeader = "Kombuciao-Voter-Id"

	// VoterIDKey is the gin context key holding the caller's voter id.
	VoterIDKey = "voter_id"
)

// APIKeyAuth guards write routes with the shared secret. When hash is set
// the header is checked against it with bcrypt, otherwise against key.
func APIKeyAuth(key, hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := c.GetHeader(APIKeyHeader)
		if given == "" || !apiKeyMatches(given, key, hash) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "Unauthorized - Invalid API key",
			})
			return
		}
		c.Next()
	}
}

func apiKeyMatches(given, key, hash string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(given)) == nil
	}
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(key)) == 1
}

// RequireVoterID stores the voter id header in the context and rejects
// requests without one. The id is taken as-is.
func RequireVoterID() gin.HandlerFunc {
	return func(c *gin.Context) {
		voterID := strings.TrimSpace(c.GetHeader(VoterIDHeader))
		if voterID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "voter id header is required",
			})
			return
		}
		c.Set(VoterIDKey, voterID)
		c.Next()
	}
}

// OptionalVoterID stores the voter id header when present.
func OptionalVoterID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if voterID := strings.TrimSpace(c.GetHeader(VoterIDHeader)); voterID != "" {
			c.Set(VoterIDKey, voterID)
		}
		c.Next()
	}
}
