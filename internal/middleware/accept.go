package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// RequireJSON rejects requests whose Accept header rules out JSON. A missing
// header accepts anything.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.NegotiateFormat(binding.MIMEJSON) == "" {
			c.AbortWithStatusJSON(http.StatusNotAcceptable, gin.H{"Error": "This endpoint only returns JSON data"})
			return
		}
		c.Next()
	}
}
