package httpmiddleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodyLimit refuses request bodies larger than max bytes. A declared length
// over the limit is answered with 413 before anything is read; an undeclared
// one fails the first read past the limit.
func BodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}
