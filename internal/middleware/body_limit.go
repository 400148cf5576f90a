package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"medical-center-server/internal/utils"
)

// multipartOverhead is the allowance for multipart boundaries and part
// headers on top of the file itself.
const multipartOverhead = 64 << 10

// UploadLimit rejects request bodies larger than maxFile plus multipart
// overhead. Requests that declare a larger Content-Length are refused before
// any body is read; the rest are capped with http.MaxBytesReader.
func UploadLimit(maxFile int64) gin.HandlerFunc {
	limit := maxFile + multipartOverhead
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			utils.PayloadTooLarge(c, fmt.Sprintf("Request body exceeds maximum allowed size of %d bytes", maxFile))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
