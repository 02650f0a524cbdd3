package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tfs-insight/backend/pkg/response"
)

// BodyLimit 请求体大小限制中间件
// 上传接口在读取 multipart 时触发 MaxBytesError，统一返回 413
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		c.Next()
	}
}
