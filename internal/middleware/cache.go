package middleware

import "github.com/gin-gonic/gin"

// NoStore marks responses as uncacheable. Exam papers and attempt state
// must never be served from a shared or browser cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
