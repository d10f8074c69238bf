package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hetu-project/subnet-grader/pkg/protocol"
)

// CORS returns a CORS middleware for the read-mostly grading API
func CORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
		protocol.HeaderAuthAddress,
		protocol.HeaderAuthSignature,
		protocol.HeaderAuthMessage,
		protocol.HeaderAuthTimestamp,
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.MaxAge = 12 * time.Hour
	return cors.New(config)
}
