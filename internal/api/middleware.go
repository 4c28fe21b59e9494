package api

import (
	"strconv"
	"strings"
	"time"

	"shop-service/config"
	"shop-service/internal/apperr"
	"shop-service/internal/auth"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// authMiddleware validates the bearer token and stores the caller on the context.
func authMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		token := raw
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		if token == "" {
			abortWithError(c, apperr.New(apperr.CodeUnauthorized, "Authentication credentials were not provided"))
			return
		}

		principal, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			abortWithError(c, apperr.Wrap(apperr.CodeUnauthorized, err, "Invalid or expired token"))
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// adminMiddleware rejects authenticated callers without staff privileges.
func adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principalFrom(c).IsStaff {
			abortWithError(c, apperr.New(apperr.CodeForbidden, "You do not have permission to perform this action"))
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Principal{}
}
