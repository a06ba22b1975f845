package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/finbase/revrec/internal/middleware"
	"github.com/finbase/revrec/internal/services"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserIDKey)
}

func currentTenantID(c *gin.Context) string {
	return c.GetString(middleware.CtxTenantIDKey)
}

// requestActor captures the authenticated caller for the audit trail. Fields
// are left nil for unauthenticated protocol endpoints.
func requestActor(c *gin.Context) services.Actor {
	actor := services.Actor{IPAddress: c.ClientIP()}
	if c.Request != nil {
		actor.UserAgent = c.Request.UserAgent()
	}
	if userID := currentUserID(c); userID != "" {
		actor.UserID = &userID
	}
	if tenantID := currentTenantID(c); tenantID != "" {
		actor.TenantID = &tenantID
	}
	return actor
}
