package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/services"
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

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func sessionMeta(c *gin.Context) iauth.SessionMetadata {
	return iauth.SessionMetadata{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// localReturnURL accepts only same-origin absolute paths so a returnUrl can
// never bounce the browser to another host.
func localReturnURL(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || !strings.HasPrefix(value, "/") {
		return ""
	}
	if strings.HasPrefix(value, "//") || strings.HasPrefix(value, "/\\") {
		return ""
	}
	return value
}
