package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) securityHeaders() gin.HandlerFunc {
	headers := s.cfg.SecurityHeaders
	return func(c *gin.Context) {
		if headers.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", headers.ContentSecurityPolicy)
		}
		if headers.XContentTypeOptions != "" {
			c.Header("X-Content-Type-Options", headers.XContentTypeOptions)
		}
		if headers.XFrameOptions != "" {
			c.Header("X-Frame-Options", headers.XFrameOptions)
		}
		if headers.StrictTransportSecurity != "" {
			c.Header("Strict-Transport-Security", headers.StrictTransportSecurity)
		}
		if headers.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", headers.ReferrerPolicy)
		}
		c.Next()
	}
}

// corsHeaders echoes an allowed origin back (with Vary) so credentialed
// requests work; a wildcard config without a matching origin falls back to
// "*" without credentials.
func (s *Server) corsHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		} else if len(s.cfg.AllowedOrigins) == 1 && s.cfg.AllowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		}
		c.Header("Access-Control-Allow-Methods", s.cfg.CORSMethods)
		c.Header("Access-Control-Allow-Headers", s.cfg.CORSHeaders)

		// Preflights short-circuit here: 200 everywhere, 204 on the OAuth
		// endpoints.
		if c.Request.Method == http.MethodOptions {
			if strings.HasPrefix(c.Request.URL.Path, "/oauth/") {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// correlation propagates the correlation id header, minting one when the
// client did not send one (or when proxies are untrusted).
func (s *Server) correlation() gin.HandlerFunc {
	header := s.cfg.CorrelationHeader
	return func(c *gin.Context) {
		id := ""
		if s.cfg.TrustProxy {
			id = c.GetHeader(header)
		}
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKeyCorrelation, id)
		c.Header(header, id)
		c.Next()
	}
}

const contextKeyCorrelation = "correlationId"
