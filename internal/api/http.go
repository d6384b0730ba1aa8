package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
	"github.com/evantahler/bun-actionhero-sub001/pkg/params"
)

func (s *Server) actionHandler(actionName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.dispatchHTTP(c, actionName)
	}
}

// dispatchHTTP runs one request through the pipeline: build the
// connection from the session cookie, fold params in capture → body →
// query order, dispatch, then emit cookie, rate-limit headers, and either
// the response or the error envelope.
func (s *Server) dispatchHTTP(c *gin.Context, actionName string) {
	ctx := c.Request.Context()

	conn := connection.New(connection.TypeWeb, c.ClientIP(), s.api.Sessions, s.api.PubSub)
	if cookie, err := c.Cookie(s.api.Sessions.CookieName()); err == nil && cookie != "" {
		conn.SetID(cookie)
	}
	if id, ok := c.Get(contextKeyCorrelation); ok {
		conn.CorrelationID, _ = id.(string)
	}
	s.api.Connections.Register(conn)
	defer s.api.Connections.Destroy(conn)

	raw := s.foldParams(c)
	result := s.api.Dispatcher.Dispatch(ctx, conn, actionName, raw, c.Request.Method, c.Request.URL.String())

	s.setSessionCookie(c, conn)
	writeRateLimitHeaders(c, conn)

	if result.Error != nil {
		c.JSON(result.Error.StatusCode(), gin.H{"error": result.Error})
		return
	}
	if result.Response == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, result.Response)
}

// foldParams builds the raw multimap: path captures first, then body
// (JSON object or form), then query-string values. Later folds append, so
// a key repeated across sources validates as a list.
func (s *Server) foldParams(c *gin.Context) *params.Params {
	raw := params.New()

	for _, capture := range c.Params {
		raw.Add(capture.Key, capture.Value)
	}

	s.foldBody(c, raw)

	query := c.Request.URL.Query()
	for key, values := range query {
		for _, value := range values {
			raw.Add(key, value)
		}
	}

	return raw
}

func (s *Server) foldBody(c *gin.Context, raw *params.Params) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return
	}
	contentType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))

	switch {
	case contentType == "application/json":
		body := map[string]any{}
		if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
			return
		}
		for key, value := range body {
			if list, ok := value.([]any); ok {
				for _, item := range list {
					raw.Add(key, item)
				}
				continue
			}
			raw.Add(key, value)
		}

	case contentType == "application/x-www-form-urlencoded" || strings.HasPrefix(contentType, "multipart/"):
		if err := c.Request.ParseForm(); err != nil {
			return
		}
		for key, values := range c.Request.PostForm {
			for _, value := range values {
				raw.Add(key, value)
			}
		}
	}
}

// setSessionCookie pins the session id to the client. The cookie value is
// the connection id, which is also the session key.
func (s *Server) setSessionCookie(c *gin.Context, conn *connection.Connection) {
	cookieCfg := s.cfg.Cookie
	cookie := &http.Cookie{
		Name:     s.api.Sessions.CookieName(),
		Value:    conn.ID,
		Path:     "/",
		MaxAge:   int(s.api.Sessions.TTL().Seconds()),
		HttpOnly: cookieCfg.HTTPOnly,
		Secure:   cookieCfg.Secure,
		SameSite: sameSite(cookieCfg.SameSite),
	}
	http.SetCookie(c.Writer, cookie)
}

func sameSite(name string) http.SameSite {
	switch strings.ToLower(name) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func writeRateLimitHeaders(c *gin.Context, conn *connection.Connection) {
	info := conn.RateLimitInfo()
	if info == nil {
		return
	}
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetAt))
	if info.Limited() {
		c.Header("Retry-After", fmt.Sprintf("%d", info.RetryAfter))
	}
}

func (s *Server) renderNotFound(c *gin.Context) {
	err := errors.Newf(errors.KindConnectionActionNotFound, "no action matches %s %s", c.Request.Method, c.Request.URL.Path)
	c.JSON(err.StatusCode(), gin.H{"error": err})
}
