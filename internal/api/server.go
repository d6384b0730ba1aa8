// Package api is the HTTP and WebSocket transport adapter. It folds every
// request shape (path captures, JSON or form bodies, query strings,
// websocket frames) into the shared dispatch pipeline and serializes typed
// errors with their mapped status codes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/registry"
)

// Server is the web transport: gin for HTTP routing, coder/websocket for
// the realtime fabric's client edge.
type Server struct {
	api    *registry.API
	cfg    config.WebConfig
	logger observability.Logger

	engine *gin.Engine
	http   *http.Server

	mu       sync.Mutex
	sockets  map[string]*socketClient
	draining bool
}

// NewServer builds the web server around an initialized API.
func NewServer(api *registry.API) *Server {
	s := &Server{
		api:     api,
		cfg:     api.Config.Server.Web,
		logger:  api.Logger.WithPrefix("web"),
		sockets: map[string]*socketClient{},
	}
	s.engine = s.buildEngine()
	return s
}

// Handler exposes the routing tree (tests drive it with httptest).
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildEngine() *gin.Engine {
	if s.api.Config.Process.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if !s.cfg.TrustProxy {
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(s.securityHeaders())
	engine.Use(s.corsHeaders())
	engine.Use(s.correlation())

	if metrics, ok := s.api.Metrics.(*observability.PrometheusMetrics); ok {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	}

	if s.cfg.StaticDir != "" {
		engine.Static(s.cfg.StaticRoute, s.cfg.StaticDir)
	}

	if s.api.OAuth != nil {
		// The mutable OAuth endpoints sit outside the action pipeline, so
		// they get their own limiter gate with the per-path overrides.
		oauthRoutes := engine.Group("")
		if s.api.RateLimiter != nil {
			oauthRoutes.Use(s.api.RateLimiter.HTTPMiddleware())
		}
		s.api.OAuth.RegisterRoutes(oauthRoutes)
	}
	if mcpCfg := s.api.Config.Server.MCP; mcpCfg.Enabled && s.api.MCP != nil {
		s.api.MCP.RegisterRoutes(engine, mcpCfg.Route)
	}

	engine.GET(s.cfg.WSRoute, s.handleWebsocket)

	group := engine.Group(s.cfg.APIRoute)
	for _, action := range s.api.Actions.WebActions() {
		s.mountAction(group, action)
	}

	engine.NoRoute(s.noRoute)
	return engine
}

func (s *Server) mountAction(group *gin.RouterGroup, action *actions.Action) {
	handler := s.actionHandler(action.Name)
	switch action.Web.Method {
	case actions.MethodGet:
		group.GET(action.Web.Route, handler)
	case actions.MethodPost:
		group.POST(action.Web.Route, handler)
	case actions.MethodPut:
		group.PUT(action.Web.Route, handler)
	case actions.MethodPatch:
		group.PATCH(action.Web.Route, handler)
	case actions.MethodDelete:
		group.DELETE(action.Web.Route, handler)
	case actions.MethodOptions:
		group.OPTIONS(action.Web.Route, handler)
	case actions.MethodHead:
		group.HEAD(action.Web.Route, handler)
	}
}

// noRoute covers two cases: bare /api/{action} dispatch for actions
// without an explicit route, and .well-known paths the OAuth server does
// not own. Preflights never reach here; the CORS middleware answers them.
func (s *Server) noRoute(c *gin.Context) {
	path := c.Request.URL.Path

	if strings.HasPrefix(path, "/.well-known/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	prefix := strings.TrimRight(s.cfg.APIRoute, "/") + "/"
	if strings.HasPrefix(path, prefix) {
		actionName := strings.Trim(strings.TrimPrefix(path, prefix), "/")
		// Unknown names 404 through the pipeline with the standard envelope.
		s.dispatchHTTP(c, actionName)
		return
	}

	s.renderNotFound(c)
}

// Start binds the listener. ListenAndServe runs on its own goroutine; bind
// failures surface through the returned channel consumed by the component
// layer.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}

	s.logger.Info("web server listening", map[string]interface{}{
		"address":  addr,
		"apiRoute": s.cfg.APIRoute,
		"wsRoute":  s.cfg.WSRoute,
	})
	return nil
}

// Stop drains websockets, then shuts the HTTP listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.drainSockets(ctx)

	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// drainSockets closes every live websocket, bounded by the drain timeout.
func (s *Server) drainSockets(ctx context.Context) {
	s.mu.Lock()
	s.draining = true
	clients := make([]*socketClient, 0, len(s.sockets))
	for _, client := range s.sockets {
		clients = append(clients, client)
	}
	s.mu.Unlock()

	if len(clients) == 0 {
		return
	}

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.WebsocketDrainTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(drainCtx)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			client.close("server shutting down")
			select {
			case <-client.done:
			case <-gctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("websocket drain complete", map[string]interface{}{"count": len(clients)})
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Server) trackSocket(client *socketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[client.conn.ID] = client
}

func (s *Server) forgetSocket(client *socketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, client.conn.ID)
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
