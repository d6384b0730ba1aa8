// Package mcp exposes MCP-enabled actions as tools over a JSON-RPC 2.0
// endpoint. The endpoint is gated by bearer tokens from the OAuth server;
// tool calls run through the same dispatch pipeline as every other
// transport, on a connection of type "mcp".
package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/dispatch"
	"github.com/evantahler/bun-actionhero-sub001/pkg/oauth"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/params"
	"github.com/evantahler/bun-actionhero-sub001/pkg/session"
)

const protocolVersion = "2025-03-26"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Server hosts the MCP endpoint.
type Server struct {
	actions    *actions.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	oauth      *oauth.Server
	logger     observability.Logger
	name       string
	version    string
}

// NewServer creates the MCP server. name and version identify the process
// in initialize responses.
func NewServer(registry *actions.Registry, dispatcher *dispatch.Dispatcher, sessions *session.Store, oauthServer *oauth.Server, name, version string, logger observability.Logger) *Server {
	return &Server{
		actions:    registry,
		dispatcher: dispatcher,
		sessions:   sessions,
		oauth:      oauthServer,
		logger:     logger.WithPrefix("mcp"),
		name:       name,
		version:    version,
	}
}

// RegisterRoutes mounts the JSON-RPC endpoint.
func (s *Server) RegisterRoutes(router gin.IRouter, route string) {
	router.POST(route, s.handle)
}

func (s *Server) handle(c *gin.Context) {
	token, ok := s.authenticate(c)
	if !ok {
		return
	}

	req := &rpcRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusOK, &rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "request body is not valid JSON"},
		})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		c.JSON(http.StatusOK, errorResponse(req.ID, codeInvalidRequest, "not a JSON-RPC 2.0 request"))
		return
	}

	// Notifications get no response body.
	if len(req.ID) == 0 || strings.HasPrefix(req.Method, "notifications/") {
		c.Status(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		c.JSON(http.StatusOK, &rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": s.name, "version": s.version},
			},
		})

	case "ping":
		c.JSON(http.StatusOK, &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}})

	case "tools/list":
		c.JSON(http.StatusOK, &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: s.listTools()})

	case "tools/call":
		c.JSON(http.StatusOK, s.callTool(c, req, token))

	default:
		c.JSON(http.StatusOK, errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method %q is not supported", req.Method)))
	}
}

// authenticate enforces the bearer gate. A 401 carries the pointer to the
// protected-resource metadata so clients can discover the OAuth server.
func (s *Server) authenticate(c *gin.Context) (*oauth.AccessToken, bool) {
	header := c.GetHeader("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if header == "" || raw == header {
		s.deny(c, "missing bearer token")
		return nil, false
	}

	token, err := s.oauth.VerifyAccessToken(c.Request.Context(), raw)
	if err != nil {
		s.logger.Error("token verification failed", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return nil, false
	}
	if token == nil {
		s.deny(c, "invalid or expired token")
		return nil, false
	}
	return token, true
}

func (s *Server) deny(c *gin.Context, description string) {
	c.Header("WWW-Authenticate", `Bearer resource_metadata="/.well-known/oauth-protected-resource"`)
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":             "invalid_token",
		"error_description": description,
	})
}

func (s *Server) listTools() map[string]any {
	mcpActions := s.actions.MCPActions()
	tools := make([]map[string]any, 0, len(mcpActions))
	for _, action := range mcpActions {
		tools = append(tools, map[string]any{
			"name":        action.Name,
			"description": action.Description,
			"inputSchema": toolSchema(action),
		})
	}
	return map[string]any{"tools": tools}
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) callTool(c *gin.Context, req *rpcRequest, token *oauth.AccessToken) *rpcResponse {
	call := &callParams{}
	if err := json.Unmarshal(req.Params, call); err != nil || call.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "params must carry a tool name")
	}

	action := s.findTool(call.Name)
	if action == nil {
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool %q", call.Name))
	}

	if msg, ok := s.validateArguments(action, call.Arguments); !ok {
		return errorResponse(req.ID, codeInvalidParams, msg)
	}

	ctx := c.Request.Context()
	conn := connection.New(connection.TypeMCP, c.ClientIP(), s.sessions, nil)
	if err := conn.LoadSession(ctx); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "session could not be created")
	}
	// The OAuth user identity rides on the session, so actions observe the
	// same userId they would for a logged-in web request.
	if err := conn.UpdateSession(ctx, map[string]any{"userId": token.UserID}); err != nil {
		s.logger.Error("failed to bind token user to session", map[string]interface{}{"error": err.Error()})
	}

	result := s.dispatcher.Dispatch(ctx, conn, action.Name, params.FromMap(call.Arguments), http.MethodPost, "mcp:"+action.Name)
	if result.Error != nil {
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"isError": true,
				"content": []map[string]any{{"type": "text", "text": result.Error.Message}},
			},
		}
	}

	text, err := json.Marshal(result.Response)
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, "tool response could not be serialized")
	}
	return &rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"content": []map[string]any{{"type": "text", "text": string(text)}},
		},
	}
}

func (s *Server) findTool(name string) *actions.Action {
	for _, action := range s.actions.MCPActions() {
		if action.Name == name {
			return action
		}
	}
	return nil
}

// validateArguments checks tool arguments against the generated JSON
// schema before they enter the pipeline, so MCP clients get schema-shaped
// feedback instead of pipeline errors for structurally bad calls.
func (s *Server) validateArguments(action *actions.Action, arguments map[string]any) (string, bool) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	schemaLoader := gojsonschema.NewGoLoader(toolSchema(action))
	documentLoader := gojsonschema.NewGoLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		s.logger.Error("schema validation failed", map[string]interface{}{
			"tool":  action.Name,
			"error": err.Error(),
		})
		return "argument validation failed", false
	}
	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}
		return strings.Join(descriptions, "; "), false
	}
	return "", true
}

func errorResponse(id json.RawMessage, code int, message string) *rpcResponse {
	return &rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	}
}
