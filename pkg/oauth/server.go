// Package oauth implements the authorization server that gates MCP access:
// dynamic client registration, an authorization-code flow with mandatory
// S256 PKCE, and opaque bearer tokens stored in Redis. Credential checks
// are delegated to the application's login and signup actions, so the
// authorization endpoint runs the same pipeline as every other entry point.
package oauth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/dispatch"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/params"
	"github.com/evantahler/bun-actionhero-sub001/pkg/session"
)

const (
	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"
	registerPath  = "/oauth/register"
)

// Server hosts the OAuth endpoints.
type Server struct {
	store      *store
	actions    *actions.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	logger     observability.Logger
	appName    string
	issuer     string
}

// NewServer creates the authorization server. issuer may be empty, in
// which case the externally visible base URL is derived per request.
func NewServer(rdb *redis.Client, tokenTTL time.Duration, issuer, appName string, registry *actions.Registry, dispatcher *dispatch.Dispatcher, sessions *session.Store, logger observability.Logger) *Server {
	return &Server{
		store:      &store{redis: rdb, tokenTTL: tokenTTL},
		actions:    registry,
		dispatcher: dispatcher,
		sessions:   sessions,
		logger:     logger.WithPrefix("oauth"),
		appName:    appName,
		issuer:     issuer,
	}
}

// RegisterRoutes mounts the metadata and OAuth endpoints on the router.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.GET("/.well-known/oauth-protected-resource", s.protectedResourceMetadata)
	router.GET("/.well-known/oauth-authorization-server", s.authorizationServerMetadata)
	router.POST(registerPath, s.register)
	router.GET(authorizePath, s.authorizeForm)
	router.POST(authorizePath, s.authorizeSubmit)
	router.POST(tokenPath, s.token)
}

// VerifyAccessToken resolves a bearer token to its stored record, or nil
// when the token is unknown or expired.
func (s *Server) VerifyAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	if token == "" {
		return nil, nil
	}
	return s.store.getToken(ctx, token)
}

func (s *Server) baseURL(c *gin.Context) string {
	if s.issuer != "" {
		return strings.TrimRight(s.issuer, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func (s *Server) protectedResourceMetadata(c *gin.Context) {
	base := s.baseURL(c)
	c.JSON(http.StatusOK, gin.H{
		"resource":              base,
		"authorization_servers": []string{base},
		"bearer_methods_supported": []string{"header"},
	})
}

func (s *Server) authorizationServerMetadata(c *gin.Context) {
	base := s.baseURL(c)
	c.JSON(http.StatusOK, gin.H{
		"issuer":                                base,
		"authorization_endpoint":                base + authorizePath,
		"token_endpoint":                        base + tokenPath,
		"registration_endpoint":                 base + registerPath,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none"},
	})
}

type registerRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name"`
}

// register implements dynamic client registration. Every client is
// public: no secret is issued, PKCE is the proof of possession.
func (s *Server) register(c *gin.Context) {
	req := &registerRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		oauthError(c, http.StatusBadRequest, "invalid_client_metadata", "request body must be JSON")
		return
	}
	if len(req.RedirectURIs) == 0 {
		oauthError(c, http.StatusBadRequest, "invalid_client_metadata", "redirect_uris is required")
		return
	}
	for _, raw := range req.RedirectURIs {
		if err := validateRedirectURI(raw); err != nil {
			oauthError(c, http.StatusBadRequest, "invalid_redirect_uri", err.Error())
			return
		}
	}

	client := &Client{
		ClientID:                uuid.NewString(),
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}
	if err := s.store.saveClient(c.Request.Context(), client); err != nil {
		s.logger.Error("failed to persist client registration", map[string]interface{}{"error": err.Error()})
		oauthError(c, http.StatusInternalServerError, "server_error", "registration could not be saved")
		return
	}

	s.logger.Info("registered oauth client", map[string]interface{}{
		"clientId":   client.ClientID,
		"clientName": client.ClientName,
	})
	c.JSON(http.StatusCreated, client)
}

// validateRedirectURI rejects URIs that could leak codes: they must parse,
// carry no fragment or userinfo, and use HTTPS except on loopback hosts.
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect URI %q is not a valid URL", raw)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("redirect URI %q must be absolute", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
	}
	if u.User != nil {
		return fmt.Errorf("redirect URI %q must not contain userinfo", raw)
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return fmt.Errorf("redirect URI %q must use https", raw)
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// authorizeForm renders the login/signup page with the request parameters
// echoed as hidden fields.
func (s *Server) authorizeForm(c *gin.Context) {
	clientID := c.Query("client_id")
	redirectURI := c.Query("redirect_uri")

	client, err := s.store.getClient(c.Request.Context(), clientID)
	if err != nil {
		s.logger.Error("failed to load client", map[string]interface{}{"error": err.Error()})
		c.String(http.StatusInternalServerError, "authorization request could not be processed")
		return
	}
	if client == nil {
		c.String(http.StatusBadRequest, "unknown client_id")
		return
	}
	if !client.allowsRedirect(redirectURI) {
		c.String(http.StatusBadRequest, "redirect_uri is not registered for this client")
		return
	}
	if c.Query("response_type") != "code" {
		c.String(http.StatusBadRequest, "response_type must be code")
		return
	}
	if c.Query("code_challenge") == "" || c.Query("code_challenge_method") != "S256" {
		c.String(http.StatusBadRequest, "PKCE with S256 is required")
		return
	}

	s.renderAuthorizePage(c, http.StatusOK, "")
}

// authorizeSubmit runs the login or signup action and, on success, mints a
// single-use code and redirects back to the client.
func (s *Server) authorizeSubmit(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := c.PostForm("client_id")
	redirectURI := c.PostForm("redirect_uri")
	codeChallenge := c.PostForm("code_challenge")

	client, err := s.store.getClient(ctx, clientID)
	if err != nil {
		s.logger.Error("failed to load client", map[string]interface{}{"error": err.Error()})
		c.String(http.StatusInternalServerError, "authorization request could not be processed")
		return
	}
	if client == nil || !client.allowsRedirect(redirectURI) {
		c.String(http.StatusBadRequest, "invalid client or redirect_uri")
		return
	}
	if codeChallenge == "" || c.PostForm("code_challenge_method") != "S256" {
		c.String(http.StatusBadRequest, "PKCE with S256 is required")
		return
	}

	action := s.actions.LoginAction()
	if c.PostForm("mode") == "signup" {
		action = s.actions.SignupAction()
	}
	if action == nil {
		c.String(http.StatusNotImplemented, "no login action is configured")
		return
	}

	form := params.New()
	for key, values := range c.Request.PostForm {
		for _, value := range values {
			form.Add(key, value)
		}
	}

	conn := connection.New(connection.TypeOAuth, c.ClientIP(), s.sessions, nil)
	result := s.dispatcher.Dispatch(ctx, conn, action.Name, form, http.MethodPost, authorizePath)
	if result.Error != nil {
		s.renderAuthorizePage(c, http.StatusUnauthorized, result.Error.Message)
		return
	}

	userID := userIDFromResponse(result.Response)
	if userID == "" {
		s.logger.Error("login action returned no user id", map[string]interface{}{"action": action.Name})
		s.renderAuthorizePage(c, http.StatusUnauthorized, "sign-in did not produce a user")
		return
	}

	code := uuid.NewString()
	record := &AuthCode{
		ClientID:      clientID,
		UserID:        userID,
		CodeChallenge: codeChallenge,
		RedirectURI:   redirectURI,
	}
	if err := s.store.saveCode(ctx, code, record); err != nil {
		s.logger.Error("failed to persist auth code", map[string]interface{}{"error": err.Error()})
		c.String(http.StatusInternalServerError, "authorization could not be completed")
		return
	}

	location := appendQuery(redirectURI, map[string]string{
		"code":  code,
		"state": c.PostForm("state"),
	})

	buf := &bytes.Buffer{}
	_ = successPage.Execute(buf, map[string]string{"RedirectTo": location})
	c.Header("Location", location)
	c.Data(http.StatusFound, "text/html; charset=utf-8", buf.Bytes())
}

// token exchanges a single-use code plus PKCE verifier for a bearer token.
func (s *Server) token(c *gin.Context) {
	ctx := c.Request.Context()

	if c.PostForm("grant_type") != "authorization_code" {
		oauthError(c, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}
	code := c.PostForm("code")
	verifier := c.PostForm("code_verifier")
	if code == "" || verifier == "" {
		oauthError(c, http.StatusBadRequest, "invalid_request", "code and code_verifier are required")
		return
	}

	record, err := s.store.consumeCode(ctx, code)
	if err != nil {
		s.logger.Error("failed to consume auth code", map[string]interface{}{"error": err.Error()})
		oauthError(c, http.StatusInternalServerError, "server_error", "token request could not be processed")
		return
	}
	if record == nil {
		oauthError(c, http.StatusBadRequest, "invalid_grant", "authorization code is invalid or expired")
		return
	}
	if clientID := c.PostForm("client_id"); clientID != "" && clientID != record.ClientID {
		oauthError(c, http.StatusBadRequest, "invalid_grant", "client_id does not match the authorization code")
		return
	}
	if redirectURI := c.PostForm("redirect_uri"); redirectURI != "" && redirectURI != record.RedirectURI {
		oauthError(c, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match the authorization code")
		return
	}
	if !verifyPKCE(verifier, record.CodeChallenge) {
		oauthError(c, http.StatusBadRequest, "invalid_grant", "code_verifier does not match the challenge")
		return
	}

	token := uuid.NewString()
	if err := s.store.saveToken(ctx, token, &AccessToken{UserID: record.UserID, ClientID: record.ClientID}); err != nil {
		s.logger.Error("failed to persist access token", map[string]interface{}{"error": err.Error()})
		oauthError(c, http.StatusInternalServerError, "server_error", "token request could not be processed")
		return
	}

	s.logger.Info("issued access token", map[string]interface{}{
		"clientId": record.ClientID,
		"userId":   record.UserID,
	})
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(s.store.tokenTTL.Seconds()),
	})
}

func (s *Server) renderAuthorizePage(c *gin.Context, status int, errMsg string) {
	source := func(key string) string {
		if c.Request.Method == http.MethodPost {
			return c.PostForm(key)
		}
		return c.Query(key)
	}
	data := authorizePageData{
		AppName:             s.appName,
		ActionPath:          authorizePath,
		ClientID:            source("client_id"),
		RedirectURI:         source("redirect_uri"),
		CodeChallenge:       source("code_challenge"),
		CodeChallengeMethod: source("code_challenge_method"),
		ResponseType:        source("response_type"),
		State:               source("state"),
		Error:               errMsg,
	}
	buf := &bytes.Buffer{}
	if err := authorizePage.Execute(buf, data); err != nil {
		c.String(http.StatusInternalServerError, "failed to render authorization page")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

// allowsRedirect requires an exact match on origin and path against one of
// the registered URIs; query strings on the registered URI are ignored.
func (c *Client) allowsRedirect(raw string) bool {
	requested, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, registered := range c.RedirectURIs {
		reg, err := url.Parse(registered)
		if err != nil {
			continue
		}
		if reg.Scheme == requested.Scheme && reg.Host == requested.Host && reg.Path == requested.Path {
			return true
		}
	}
	return false
}

func userIDFromResponse(response any) string {
	top, ok := response.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := top["userId"]; ok {
		return fmt.Sprintf("%v", id)
	}
	if user, ok := top["user"].(map[string]any); ok {
		if id, ok := user["id"]; ok {
			return fmt.Sprintf("%v", id)
		}
	}
	return ""
}

func appendQuery(base string, values map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for key, value := range values {
		if value != "" {
			q.Set(key, value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func oauthError(c *gin.Context, status int, code, description string) {
	c.JSON(status, gin.H{
		"error":             code,
		"error_description": description,
	})
}
