package oauth

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	clientKeyPrefix = "oauth:client:"
	codeKeyPrefix   = "oauth:code:"
	tokenKeyPrefix  = "oauth:token:"

	clientTTL = 30 * 24 * time.Hour
	codeTTL   = 5 * time.Minute
)

// Client is a dynamically registered OAuth client.
type Client struct {
	ClientID                string   `json:"client_id"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// AuthCode is a pending, single-use authorization code.
type AuthCode struct {
	ClientID      string `json:"clientId"`
	UserID        string `json:"userId"`
	CodeChallenge string `json:"codeChallenge"`
	RedirectURI   string `json:"redirectUri"`
}

// AccessToken is an issued bearer token's stored record.
type AccessToken struct {
	UserID   string   `json:"userId"`
	ClientID string   `json:"clientId"`
	Scopes   []string `json:"scopes"`
}

// store persists OAuth state in Redis with TTLs.
type store struct {
	redis    *redis.Client
	tokenTTL time.Duration
}

func (s *store) saveClient(ctx context.Context, client *Client) error {
	return s.setJSON(ctx, clientKeyPrefix+client.ClientID, client, clientTTL)
}

func (s *store) getClient(ctx context.Context, clientID string) (*Client, error) {
	client := &Client{}
	ok, err := s.getJSON(ctx, clientKeyPrefix+clientID, client)
	if err != nil || !ok {
		return nil, err
	}
	return client, nil
}

func (s *store) saveCode(ctx context.Context, code string, record *AuthCode) error {
	return s.setJSON(ctx, codeKeyPrefix+code, record, codeTTL)
}

// consumeCode fetches and deletes an auth code in one round trip: deletion
// precedes any validation response, so a code validates at most once.
func (s *store) consumeCode(ctx context.Context, code string) (*AuthCode, error) {
	data, err := s.redis.GetDel(ctx, codeKeyPrefix+code).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to consume auth code")
	}
	record := &AuthCode{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode auth code")
	}
	return record, nil
}

func (s *store) saveToken(ctx context.Context, token string, record *AccessToken) error {
	return s.setJSON(ctx, tokenKeyPrefix+token, record, s.tokenTTL)
}

func (s *store) getToken(ctx context.Context, token string) (*AccessToken, error) {
	record := &AccessToken{}
	ok, err := s.getJSON(ctx, tokenKeyPrefix+token, record)
	if err != nil || !ok {
		return nil, err
	}
	return record, nil
}

func (s *store) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode oauth record")
	}
	return pkgerrors.Wrap(s.redis.Set(ctx, key, data, ttl).Err(), "failed to persist oauth record")
}

func (s *store) getJSON(ctx context.Context, key string, value any) (bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, "failed to load oauth record")
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, pkgerrors.Wrap(err, "failed to decode oauth record")
	}
	return true, nil
}
