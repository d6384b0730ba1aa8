// Package session persists per-connection sessions in Redis under
// session:{id} with a TTL that refreshes on every access.
package session

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// Session is the persisted per-connection state.
type Session struct {
	ID         string         `json:"id"`
	CookieName string         `json:"cookieName"`
	CreatedAt  int64          `json:"createdAt"` // epoch milliseconds
	Data       map[string]any `json:"data"`
}

// Store reads and writes sessions.
type Store struct {
	redis      *redis.Client
	cookieName string
	ttl        time.Duration
}

// NewStore creates a session store.
func NewStore(client *redis.Client, cookieName string, ttl time.Duration) *Store {
	return &Store{redis: client, cookieName: cookieName, ttl: ttl}
}

// CookieName returns the configured cookie name.
func (s *Store) CookieName() string { return s.cookieName }

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Load fetches the session for id, refreshing its TTL. A missing or evicted
// session returns (nil, nil): callers lazily recreate.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load session")
	}

	sess := &Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode session")
	}

	if err := s.redis.Expire(ctx, keyPrefix+id, s.ttl).Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to refresh session ttl")
	}
	return sess, nil
}

// Create persists a fresh session for id.
func (s *Store) Create(ctx context.Context, id string) (*Session, error) {
	sess := &Session{
		ID:         id,
		CookieName: s.cookieName,
		CreatedAt:  time.Now().UnixMilli(),
		Data:       map[string]any{},
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// LoadOrCreate fetches the session for id, creating one if absent.
func (s *Store) LoadOrCreate(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return s.Create(ctx, id)
}

// Update deep-merges partial into the session's data and persists the full
// record with a refreshed TTL. An evicted session is recreated.
func (s *Store) Update(ctx context.Context, id string, partial map[string]any) (*Session, error) {
	sess, err := s.LoadOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Data = deepMerge(sess.Data, partial)
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes the session for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return pkgerrors.Wrap(s.redis.Del(ctx, keyPrefix+id).Err(), "failed to delete session")
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode session")
	}
	return pkgerrors.Wrap(
		s.redis.Set(ctx, keyPrefix+sess.ID, data, s.ttl).Err(),
		"failed to persist session")
}

// deepMerge merges src into dst: nested maps merge, everything else
// replaces.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
