// Package redis is the Redis-backed session store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/k-yomo/kagu-miru/pkg/database"
	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/services/search/internal/store"
)

const keyPrefix = "search_session:"

// SessionStore implements store.SessionStore on Redis. Every save refreshes
// the key's TTL.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
	}
}

// Save persists a snapshot with the configured TTL.
func (s *SessionStore) Save(ctx context.Context, snapshot *store.Snapshot) (err error) {
	key := keyPrefix + snapshot.SessionID
	ctx, end := database.TraceCommand(ctx, "SET", key)
	defer func() { end(err) }()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Load retrieves a snapshot by session id.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (_ *store.Snapshot, err error) {
	key := keyPrefix + sessionID
	ctx, end := database.TraceCommand(ctx, "GET", key)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("session", sessionID)
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var snapshot store.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	return &snapshot, nil
}

// Delete removes a snapshot by session id.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) (err error) {
	key := keyPrefix + sessionID
	ctx, end := database.TraceCommand(ctx, "DEL", key)
	defer func() { end(err) }()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
