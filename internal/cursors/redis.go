// Package cursors provides a Redis-backed store for remote mailbox cursors,
// for deployments where several processes share one set of remotes.
package cursors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/docsync/internal/ir"
)

const defaultPrefix = "docsync:cursors:"

// RedisStore keeps one hash per remote, keyed by cursor type.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type cursorValue struct {
	Ordinal           int64 `json:"ordinal"`
	LastSyncedAtUtcMs int64 `json:"lastSyncedAtUtcMs,omitempty"`
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: defaultPrefix}
}

// WithPrefix returns a store sharing the client under another key prefix.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	return &RedisStore{client: s.client, prefix: prefix}
}

func (s *RedisStore) key(remoteName string) string {
	return s.prefix + remoteName
}

// List returns the cursors stored for remoteName, inbox first.
func (s *RedisStore) List(ctx context.Context, remoteName string) ([]ir.RemoteCursor, error) {
	fields, err := s.client.HGetAll(ctx, s.key(remoteName)).Result()
	if err != nil {
		return nil, fmt.Errorf("list cursors for %s: %w", remoteName, err)
	}

	cursors := make([]ir.RemoteCursor, 0, len(fields))
	for cursorType, raw := range fields {
		var v cursorValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s cursor for %s: %w", cursorType, remoteName, err)
		}
		cursors = append(cursors, ir.RemoteCursor{
			RemoteName:        remoteName,
			CursorType:        ir.CursorType(cursorType),
			CursorOrdinal:     v.Ordinal,
			LastSyncedAtUtcMs: v.LastSyncedAtUtcMs,
		})
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].CursorType < cursors[j].CursorType })
	return cursors, nil
}

// Upsert writes a cursor, replacing any stored value for the same remote
// and cursor type.
func (s *RedisStore) Upsert(ctx context.Context, cur ir.RemoteCursor) error {
	if cur.CursorType != ir.CursorInbox && cur.CursorType != ir.CursorOutbox {
		return fmt.Errorf("upsert cursor for %s: unknown cursor type %q", cur.RemoteName, cur.CursorType)
	}
	data, err := json.Marshal(cursorValue{Ordinal: cur.CursorOrdinal, LastSyncedAtUtcMs: cur.LastSyncedAtUtcMs})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(cur.RemoteName), string(cur.CursorType), data).Err(); err != nil {
		return fmt.Errorf("upsert %s cursor for %s: %w", cur.CursorType, cur.RemoteName, err)
	}
	return nil
}

// Remove deletes every cursor of remoteName.
func (s *RedisStore) Remove(ctx context.Context, remoteName string) error {
	if err := s.client.Del(ctx, s.key(remoteName)).Err(); err != nil {
		return fmt.Errorf("remove cursors for %s: %w", remoteName, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
