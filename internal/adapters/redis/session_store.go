package redis

// Package redis persists browser sessions in Redis so a workspace can be
// rebuilt after eviction or a process restart.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/ports"
)

const (
	defaultPrefix = "mindguard:session:"
	defaultTTL    = 7 * 24 * time.Hour
	scanBatch     = 200
)

var _ ports.SessionPersistence = (*SessionStore)(nil)

// SessionStore implements ports.SessionPersistence on a Redis keyspace.
// Every save slides the key's TTL forward; the access token's own expiry is
// handled by the session store, which refreshes on hydration.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Options configures a SessionStore.
type Options struct {
	Prefix string
	TTL    time.Duration
}

// NewSessionStore creates a Redis-backed session persistence.
func NewSessionStore(client redis.UniversalClient, opts Options) *SessionStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, key string, sess *domainauth.Session) error {
	if key == "" {
		return errors.New("session key cannot be empty")
	}
	if sess == nil {
		return s.Delete(ctx, key)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, key string) (*domainauth.Session, error) {
	if key == "" {
		return nil, ports.ErrSessionNotFound
	}
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt entry can never be restored; drop it.
		_ = s.client.Del(ctx, s.prefix+key).Err()
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// PersistedSession is one stored entry as seen by operators.
type PersistedSession struct {
	Key     string
	UserID  string
	Email   string
	Expires time.Time
	TTL     time.Duration
}

// List scans the keyspace and returns every persisted session. Entries that
// fail to decode are reported with only their key.
func (s *SessionStore) List(ctx context.Context) ([]PersistedSession, error) {
	var (
		out    []PersistedSession
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, full := range keys {
			entry := PersistedSession{Key: strings.TrimPrefix(full, s.prefix)}
			if sess, loadErr := s.Load(ctx, entry.Key); loadErr == nil {
				entry.UserID = sess.Identity.ID
				entry.Email = sess.Identity.Email
				entry.Expires = sess.ExpiresAt
			}
			if ttl, ttlErr := s.client.TTL(ctx, full).Result(); ttlErr == nil {
				entry.TTL = ttl
			}
			out = append(out, entry)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Purge deletes every persisted session and returns how many were removed.
func (s *SessionStore) Purge(ctx context.Context) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, delErr := s.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return removed, fmt.Errorf("redis del: %w", delErr)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
