package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned for an unknown or expired conversation.
var ErrNotFound = errors.New("session: not found")

// DefaultTTL is how long an idle conversation's checkpoint is kept.
const DefaultTTL = 24 * time.Hour

// Store checkpoints contexts between turns.
type Store interface {
	Load(ctx context.Context, conversationID string) (*Context, error)
	Save(ctx context.Context, sess *Context) error
	Delete(ctx context.Context, conversationID string) error
}

// MemoryStore keeps contexts in process. Stored values are copied.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Context
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Context)}
}

func (m *MemoryStore) Load(_ context.Context, conversationID string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, sess *Context) error {
	if sess == nil || sess.ConversationID == "" {
		return errors.New("session: conversation id required")
	}
	m.mu.Lock()
	m.sessions[sess.ConversationID] = sess.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	m.mu.Lock()
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	return nil
}

// RedisStore checkpoints contexts as JSON with a sliding TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("frontdesk.internal.session"),
	}
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*Context, error) {
	ctx, span := s.tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load context: %w", err)
	}
	var sess Context
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode context: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Context) error {
	ctx, span := s.tracer.Start(ctx, "session.save")
	defer span.End()

	if sess == nil || sess.ConversationID == "" {
		return errors.New("session: conversation id required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal context: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ConversationID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist context: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.redis.Del(ctx, sessionKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("session: failed to delete context: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("frontdesk:session:%s", id)
}
