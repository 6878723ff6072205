package conversation

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

const conversationTTL = 24 * time.Hour

// ErrUnknownConversation is returned for ids that were never started or have
// expired.
var ErrUnknownConversation = errors.New("conversation: unknown conversation")

// HistoryStore keeps the transcript of each conversation.
type HistoryStore interface {
	Load(ctx context.Context, conversationID string) ([]Message, error)
	Save(ctx context.Context, conversationID string, history []Message) error
}

type RedisHistoryStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisHistoryStore(client *redis.Client, ttl time.Duration) *RedisHistoryStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = conversationTTL
	}
	return &RedisHistoryStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("frontdesk.internal.conversation.history"),
	}
}

func (s *RedisHistoryStore) Save(ctx context.Context, conversationID string, history []Message) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, conversationKey(conversationID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: persist history: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Load(ctx context.Context, conversationID string) ([]Message, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, conversationKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}

	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: decode history: %w", err)
	}
	return history, nil
}

func conversationKey(id string) string {
	return "frontdesk:conversation:" + id
}

// MemoryHistoryStore is the in-process HistoryStore. Entries do not expire.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Message
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{entries: make(map[string][]Message)}
}

func (m *MemoryHistoryStore) Load(_ context.Context, conversationID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.entries[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	return append([]Message(nil), h...), nil
}

func (m *MemoryHistoryStore) Save(_ context.Context, conversationID string, history []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[conversationID] = append([]Message(nil), history...)
	return nil
}
