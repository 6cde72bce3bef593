package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPromptTTL = 24 * time.Hour

// PromptStore records which welcome prompt belongs to which member, backed
// by Redis so records survive restarts. Records expire after ttl.
// Key format: tiersync:prompt:<member_id>
type PromptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPromptStore creates a PromptStore wrapping the given Redis client.
// If ttl <= 0, defaultPromptTTL is used.
func NewPromptStore(client *redis.Client, ttl time.Duration) *PromptStore {
	if ttl <= 0 {
		ttl = defaultPromptTTL
	}
	return &PromptStore{client: client, ttl: ttl}
}

// Put records messageID as the prompt for memberID, replacing any previous one.
func (s *PromptStore) Put(ctx context.Context, memberID, messageID string) error {
	if err := s.client.Set(ctx, s.key(memberID), messageID, s.ttl).Err(); err != nil {
		return fmt.Errorf("prompt put: %w", err)
	}
	return nil
}

// Get returns the prompt recorded for memberID, if any.
func (s *PromptStore) Get(ctx context.Context, memberID string) (string, bool, error) {
	id, err := s.client.Get(ctx, s.key(memberID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("prompt get: %w", err)
	}
	return id, true, nil
}

// Delete evicts the record for memberID.
func (s *PromptStore) Delete(ctx context.Context, memberID string) error {
	if err := s.client.Del(ctx, s.key(memberID)).Err(); err != nil {
		return fmt.Errorf("prompt delete: %w", err)
	}
	return nil
}

func (s *PromptStore) key(memberID string) string {
	return "tiersync:prompt:" + memberID
}
