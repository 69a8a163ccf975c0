package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jordanhubbard/testpilot/internal/analyzer"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "testpilot:session:"

// upsertScript writes one field and appends it to the order list only when
// the field is new, so a replacement keeps its position.
var upsertScript = redis.NewScript(`
if redis.call('HSET', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
end
if tonumber(ARGV[3]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
  redis.call('EXPIRE', KEYS[2], ARGV[3])
end
return 1
`)

// RedisStore keeps each collection as a hash of JSON values plus a list of
// IDs in insertion order. Keys expire ttl after the last write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to url and verifies the connection.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func keys(sessionID, collection string) (hash, order string) {
	base := keyPrefix + sessionID + ":" + collection
	return base, base + ":order"
}

func (s *RedisStore) upsert(ctx context.Context, sessionID, collection, id string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", collection, err)
	}
	hash, order := keys(sessionID, collection)
	seconds := int64(s.ttl / time.Second)
	if err := upsertScript.Run(ctx, s.client, []string{hash, order}, id, payload, seconds).Err(); err != nil {
		return fmt.Errorf("store %s entry: %w", collection, err)
	}
	return nil
}

func (s *RedisStore) PutSummaries(ctx context.Context, sessionID string, summaries []analyzer.TestSummary) error {
	if sessionID == "" {
		return ErrNoSession
	}
	for _, sum := range summaries {
		if err := s.upsert(ctx, sessionID, "summaries", sum.ID, sum); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) PutGenerated(ctx context.Context, sessionID string, test GeneratedTest) error {
	if sessionID == "" {
		return ErrNoSession
	}
	return s.upsert(ctx, sessionID, "generated", test.Summary.ID, test)
}

func loadOrdered[T any](ctx context.Context, client *redis.Client, sessionID, collection string) ([]T, error) {
	hash, order := keys(sessionID, collection)
	ids, err := client.LRange(ctx, order, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s order: %w", collection, err)
	}
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	values, err := client.HMGet(ctx, hash, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, fmt.Errorf("decode %s entry: %w", collection, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *RedisStore) Workspace(ctx context.Context, sessionID string) (*Workspace, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	summaries, err := loadOrdered[analyzer.TestSummary](ctx, s.client, sessionID, "summaries")
	if err != nil {
		return nil, err
	}
	generated, err := loadOrdered[GeneratedTest](ctx, s.client, sessionID, "generated")
	if err != nil {
		return nil, err
	}
	return &Workspace{Summaries: summaries, Generated: generated}, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	sh, so := keys(sessionID, "summaries")
	gh, gord := keys(sessionID, "generated")
	if err := s.client.Del(ctx, sh, so, gh, gord).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping reports whether the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
