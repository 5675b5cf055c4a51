package dedupe

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "whalewatch:seen:"

type redisStore struct {
	client *redis.Client
}

func NewRedis(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &redisStore{client: redis.NewClient(opts)}, nil
}

func (s *redisStore) Init(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) HasSeen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen uses SETNX so marking is atomic and idempotent; the stored value
// is the seen-at timestamp.
func (s *redisStore) MarkSeen(ctx context.Context, key string) error {
	seenAt := strconv.FormatInt(time.Now().Unix(), 10)
	return s.client.SetNX(ctx, redisKeyPrefix+key, seenAt, 0).Err()
}
