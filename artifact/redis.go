package artifact

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// RedisStore keeps artifacts in Redis. Expiry is delegated to Redis TTLs,
// so no reaper runs; the per-session index lives in a set with the same
// TTL as its artifacts.
type RedisStore struct {
	client *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

const (
	redisKeyPrefix    = "oversea:artifact:"
	redisSessionIndex = "oversea:session_artifacts:"
)

// NewRedisStore connects to Redis and returns the store.
func NewRedisStore(rc RedisConfig, config Config, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger = logger.With(zap.String("component", "artifact_store_redis"))
	logger.Info("redis artifact store initialized", zap.String("addr", rc.Addr))

	return &RedisStore{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Put stores data under a fresh opaque id with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, sessionID string, data []byte, contentType string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("redis artifact store is closed")
	}

	id := uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKeyPrefix+id,
		"data", data,
		"content_type", contentType,
		"session_id", sessionID,
		"created_at", time.Now().UnixMilli(),
	)
	pipe.Expire(ctx, redisKeyPrefix+id, s.config.TTL)
	if sessionID != "" {
		pipe.SAdd(ctx, redisSessionIndex+sessionID, id)
		pipe.Expire(ctx, redisSessionIndex+sessionID, s.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("artifact put failed", zap.String("id", id), zap.Error(err))
		return "", fmt.Errorf("artifact put failed: %w", err)
	}

	return id, nil
}

// Get returns the artifact for id, or ErrNotFound once expired.
func (s *RedisStore) Get(ctx context.Context, id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("redis artifact store is closed")
	}

	vals, err := s.client.HGetAll(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		s.logger.Error("artifact get failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("artifact get failed: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	createdAt := time.Time{}
	if ms, ok := vals["created_at"]; ok {
		var unixMs int64
		if _, err := fmt.Sscanf(ms, "%d", &unixMs); err == nil {
			createdAt = time.UnixMilli(unixMs)
		}
	}

	return &Artifact{
		ID:          id,
		Data:        []byte(vals["data"]),
		ContentType: vals["content_type"],
		SessionID:   vals["session_id"],
		CreatedAt:   createdAt,
	}, nil
}

// InvalidateSession drops all artifacts indexed for the session.
func (s *RedisStore) InvalidateSession(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("redis artifact store is closed")
	}

	ids, err := s.client.SMembers(ctx, redisSessionIndex+sessionID).Result()
	if err != nil {
		return fmt.Errorf("session index read failed: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, redisKeyPrefix+id)
	}
	keys = append(keys, redisSessionIndex+sessionID)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("session invalidation failed: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
