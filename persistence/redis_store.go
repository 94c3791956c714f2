package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/taskflow/engine"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed checkpoint store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	// TTL expires run checkpoints; zero keeps them until DeleteRun.
	TTL time.Duration
}

// RedisCheckpointStore is a Redis-based implementation of engine.CheckpointStore.
// Suitable for distributed deployments where a resumed run may land on a
// different process. Uses a hash per run with a sorted-set index for ordering.
type RedisCheckpointStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCheckpointStore creates a Redis checkpoint store and verifies the
// connection.
func NewRedisCheckpointStore(cfg RedisConfig) (*RedisCheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "taskflow:"
	}
	return &RedisCheckpointStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		ttl:       cfg.TTL,
	}, nil
}

// NewRedisCheckpointStoreFromClient wraps an existing client, mainly for tests.
func NewRedisCheckpointStoreFromClient(client *redis.Client, keyPrefix string) *RedisCheckpointStore {
	if keyPrefix == "" {
		keyPrefix = "taskflow:"
	}
	return &RedisCheckpointStore{client: client, keyPrefix: keyPrefix + "checkpoint:"}
}

// Close closes the underlying client.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

// Ping checks store health.
func (s *RedisCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// runKey returns the hash key holding a run's checkpoints.
func (s *RedisCheckpointStore) runKey(runID string) string {
	return s.keyPrefix + "run:" + runID
}

// orderKey returns the sorted-set key indexing checkpoint creation order.
func (s *RedisCheckpointStore) orderKey(runID string) string {
	return s.keyPrefix + "order:" + runID
}

// Save persists a checkpoint, overwriting any earlier one for the same key.
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *engine.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.runKey(checkpoint.RunID), checkpoint.NodeID, data)
	pipe.ZAdd(ctx, s.orderKey(checkpoint.RunID), redis.Z{
		Score:  float64(checkpoint.CreatedAt.UnixNano()),
		Member: checkpoint.NodeID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.runKey(checkpoint.RunID), s.ttl)
		pipe.Expire(ctx, s.orderKey(checkpoint.RunID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for (runID, nodeID).
func (s *RedisCheckpointStore) Load(ctx context.Context, runID, nodeID string) (*engine.Checkpoint, bool, error) {
	data, err := s.client.HGet(ctx, s.runKey(runID), nodeID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var cp engine.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, false, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, true, nil
}

// List returns every checkpoint of a run ordered by creation time.
func (s *RedisCheckpointStore) List(ctx context.Context, runID string) ([]*engine.Checkpoint, error) {
	nodeIDs, err := s.client.ZRange(ctx, s.orderKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]*engine.Checkpoint, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		cp, found, err := s.Load(ctx, runID, nodeID)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, cp)
		}
	}
	return out, nil
}

// DeleteRun removes all checkpoints of a run.
func (s *RedisCheckpointStore) DeleteRun(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.runKey(runID), s.orderKey(runID)).Err()
}
