package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skinvault/escrowd/internal/config"
	"github.com/skinvault/escrowd/internal/model"
)

type RedisClient struct {
	Client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Redis.RiskScorePrefix
	if prefix == "" {
		prefix = "risk_score"
	}
	ttl := time.Duration(cfg.Redis.RiskTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisClient{Client: rdb, prefix: prefix, ttl: ttl}, nil
}

// Implement store.ScoreCache on Redis

func (r *RedisClient) GetScore(ctx context.Context, subjectID string) (*model.RiskScore, error) {
	raw, err := r.Client.Get(ctx, r.scoreKey(subjectID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var score model.RiskScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

func (r *RedisClient) SetScore(ctx context.Context, score model.RiskScore) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, r.scoreKey(score.SubjectID), raw, r.ttl).Err()
}

func (r *RedisClient) scoreKey(subjectID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, subjectID)
}
