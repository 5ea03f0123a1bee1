package service

import (
	"context"
	"sync"

	"github.com/skinvault/escrowd/internal/model"
)

// MemoryScoreCache 进程内风险分缓存，Redis 不可用时的降级实现
type MemoryScoreCache struct {
	mu     sync.RWMutex
	scores map[string]model.RiskScore
}

func NewMemoryScoreCache() *MemoryScoreCache {
	return &MemoryScoreCache{scores: make(map[string]model.RiskScore)}
}

func (c *MemoryScoreCache) GetScore(ctx context.Context, subjectID string) (*model.RiskScore, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if score, ok := c.scores[subjectID]; ok {
		cp := score
		return &cp, nil
	}
	return nil, nil
}

func (c *MemoryScoreCache) SetScore(ctx context.Context, score model.RiskScore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scores[score.SubjectID] = score
	return nil
}
