// Package botpool owns the set of escrow bot identities: their
// online/health/load state, selection, and login lifecycle. Bot
// counters are the only shared mutable state outside the ledger.
package botpool

import (
	"fmt"
	"time"

	"log/slog"
	"sync"

	"github.com/skinvault/escrowd/internal/breaker"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/steam"
	"golang.org/x/time/rate"
)

type Config struct {
	InventoryCap     int           // hard cap; bots at/above it are never selected
	HealthInterval   time.Duration // liveness probe cycle
	LoginDelay       time.Duration // fixed gap between any two logins
	MaxLoginAttempts int
	LoginRetryDelay  time.Duration // fixed backoff on plain login failures
	RateLimitBase    time.Duration // exponential base on rate-limit failures
}

func DefaultConfig() Config {
	return Config{
		InventoryCap:     950,
		HealthInterval:   60 * time.Second,
		LoginDelay:       10 * time.Second,
		MaxLoginAttempts: 4,
		LoginRetryDelay:  5 * time.Second,
		RateLimitBase:    60 * time.Second,
	}
}

// Filter narrows bot selection for GetBestBot.
type Filter struct {
	RequireOnline bool
	MinInventory  int
	Exclude       []string
}

// Pool 机器人注册表。bots 由 Pool 独占持有，调用方只拿快照。
type Pool struct {
	mu    sync.RWMutex
	bots  map[string]*model.Bot
	order []string // registration order, for the deterministic tie-break

	cfg    Config
	client steam.TradeClient

	loginBreaker  *breaker.Breaker
	healthBreaker *breaker.Breaker

	// process-wide login serialization: one login in flight, fixed
	// inter-login delay, to avoid tripping external rate limits.
	loginMu      sync.Mutex
	loginLimiter *rate.Limiter

	sleep func(d time.Duration)
	log   *slog.Logger
}

func New(cfg Config, client steam.TradeClient, breakers *breaker.Registry) *Pool {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 4
	}
	if cfg.LoginDelay <= 0 {
		cfg.LoginDelay = 10 * time.Second
	}
	return &Pool{
		bots:          make(map[string]*model.Bot),
		cfg:           cfg,
		client:        client,
		loginBreaker:  breakers.Get("bot_login"),
		healthBreaker: breakers.Get("bot_health"),
		loginLimiter:  rate.NewLimiter(rate.Every(cfg.LoginDelay), 1),
		sleep:         time.Sleep,
		log:           logger.Component("botpool"),
	}
}

// RegisterBot adds a bot in offline state. Idempotent per id.
func (p *Pool) RegisterBot(id, handle string, metadata map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.bots[id]; exists {
		return
	}
	p.bots[id] = &model.Bot{
		ID:           id,
		Handle:       handle,
		Metadata:     metadata,
		Healthy:      true,
		LastActivity: time.Now(),
	}
	p.order = append(p.order, id)
	p.log.Info("bot registered", "bot_id", id, "handle", handle)
}

// UnregisterBot removes the bot entirely.
func (p *Pool) UnregisterBot(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.bots[id]; !exists {
		return
	}
	delete(p.bots, id)
	for i, bid := range p.order {
		if bid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// GetBestBot returns the qualifying bot with the lowest load score, or
// false when no candidate qualifies. Bot unavailability is a normal,
// retryable condition for the caller.
func (p *Pool) GetBestBot(f Filter) (model.Bot, bool) {
	excluded := make(map[string]bool, len(f.Exclude))
	for _, id := range f.Exclude {
		excluded[id] = true
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *model.Bot
	for _, id := range p.order {
		b := p.bots[id]
		if excluded[id] || !b.Healthy {
			continue
		}
		if f.RequireOnline && !(b.Online && b.Ready) {
			continue
		}
		if b.InventoryCount >= p.cfg.InventoryCap {
			continue
		}
		if b.InventoryCount < f.MinInventory {
			continue
		}
		// strict less-than keeps the first-registered bot on ties
		if best == nil || b.LoadScore() < best.LoadScore() {
			best = b
		}
	}
	if best == nil {
		return model.Bot{}, false
	}
	return *best, true
}

// IncrementActiveTrades marks the bot as holding one more trade.
func (p *Pool) IncrementActiveTrades(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bots[id]
	if !ok {
		return fmt.Errorf("bot %s not registered", id)
	}
	b.ActiveTrades++
	b.LastActivity = time.Now()
	return nil
}

// RecordTradeComplete always decrements the counter exactly once,
// regardless of whether the trade succeeded. Never goes below zero.
func (p *Pool) RecordTradeComplete(id string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bots[id]
	if !ok {
		return
	}
	if b.ActiveTrades > 0 {
		b.ActiveTrades--
	}
	b.LastActivity = time.Now()
	if !success {
		p.log.Warn("trade completed with failure on bot", "bot_id", id)
	}
}

// SetInventoryCount updates the bot's inventory-size estimate.
func (p *Pool) SetInventoryCount(id string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bots[id]; ok {
		b.InventoryCount = n
	}
}

// Snapshot returns copies of all bot records in registration order.
func (p *Pool) Snapshot() []model.Bot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.Bot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.bots[id])
	}
	return out
}

func (p *Pool) setOnline(id string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bots[id]; ok {
		b.Online = online
		b.Ready = online
		if online {
			b.Healthy = true
		}
		b.LastActivity = time.Now()
	}
}

func (p *Pool) setHealthy(id string, healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bots[id]; ok {
		b.Healthy = healthy
	}
}
