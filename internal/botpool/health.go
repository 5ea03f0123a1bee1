package botpool

import (
	"context"
	"time"
)

// StartHealthChecks runs the liveness cycle on a fixed interval,
// independent of trade traffic. Online bots failing the probe are
// excluded from selection until they pass again; offline bots get a
// fresh login attempt through the serialized login queue.
func (p *Pool) StartHealthChecks(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runHealthCycle(ctx)
			}
		}
	}()
}

func (p *Pool) runHealthCycle(ctx context.Context) {
	var offline []string
	for _, bot := range p.Snapshot() {
		if !bot.Online {
			offline = append(offline, bot.ID)
			continue
		}
		err := p.healthBreaker.Execute(ctx, func(ctx context.Context) error {
			return p.client.Ping(ctx, bot.ID)
		})
		if err != nil {
			p.log.Warn("bot failed liveness probe", "bot_id", bot.ID, "error", err)
			p.setHealthy(bot.ID, false)
			continue
		}
		p.setHealthy(bot.ID, true)
		p.refreshInventory(ctx, bot.ID)
	}

	for _, id := range offline {
		if err := p.LoginWithRetry(ctx, id); err != nil {
			p.log.Warn("offline bot login retry failed", "bot_id", id, "error", err)
		}
	}
}

func (p *Pool) refreshInventory(ctx context.Context, botID string) {
	assets, err := p.client.GetInventory(ctx, botID)
	if err != nil {
		return
	}
	p.SetInventoryCount(botID, len(assets))
}
