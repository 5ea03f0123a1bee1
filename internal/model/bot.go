package model

import "time"

// Bot 代表一个托管机器人身份。记录本身由 BotPool 独占持有，
// 对外只暴露快照副本。
type Bot struct {
	ID             string            `json:"id"`
	Handle         string            `json:"handle"`
	Online         bool              `json:"online"`
	Ready          bool              `json:"ready"`
	Healthy        bool              `json:"healthy"`
	ActiveTrades   int               `json:"active_trades"`
	InventoryCount int               `json:"inventory_count"`
	LastActivity   time.Time         `json:"last_activity"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// LoadScore is the selection key used by the pool: fewer active trades
// win, with inventory size as a fractional tiebreaker.
func (b *Bot) LoadScore() float64 {
	return float64(b.ActiveTrades) + float64(b.InventoryCount)/1000.0
}
