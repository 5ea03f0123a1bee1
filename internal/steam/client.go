// Package steam is the boundary to the external item-trading platform.
// Everything behind TradeClient is asynchronous and unreliable; callers
// wrap invocations with a circuit breaker and never trust cached state.
package steam

import "context"

// Asset 外部平台上的一件物品。AssetID 在每次转移后都会变化，
// ItemRef 是跨转移稳定的物品标识（市场名）。
type Asset struct {
	AssetID  string `json:"asset_id"`
	ItemRef  string `json:"item_ref"`
	Tradable bool   `json:"tradable"`
}

// Offer 一次原子的物品转移提议
type Offer struct {
	ID             string     `json:"id"`
	BotID          string     `json:"bot_id"`
	Partner        string     `json:"partner"`
	ItemsToGive    []Asset    `json:"items_to_give"`
	ItemsToReceive []Asset    `json:"items_to_receive"`
	State          OfferState `json:"state"`
	Message        string     `json:"message"`
}

// Incoming reports whether the offer only gives items to the bot.
// Pure-incoming offers are the direct-deposit entry point.
func (o *Offer) Incoming() bool {
	return len(o.ItemsToGive) == 0 && len(o.ItemsToReceive) > 0
}

// TradeClient is the contract against the external trading surface.
// Implementations wrap the platform's callback-style API behind
// synchronous-looking calls.
type TradeClient interface {
	// Login authenticates the bot session. Subject to aggressive
	// external rate limiting; see botpool's serialized login queue.
	Login(ctx context.Context, botID string) error
	// Ping is the liveness probe used by the pool's health cycle.
	Ping(ctx context.Context, botID string) error
	// GetInventory lists the identity's current tradable inventory.
	GetInventory(ctx context.Context, identity string) ([]Asset, error)
	// SendOffer proposes an item transfer and returns the offer id.
	SendOffer(ctx context.Context, botID, partner string, give, receive []Asset, message string) (string, error)
	AcceptOffer(ctx context.Context, botID, offerID string) error
	DeclineOffer(ctx context.Context, botID, offerID string) error
	GetOffer(ctx context.Context, botID, offerID string) (*Offer, error)
}
