package service

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/pkg/metrics"
	"github.com/skinvault/escrowd/internal/steam"
)

// InventoryProvider lists an identity's live tradable inventory.
// Implementations must not serve cached data: the whole point of the
// gate is catching items removed or locked since listing.
type InventoryProvider interface {
	ListTradableItems(ctx context.Context, identity string) ([]steam.Asset, error)
}

// ScamGate 发送交易前的最后一道防线：
// 先验物品归属，再看买卖双方风险分。
type ScamGate struct {
	inventory InventoryProvider
	risk      *RiskEngine
	threshold float64
	log       *slog.Logger
}

func NewScamGate(inventory InventoryProvider, risk *RiskEngine, threshold float64) *ScamGate {
	return &ScamGate{
		inventory: inventory,
		risk:      risk,
		threshold: threshold,
		log:       logger.Component("scam_gate"),
	}
}

// PreTradeCheck validates ownership and risk immediately before the
// trade is sent. The first failing check short-circuits with a
// specific reason; a pass has no side effects.
func (g *ScamGate) PreTradeCheck(ctx context.Context, sellerID, buyerID, itemRef string) error {
	// (a) live ownership re-verification, never from cache
	assets, err := g.inventory.ListTradableItems(ctx, sellerID)
	if err != nil {
		return apperrors.New(apperrors.ErrUpstream,
			fmt.Sprintf("could not verify seller %s inventory", sellerID), err)
	}

	found := false
	tradable := false
	for _, a := range assets {
		if a.ItemRef == itemRef {
			found = true
			tradable = a.Tradable
			break
		}
	}
	if !found {
		g.block(ctx, sellerID, model.RiskItemMissing, "item_missing")
		return apperrors.NewItemUnavailable(
			fmt.Sprintf("item %s no longer in seller %s inventory", itemRef, sellerID))
	}
	if !tradable {
		g.block(ctx, sellerID, model.RiskOwnershipFailure, "item_locked")
		return apperrors.NewItemUnavailable(
			fmt.Sprintf("item %s is trade-locked for seller %s", itemRef, sellerID))
	}

	// (b) seller risk score
	sellerScore, err := g.risk.Score(ctx, sellerID)
	if err != nil {
		return err
	}
	if sellerScore >= g.threshold {
		g.block(ctx, sellerID, model.RiskGateBlock, "seller_risk")
		return apperrors.NewRiskBlocked(
			fmt.Sprintf("seller %s risk score %.1f exceeds threshold %.1f", sellerID, sellerScore, g.threshold))
	}

	// (c) buyer risk score
	buyerScore, err := g.risk.Score(ctx, buyerID)
	if err != nil {
		return err
	}
	if buyerScore >= g.threshold {
		g.block(ctx, buyerID, model.RiskGateBlock, "buyer_risk")
		return apperrors.NewRiskBlocked(
			fmt.Sprintf("buyer %s risk score %.1f exceeds threshold %.1f", buyerID, buyerScore, g.threshold))
	}

	return nil
}

func (g *ScamGate) block(ctx context.Context, subjectID string, event model.RiskEventType, reason string) {
	metrics.RiskRejects.WithLabelValues(reason).Inc()
	g.log.Warn("pre-trade check blocked", "subject_id", subjectID, "reason", reason)
	if err := g.risk.RecordEvent(ctx, subjectID, event); err != nil {
		g.log.Error("failed to record risk event", "subject_id", subjectID, "error", err)
	}
}

// LiveInventory adapts the platform client into an InventoryProvider,
// shielding callers behind the shared circuit breaker.
type LiveInventory struct {
	client  steam.TradeClient
	execute func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewLiveInventory(client steam.TradeClient, execute func(ctx context.Context, fn func(ctx context.Context) error) error) *LiveInventory {
	return &LiveInventory{client: client, execute: execute}
}

func (p *LiveInventory) ListTradableItems(ctx context.Context, identity string) ([]steam.Asset, error) {
	var assets []steam.Asset
	err := p.execute(ctx, func(ctx context.Context) error {
		var inner error
		assets, inner = p.client.GetInventory(ctx, identity)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}
