package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/metrics"
	"github.com/skinvault/escrowd/internal/steam"
	"github.com/skinvault/escrowd/internal/store"
)

// HandleDirectDeposit 处理纯入向报价：接受、估价、给存入者记账，
// 并按加价自动挂牌。整条路径不经过 pending_payment / awaiting_seller。
func (o *Orchestrator) HandleDirectDeposit(ctx context.Context, botID string, offer *steam.Offer) error {
	if !offer.Incoming() {
		return fmt.Errorf("offer %s is not a pure deposit", offer.ID)
	}

	total := decimal.Zero
	values := make([]decimal.Decimal, 0, len(offer.ItemsToReceive))
	for _, asset := range offer.ItemsToReceive {
		v, err := o.pricing.Valuate(ctx, asset.ItemRef)
		if err != nil {
			// unpriceable items make the whole offer unsafe to accept
			o.log.Warn("declining deposit with unpriceable item",
				"offer_id", offer.ID, "item_ref", asset.ItemRef, "error", err)
			return o.offers.Execute(ctx, func(ctx context.Context) error {
				return o.client.DeclineOffer(ctx, botID, offer.ID)
			})
		}
		values = append(values, v)
		total = total.Add(v)
	}

	if err := o.offers.Execute(ctx, func(ctx context.Context) error {
		return o.client.AcceptOffer(ctx, botID, offer.ID)
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	trade := &model.EscrowTrade{
		ID:            uuid.NewString(),
		SellerID:      offer.Partner,
		ItemRef:       depositRef(offer.ItemsToReceive),
		Price:         total,
		Fee:           decimal.Zero,
		Payout:        total,
		BotID:         botID,
		SellerOfferID: offer.ID,
		Status:        model.TradeDirectDeposit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.ledger.CreateTrade(ctx, trade); err != nil {
		return err
	}

	err := o.ledger.WithTradeLock(ctx, trade.ID, func(tx store.LedgerTx) error {
		if err := tx.CreditBalance(offer.Partner, total); err != nil {
			return err
		}
		if err := tx.InsertTransaction(model.TxnDepositCredit, offer.Partner, total); err != nil {
			return err
		}
		return tx.WriteStatus(model.TradeCompleted)
	})
	if err != nil {
		return err
	}

	// Deposited items go straight back on sale at a markup. The offer
	// payload's asset ids died with the transfer, so each item is
	// re-resolved from the bot's live inventory first. Listing creation
	// is best-effort: the credit above already committed.
	fresh := o.freshAssetIDs(ctx, botID)
	for i, asset := range offer.ItemsToReceive {
		assetID, ok := popAssetID(fresh, asset.ItemRef)
		if !ok {
			o.log.Error("deposited item missing from bot inventory, not listed",
				"trade_id", trade.ID, "item_ref", asset.ItemRef, "bot_id", botID)
			continue
		}
		listing := &model.Listing{
			ID:        uuid.NewString(),
			SellerID:  offer.Partner,
			ItemRef:   asset.ItemRef,
			AssetID:   assetID,
			Price:     values[i].Mul(o.cfg.DepositMarkup).Round(2),
			Status:    model.ListingActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.ledger.CreateListing(ctx, listing); err != nil {
			o.log.Error("auto-listing failed after deposit",
				"trade_id", trade.ID, "item_ref", asset.ItemRef, "error", err)
		}
	}

	metrics.TradesTotal.WithLabelValues(string(model.TradeDirectDeposit)).Inc()
	o.log.Info("direct deposit accepted",
		"trade_id", trade.ID, "offer_id", offer.ID, "partner", offer.Partner,
		"items", len(offer.ItemsToReceive), "credited", total)
	return nil
}

// freshAssetIDs reads the bot's post-transfer inventory once and groups
// the newly assigned asset ids by item reference.
func (o *Orchestrator) freshAssetIDs(ctx context.Context, botID string) map[string][]string {
	var assets []steam.Asset
	err := o.offers.Execute(ctx, func(ctx context.Context) error {
		var inner error
		assets, inner = o.client.GetInventory(ctx, botID)
		return inner
	})
	if err != nil {
		o.log.Error("inventory refresh after deposit failed", "bot_id", botID, "error", err)
		return nil
	}
	byRef := make(map[string][]string, len(assets))
	for _, a := range assets {
		byRef[a.ItemRef] = append(byRef[a.ItemRef], a.AssetID)
	}
	return byRef
}

// popAssetID consumes one asset id for the item ref, so duplicate items
// in the same deposit each get a distinct id.
func popAssetID(byRef map[string][]string, itemRef string) (string, bool) {
	ids := byRef[itemRef]
	if len(ids) == 0 {
		return "", false
	}
	byRef[itemRef] = ids[1:]
	return ids[0], true
}

// depositRef summarizes a multi-item deposit for the trade row.
func depositRef(assets []steam.Asset) string {
	if len(assets) == 1 {
		return assets[0].ItemRef
	}
	return fmt.Sprintf("%s (+%d more)", assets[0].ItemRef, len(assets)-1)
}
