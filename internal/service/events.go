package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/pkg/metrics"
	"github.com/skinvault/escrowd/internal/steam"
	"github.com/skinvault/escrowd/internal/store"
)

// errNoTransition marks a locked section that found the trade in a
// status the event does not apply to. The event is dropped without the
// post-commit side effects (notifications, metrics, pool counters) that
// a real transition triggers.
var errNoTransition = errors.New("no state transition")

// HandleOfferEvent is the single entry point for asynchronous external
// offer-state changes. Events may arrive duplicated or out of order;
// the trade row lock makes redundant processing safe.
func (o *Orchestrator) HandleOfferEvent(ctx context.Context, ev steam.OfferEvent) error {
	trade, err := o.ledger.FindTradeByOffer(ctx, ev.OfferID)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrNotFound) {
			return o.handleUnsolicited(ctx, ev)
		}
		return err
	}

	handler, ok := o.handlers[ev.NewState]
	if !ok {
		o.log.Warn("unmapped offer state ignored", "offer_id", ev.OfferID, "state", ev.NewState)
		return nil
	}
	err = handler(ctx, trade, ev)
	if IsTerminalNoop(err) {
		o.log.Info("event on terminal trade ignored", "trade_id", trade.ID, "offer_id", ev.OfferID, "state", ev.NewState)
		return nil
	}
	return err
}

// handleUnsolicited deals with offers no trade references. A pure
// incoming offer (items received, nothing given) is the direct-deposit
// entry point; anything else is ignored.
func (o *Orchestrator) handleUnsolicited(ctx context.Context, ev steam.OfferEvent) error {
	if ev.NewState != steam.OfferActive {
		o.log.Debug("event for unknown offer ignored", "offer_id", ev.OfferID, "state", ev.NewState)
		return nil
	}
	var offer *steam.Offer
	err := o.offers.Execute(ctx, func(ctx context.Context) error {
		var inner error
		offer, inner = o.client.GetOffer(ctx, ev.BotID, ev.OfferID)
		return inner
	})
	if err != nil {
		return err
	}
	if !offer.Incoming() {
		// unsolicited offer asking for bot items: decline, never trade
		o.log.Warn("declining unsolicited non-deposit offer", "offer_id", offer.ID, "partner", offer.Partner)
		return o.offers.Execute(ctx, func(ctx context.Context) error {
			return o.client.DeclineOffer(ctx, ev.BotID, offer.ID)
		})
	}
	return o.HandleDirectDeposit(ctx, ev.BotID, offer)
}

func (o *Orchestrator) onActive(ctx context.Context, trade *model.EscrowTrade, ev steam.OfferEvent) error {
	// no transition on Active
	return nil
}

func (o *Orchestrator) onAccepted(ctx context.Context, trade *model.EscrowTrade, ev steam.OfferEvent) error {
	if ev.OfferID == trade.SellerOfferID {
		return o.onSellerAccepted(ctx, trade.ID)
	}
	return o.onBuyerAccepted(ctx, trade.ID)
}

// onSellerAccepted: the bot now has custody. Re-resolve the asset id,
// forward the item to the buyer and pay the seller immediately in the
// same transaction. Payout is deliberately decoupled from buyer
// confirmation: the bot already holds the item.
func (o *Orchestrator) onSellerAccepted(ctx context.Context, tradeID string) error {
	err := o.ledger.WithTradeLock(ctx, tradeID, func(tx store.LedgerTx) error {
		t := tx.Trade()
		if t.Status.Terminal() {
			return apperrors.New(apperrors.ErrTerminalState,
				fmt.Sprintf("trade %s already %s", t.ID, t.Status), nil)
		}
		if t.Status != model.TradeAwaitingSeller {
			o.log.Warn("seller-accepted in unexpected status, no-op",
				"trade_id", t.ID, "status", t.Status)
			return errNoTransition
		}

		assetID, err := o.resolveAssetID(ctx, t.BotID, t.ItemRef)
		if err != nil {
			return err
		}
		if err := tx.MarkReceived(assetID); err != nil {
			return err
		}

		var buyerOfferID string
		err = o.offers.Execute(ctx, func(ctx context.Context) error {
			var inner error
			buyerOfferID, inner = o.client.SendOffer(ctx, t.BotID, t.BuyerID,
				[]steam.Asset{{AssetID: assetID, ItemRef: t.ItemRef, Tradable: true}}, nil,
				fmt.Sprintf("your item for trade %s", t.ID))
			return inner
		})
		if err != nil {
			return err
		}
		if err := tx.SetBuyerOffer(buyerOfferID); err != nil {
			return err
		}

		if err := tx.CreditBalance(t.SellerID, t.Payout); err != nil {
			return err
		}
		if err := tx.InsertTransaction(model.TxnSellerPayout, t.SellerID, t.Payout); err != nil {
			return err
		}
		if err := tx.WriteStatus(model.TradeForwardingToBuyer); err != nil {
			return err
		}
		o.log.Info("item received, seller paid, forwarding to buyer",
			"trade_id", t.ID, "payout", t.Payout, "buyer_offer_id", buyerOfferID)
		return nil
	})
	if errors.Is(err, errNoTransition) {
		return nil
	}
	if err == nil {
		o.notifier.Notify(tradeID, "trade.forwarding_to_buyer", nil)
	}
	return err
}

// onBuyerAccepted completes the trade. Replaying the event is a no-op
// once the trade is terminal.
func (o *Orchestrator) onBuyerAccepted(ctx context.Context, tradeID string) error {
	err := o.ledger.WithTradeLock(ctx, tradeID, func(tx store.LedgerTx) error {
		t := tx.Trade()
		if t.Status.Terminal() {
			return apperrors.New(apperrors.ErrTerminalState,
				fmt.Sprintf("trade %s already %s", t.ID, t.Status), nil)
		}
		if t.Status != model.TradeForwardingToBuyer {
			o.log.Warn("buyer-accepted in unexpected status, no-op",
				"trade_id", t.ID, "status", t.Status)
			return errNoTransition
		}
		if err := tx.WriteStatus(model.TradeCompleted); err != nil {
			return err
		}
		if t.ListingID != "" {
			if err := tx.SetListingStatus(t.ListingID, model.ListingSold); err != nil {
				return err
			}
		}
		return tx.InsertTransaction(model.TxnSale, t.BuyerID, t.Price)
	})
	if errors.Is(err, errNoTransition) {
		return nil
	}
	if err != nil {
		return err
	}

	trade, gerr := o.ledger.GetTrade(ctx, tradeID)
	if gerr == nil && trade.BotID != "" {
		o.pool.RecordTradeComplete(trade.BotID, true)
	}
	metrics.TradesTotal.WithLabelValues(string(model.TradeCompleted)).Inc()
	o.notifier.Notify(tradeID, "trade.completed", nil)
	o.log.Info("trade completed", "trade_id", tradeID)
	return nil
}

// onFailure handles every failure-shaped external state: refund the
// buyer if they paid, release the listing, cancel the trade.
func (o *Orchestrator) onFailure(ctx context.Context, trade *model.EscrowTrade, ev steam.OfferEvent) error {
	if err := o.cancelTrade(ctx, trade.ID, string(ev.NewState), false); err != nil {
		return err
	}
	// a party walking away from its own leg is a low-weight risk
	// signal; repeated occurrences add up against the subject
	if ev.NewState == steam.OfferDeclined || ev.NewState == steam.OfferCanceled {
		subject := trade.BuyerID
		if ev.OfferID == trade.SellerOfferID {
			subject = trade.SellerID
		}
		if rerr := o.gate.risk.RecordEvent(ctx, subject, model.RiskRapidCancellation); rerr != nil {
			o.log.Error("failed to record cancellation risk event", "subject_id", subject, "error", rerr)
		}
	}
	return nil
}

// cancelTrade resolves a trade to cancelled or refunded with the
// exactly-once refund guarantee held by the row lock. The terminal
// status is decided from the Paid flag read under the lock, so a
// payment racing an expiry sweep still yields the right label.
func (o *Orchestrator) cancelTrade(ctx context.Context, tradeID, reason string, expired bool) error {
	var status model.TradeStatus
	err := o.ledger.WithTradeLock(ctx, tradeID, func(tx store.LedgerTx) error {
		t := tx.Trade()
		if t.Status.Terminal() {
			return apperrors.New(apperrors.ErrTerminalState,
				fmt.Sprintf("trade %s already %s", t.ID, t.Status), nil)
		}
		status = model.TradeCancelled
		if expired && t.Paid {
			status = model.TradeRefunded
		}
		if t.Paid {
			if err := tx.CreditBalance(t.BuyerID, t.Price); err != nil {
				return err
			}
			if err := tx.InsertTransaction(model.TxnBuyerRefund, t.BuyerID, t.Price); err != nil {
				return err
			}
		}
		if t.ListingID != "" {
			if err := tx.SetListingStatus(t.ListingID, model.ListingActive); err != nil {
				return err
			}
		}
		return tx.WriteStatus(status)
	})
	if IsTerminalNoop(err) {
		return err
	}
	if err != nil {
		return err
	}

	trade, gerr := o.ledger.GetTrade(ctx, tradeID)
	if gerr == nil && trade.BotID != "" {
		o.pool.RecordTradeComplete(trade.BotID, false)
	}
	metrics.TradesTotal.WithLabelValues(string(status)).Inc()
	o.notifier.Notify(tradeID, "trade."+string(status), map[string]string{"reason": reason})
	o.log.Info("trade resolved to failure", "trade_id", tradeID, "status", status, "reason", reason)
	return nil
}
