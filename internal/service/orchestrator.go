package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/botpool"
	"github.com/skinvault/escrowd/internal/breaker"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/steam"
	"github.com/skinvault/escrowd/internal/store"
)

// PricingEngine values an item for the direct-deposit auto-listing
// path.
type PricingEngine interface {
	Valuate(ctx context.Context, itemRef string) (decimal.Decimal, error)
}

// Notifier delivers fire-and-forget notifications keyed by subject.
type Notifier interface {
	Register(subjectID, url string)
	Notify(subjectID, event string, payload any)
}

type OrchestratorConfig struct {
	FeePercent    decimal.Decimal // e.g. 0.05
	DepositMarkup decimal.Decimal // e.g. 1.05
	Expiry        time.Duration   // pending_payment window
	SweepInterval time.Duration
}

// Orchestrator 托管交易状态机。所有状态迁移都在账本行锁内完成；
// 卖家收款在机器人拿到物品的同一事务里立即发生，不等买家确认 ——
// 这是有意为之的取舍，用托管期风险换更快的卖家结算。
type Orchestrator struct {
	ledger   store.Ledger
	pool     *botpool.Pool
	gate     *ScamGate
	client   steam.TradeClient
	offers   *breaker.Breaker
	pricing  PricingEngine
	notifier Notifier
	cfg      OrchestratorConfig

	handlers map[steam.OfferState]func(ctx context.Context, trade *model.EscrowTrade, ev steam.OfferEvent) error
	log      *slog.Logger
}

func NewOrchestrator(
	ledger store.Ledger,
	pool *botpool.Pool,
	gate *ScamGate,
	client steam.TradeClient,
	breakers *breaker.Registry,
	pricing PricingEngine,
	notifier Notifier,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DepositMarkup.IsZero() {
		cfg.DepositMarkup = decimal.NewFromFloat(1.05)
	}
	o := &Orchestrator{
		ledger:   ledger,
		pool:     pool,
		gate:     gate,
		client:   client,
		offers:   breakers.Get("trade_offers"),
		pricing:  pricing,
		notifier: notifier,
		cfg:      cfg,
		log:      logger.Component("orchestrator"),
	}
	o.handlers = map[steam.OfferState]func(context.Context, *model.EscrowTrade, steam.OfferEvent) error{
		steam.OfferActive:        o.onActive,
		steam.OfferAccepted:      o.onAccepted,
		steam.OfferDeclined:      o.onFailure,
		steam.OfferCanceled:      o.onFailure,
		steam.OfferExpired:       o.onFailure,
		steam.OfferInvalidItems:  o.onFailure,
		steam.OfferCanceledBy2FA: o.onFailure,
	}
	return o
}

// InitiateTrade validates the listing, runs the scam gate, acquires a
// bot and creates the trade in pending_payment. No bot available is a
// fail-fast condition for the caller to retry, never an internal loop.
func (o *Orchestrator) InitiateTrade(ctx context.Context, req model.TradeRequest) (*model.EscrowTrade, error) {
	listing, err := o.ledger.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != model.ListingActive {
		return nil, apperrors.New(apperrors.ErrListingOffline,
			fmt.Sprintf("listing %s is %s", listing.ID, listing.Status), nil)
	}

	if err := o.gate.PreTradeCheck(ctx, listing.SellerID, req.BuyerID, listing.ItemRef); err != nil {
		return nil, err
	}

	bot, ok := o.pool.GetBestBot(botpool.Filter{RequireOnline: true})
	if !ok {
		return nil, apperrors.NewNoBots("no escrow bot available")
	}

	fee := listing.Price.Mul(o.cfg.FeePercent).Round(2)
	trade := &model.EscrowTrade{
		ID:        uuid.New().String(),
		BuyerID:   req.BuyerID,
		SellerID:  listing.SellerID,
		ListingID: listing.ID,
		ItemRef:   listing.ItemRef,
		AssetID:   listing.AssetID,
		Price:     listing.Price,
		Fee:       fee,
		Payout:    listing.Price.Sub(fee),
		BotID:     bot.ID,
		Status:    model.TradePendingPayment,
	}

	if err := o.ledger.CreateTrade(ctx, trade); err != nil {
		return nil, err
	}
	if err := o.ledger.SetListingStatus(ctx, listing.ID, model.ListingLocked); err != nil {
		return nil, err
	}
	if err := o.pool.IncrementActiveTrades(bot.ID); err != nil {
		return nil, err
	}
	if req.WebhookURL != "" {
		o.notifier.Register(trade.ID, req.WebhookURL)
	}

	o.log.Info("trade initiated", "trade_id", trade.ID, "listing_id", listing.ID,
		"buyer_id", req.BuyerID, "bot_id", bot.ID, "payout", trade.Payout)
	return trade, nil
}

// CapturePayment debits the buyer's balance for the price inside the
// trade lock, then sends the seller-side offer.
func (o *Orchestrator) CapturePayment(ctx context.Context, tradeID string) error {
	err := o.ledger.WithTradeLock(ctx, tradeID, func(tx store.LedgerTx) error {
		t := tx.Trade()
		if t.Status.Terminal() {
			return apperrors.New(apperrors.ErrTerminalState,
				fmt.Sprintf("trade %s already %s", t.ID, t.Status), nil)
		}
		if t.Paid {
			return nil // duplicate capture, idempotent
		}
		if t.Status != model.TradePendingPayment {
			return apperrors.NewInvalidRequest(
				fmt.Sprintf("trade %s is %s, cannot capture payment", t.ID, t.Status))
		}
		if err := tx.DebitBalance(t.BuyerID, t.Price); err != nil {
			return err
		}
		if err := tx.InsertTransaction(model.TxnBuyerPayment, t.BuyerID, t.Price); err != nil {
			return err
		}
		return tx.MarkPaid()
	})
	if err != nil {
		return err
	}
	return o.RequestFromSeller(ctx, tradeID)
}

// RequestFromSeller sends the bot's offer requesting the item from the
// seller and advances the trade to awaiting_seller.
func (o *Orchestrator) RequestFromSeller(ctx context.Context, tradeID string) error {
	return o.ledger.WithTradeLock(ctx, tradeID, func(tx store.LedgerTx) error {
		t := tx.Trade()
		if t.Status.Terminal() {
			return apperrors.New(apperrors.ErrTerminalState,
				fmt.Sprintf("trade %s already %s", t.ID, t.Status), nil)
		}
		if t.Status != model.TradePendingPayment {
			// already sent, this is a benign replay
			return nil
		}
		if !t.Paid {
			return apperrors.NewInvalidRequest(
				fmt.Sprintf("trade %s not paid, refusing to request item", t.ID))
		}

		var offerID string
		err := o.offers.Execute(ctx, func(ctx context.Context) error {
			var inner error
			offerID, inner = o.client.SendOffer(ctx, t.BotID, t.SellerID,
				nil, []steam.Asset{{AssetID: t.AssetID, ItemRef: t.ItemRef, Tradable: true}},
				fmt.Sprintf("escrow pickup for trade %s", t.ID))
			return inner
		})
		if err != nil {
			return err
		}

		if err := tx.SetSellerOffer(offerID); err != nil {
			return err
		}
		if err := tx.WriteStatus(model.TradeAwaitingSeller); err != nil {
			return err
		}
		o.log.Info("seller offer sent", "trade_id", t.ID, "offer_id", offerID, "bot_id", t.BotID)
		return nil
	})
}

// ProcessJob is the trade-queue processor callback. Single-trade jobs
// run the payment+pickup pipeline; batch jobs are grouped per seller
// and one seller's failure never aborts the remaining sub-groups.
func (o *Orchestrator) ProcessJob(ctx context.Context, job *model.TradeJob) error {
	if job.Payload.TradeID != "" {
		return o.processTrade(ctx, job.Payload.TradeID)
	}

	groups := make(map[string][]model.BatchItem)
	var sellers []string
	for _, item := range job.Payload.Batch {
		if _, seen := groups[item.SellerID]; !seen {
			sellers = append(sellers, item.SellerID)
		}
		groups[item.SellerID] = append(groups[item.SellerID], item)
	}

	var failures []string
	for _, seller := range sellers {
		for _, item := range groups[seller] {
			if err := o.processTrade(ctx, item.TradeID); err != nil {
				o.log.Warn("batch sub-group item failed", "job_id", job.ID,
					"seller_id", seller, "trade_id", item.TradeID, "error", err)
				failures = append(failures, fmt.Sprintf("%s: %v", seller, err))
				break // stop this seller's group, continue the rest
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("batch partially failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

func (o *Orchestrator) processTrade(ctx context.Context, tradeID string) error {
	trade, err := o.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade.Status != model.TradePendingPayment {
		// retried job, trade already progressed
		return nil
	}
	if !trade.Paid {
		return o.CapturePayment(ctx, tradeID)
	}
	return o.RequestFromSeller(ctx, tradeID)
}

// resolveAssetID re-reads the bot's live inventory to find the item's
// freshly-assigned asset id. Asset ids change after every transfer.
func (o *Orchestrator) resolveAssetID(ctx context.Context, botID, itemRef string) (string, error) {
	var assets []steam.Asset
	err := o.offers.Execute(ctx, func(ctx context.Context) error {
		var inner error
		assets, inner = o.client.GetInventory(ctx, botID)
		return inner
	})
	if err != nil {
		return "", err
	}
	for _, a := range assets {
		if a.ItemRef == itemRef {
			return a.AssetID, nil
		}
	}
	return "", apperrors.New(apperrors.ErrItemUnavail,
		fmt.Sprintf("item %s not found in bot %s inventory", itemRef, botID), nil)
}

// IsTerminalNoop reports whether the error is the benign
// already-terminal case that event handlers swallow.
func IsTerminalNoop(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Type == apperrors.ErrTerminalState
}
