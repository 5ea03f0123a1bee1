package service

import (
	"context"
	"time"

	"github.com/skinvault/escrowd/internal/steam"
)

// Run consumes external offer events and, on a ticker, sweeps expired
// pending-payment trades. Blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, events <-chan steam.OfferEvent) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	o.log.Info("orchestrator event loop started", "sweep_interval", o.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator event loop stopped")
			return
		case ev, ok := <-events:
			if !ok {
				o.log.Warn("offer event stream closed")
				return
			}
			if err := o.HandleOfferEvent(ctx, ev); err != nil {
				o.log.Error("offer event handling failed",
					"offer_id", ev.OfferID, "state", ev.NewState, "error", err)
			}
		case <-ticker.C:
			if err := o.ExpireStale(ctx); err != nil {
				o.log.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// ExpireStale resolves trades stuck in pending_payment past the expiry
// window: paid trades are refunded, unpaid ones simply cancelled. Each
// trade re-checks its own status under the row lock, so a concurrent
// payment racing the sweep wins or loses cleanly.
func (o *Orchestrator) ExpireStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-o.cfg.Expiry)
	ids, err := o.ledger.StalePendingTrades(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := o.cancelTrade(ctx, id, "payment_expired", true); err != nil && !IsTerminalNoop(err) {
			o.log.Error("expiry: cancel failed", "trade_id", id, "error", err)
		}
	}
	return nil
}
