// Package store declares the persistence contracts consumed by the
// orchestration core. The relational ledger is the sole serialization
// point: every trade mutation runs inside WithTradeLock.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/model"
)

// LedgerTx is the set of operations available while holding the
// row-level lock on one trade. All writes commit or roll back as a
// single atomic unit.
type LedgerTx interface {
	// Trade returns the locked trade row as read at lock time.
	Trade() *model.EscrowTrade
	// WriteStatus advances the trade status. Writing over a terminal
	// status is refused.
	WriteStatus(status model.TradeStatus) error
	SetSellerOffer(offerID string) error
	SetBuyerOffer(offerID string) error
	// MarkReceived records custody: receipt timestamp plus the
	// re-resolved asset id.
	MarkReceived(assetID string) error
	MarkPaid() error
	CreditBalance(userID string, amount decimal.Decimal) error
	// DebitBalance fails when the balance would go negative.
	DebitBalance(userID string, amount decimal.Decimal) error
	InsertTransaction(kind model.TransactionKind, userID string, amount decimal.Decimal) error
	SetListingStatus(listingID string, status model.ListingStatus) error
}

// Ledger is the transactional trade/listing/balance store.
type Ledger interface {
	CreateTrade(ctx context.Context, t *model.EscrowTrade) error
	GetTrade(ctx context.Context, id string) (*model.EscrowTrade, error)
	// FindTradeByOffer resolves a trade from either leg's offer id.
	FindTradeByOffer(ctx context.Context, offerID string) (*model.EscrowTrade, error)
	// WithTradeLock locks the trade row, runs fn, and commits iff fn
	// returns nil. Concurrent events for the same trade serialize here.
	WithTradeLock(ctx context.Context, tradeID string, fn func(tx LedgerTx) error) error

	CreateListing(ctx context.Context, l *model.Listing) error
	GetListing(ctx context.Context, id string) (*model.Listing, error)
	SetListingStatus(ctx context.Context, id string, status model.ListingStatus) error

	// StalePendingTrades lists pending_payment trades created before
	// the cutoff, for the expiry sweeper.
	StalePendingTrades(ctx context.Context, before time.Time) ([]string, error)
	TransactionsForTrade(ctx context.Context, tradeID string) ([]model.Transaction, error)
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// RiskStore persists risk events and credential fingerprints.
type RiskStore interface {
	InsertEvent(ctx context.Context, rec model.RiskRecord) error
	UnresolvedSince(ctx context.Context, subjectID string, since time.Time) ([]model.RiskRecord, error)
	SaveFingerprint(ctx context.Context, subjectID, fingerprint string) error
	// GetFingerprint returns "" when no fingerprint is registered.
	GetFingerprint(ctx context.Context, subjectID string) (string, error)
}

// ScoreCache caches computed risk scores; recomputed synchronously
// after every new event.
type ScoreCache interface {
	// GetScore returns nil when no cached score exists.
	GetScore(ctx context.Context, subjectID string) (*model.RiskScore, error)
	SetScore(ctx context.Context, score model.RiskScore) error
}
