package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/store"
)

// PostgresLedgerRepo 交易/挂单/余额/流水的事务性存储。
// 行级锁 (SELECT ... FOR UPDATE) 是整个系统对单笔交易的串行化点。
type PostgresLedgerRepo struct {
	db *sqlx.DB
}

func NewPostgresLedgerRepo(db *sqlx.DB) *PostgresLedgerRepo {
	repo := &PostgresLedgerRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresLedgerRepo) CreateTrade(ctx context.Context, t *model.EscrowTrade) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO escrow_trades (
			id, buyer_id, seller_id, listing_id, item_ref, asset_id,
			price, fee, payout, bot_id, seller_offer_id, buyer_offer_id,
			status, paid, received_at, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,$11,$12,
			$13,$14,$15,$16,$17
		)
	`, t.ID, t.BuyerID, t.SellerID, t.ListingID, t.ItemRef, t.AssetID,
		t.Price, t.Fee, t.Payout, t.BotID, t.SellerOfferID, t.BuyerOfferID,
		t.Status, t.Paid, t.ReceivedAt, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *PostgresLedgerRepo) GetTrade(ctx context.Context, id string) (*model.EscrowTrade, error) {
	var t model.EscrowTrade
	err := r.db.GetContext(ctx, &t, `SELECT * FROM escrow_trades WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("trade %s not found", id), nil)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresLedgerRepo) FindTradeByOffer(ctx context.Context, offerID string) (*model.EscrowTrade, error) {
	var t model.EscrowTrade
	err := r.db.GetContext(ctx, &t,
		`SELECT * FROM escrow_trades WHERE seller_offer_id = $1 OR buyer_offer_id = $1`, offerID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("no trade for offer %s", offerID), nil)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// WithTradeLock begins a transaction, locks the trade row, runs fn and
// commits iff fn returns nil. Duplicate or out-of-order external
// events for the same offer serialize on this lock.
func (r *PostgresLedgerRepo) WithTradeLock(ctx context.Context, tradeID string, fn func(tx store.LedgerTx) error) error {
	dbtx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer dbtx.Rollback()

	var t model.EscrowTrade
	err = dbtx.GetContext(ctx, &t, `SELECT * FROM escrow_trades WHERE id = $1 FOR UPDATE`, tradeID)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("trade %s not found", tradeID), nil)
	}
	if err != nil {
		return err
	}

	ltx := &ledgerTx{ctx: ctx, tx: dbtx, trade: &t}
	if err := fn(ltx); err != nil {
		return err
	}
	return dbtx.Commit()
}

func (r *PostgresLedgerRepo) CreateListing(ctx context.Context, l *model.Listing) error {
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, item_ref, asset_id, price, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, l.ID, l.SellerID, l.ItemRef, l.AssetID, l.Price, l.Status, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *PostgresLedgerRepo) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	var l model.Listing
	err := r.db.GetContext(ctx, &l, `SELECT * FROM listings WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("listing %s not found", id), nil)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PostgresLedgerRepo) SetListingStatus(ctx context.Context, id string, status model.ListingStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE listings SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	return err
}

func (r *PostgresLedgerRepo) StalePendingTrades(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM escrow_trades WHERE status = $1 AND created_at < $2`,
		model.TradePendingPayment, before)
	return ids, err
}

func (r *PostgresLedgerRepo) TransactionsForTrade(ctx context.Context, tradeID string) ([]model.Transaction, error) {
	var txns []model.Transaction
	err := r.db.SelectContext(ctx, &txns,
		`SELECT * FROM ledger_transactions WHERE trade_id = $1 ORDER BY created_at`, tradeID)
	return txns, err
}

func (r *PostgresLedgerRepo) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance,
		`SELECT balance FROM balances WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	return balance, err
}

// ledgerTx holds the row lock for one trade.
type ledgerTx struct {
	ctx   context.Context
	tx    *sqlx.Tx
	trade *model.EscrowTrade
}

func (l *ledgerTx) Trade() *model.EscrowTrade {
	return l.trade
}

func (l *ledgerTx) WriteStatus(status model.TradeStatus) error {
	if l.trade.Status.Terminal() {
		return apperrors.New(apperrors.ErrTerminalState,
			fmt.Sprintf("trade %s already %s", l.trade.ID, l.trade.Status), nil)
	}
	res, err := l.tx.ExecContext(l.ctx, `
		UPDATE escrow_trades SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ($4,$5,$6)
	`, status, time.Now().UTC(), l.trade.ID,
		model.TradeCompleted, model.TradeCancelled, model.TradeRefunded)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.New(apperrors.ErrTerminalState,
			fmt.Sprintf("trade %s reached terminal state concurrently", l.trade.ID), nil)
	}
	l.trade.Status = status
	return nil
}

func (l *ledgerTx) SetSellerOffer(offerID string) error {
	_, err := l.tx.ExecContext(l.ctx,
		`UPDATE escrow_trades SET seller_offer_id = $1, updated_at = $2 WHERE id = $3`,
		offerID, time.Now().UTC(), l.trade.ID)
	if err == nil {
		l.trade.SellerOfferID = offerID
	}
	return err
}

func (l *ledgerTx) SetBuyerOffer(offerID string) error {
	_, err := l.tx.ExecContext(l.ctx,
		`UPDATE escrow_trades SET buyer_offer_id = $1, updated_at = $2 WHERE id = $3`,
		offerID, time.Now().UTC(), l.trade.ID)
	if err == nil {
		l.trade.BuyerOfferID = offerID
	}
	return err
}

func (l *ledgerTx) MarkReceived(assetID string) error {
	now := time.Now().UTC()
	_, err := l.tx.ExecContext(l.ctx,
		`UPDATE escrow_trades SET received_at = $1, asset_id = $2, updated_at = $1 WHERE id = $3`,
		now, assetID, l.trade.ID)
	if err == nil {
		l.trade.ReceivedAt = &now
		l.trade.AssetID = assetID
	}
	return err
}

func (l *ledgerTx) MarkPaid() error {
	_, err := l.tx.ExecContext(l.ctx,
		`UPDATE escrow_trades SET paid = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), l.trade.ID)
	if err == nil {
		l.trade.Paid = true
	}
	return err
}

func (l *ledgerTx) CreditBalance(userID string, amount decimal.Decimal) error {
	_, err := l.tx.ExecContext(l.ctx, `
		INSERT INTO balances (user_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET balance = balances.balance + $2, updated_at = $3
	`, userID, amount, time.Now().UTC())
	return err
}

func (l *ledgerTx) DebitBalance(userID string, amount decimal.Decimal) error {
	res, err := l.tx.ExecContext(l.ctx, `
		UPDATE balances SET balance = balance - $1, updated_at = $2
		WHERE user_id = $3 AND balance >= $1
	`, amount, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NewInvalidRequest(
			fmt.Sprintf("insufficient balance for user %s", userID))
	}
	return nil
}

func (l *ledgerTx) InsertTransaction(kind model.TransactionKind, userID string, amount decimal.Decimal) error {
	_, err := l.tx.ExecContext(l.ctx, `
		INSERT INTO ledger_transactions (id, trade_id, user_id, kind, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, uuid.New().String(), l.trade.ID, userID, kind, amount, time.Now().UTC())
	return err
}

func (l *ledgerTx) SetListingStatus(listingID string, status model.ListingStatus) error {
	_, err := l.tx.ExecContext(l.ctx,
		`UPDATE listings SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), listingID)
	return err
}

func (r *PostgresLedgerRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS escrow_trades (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL DEFAULT '',
			seller_id TEXT NOT NULL,
			listing_id TEXT NOT NULL DEFAULT '',
			item_ref TEXT NOT NULL DEFAULT '',
			asset_id TEXT NOT NULL DEFAULT '',
			price NUMERIC(20,4) NOT NULL DEFAULT 0,
			fee NUMERIC(20,4) NOT NULL DEFAULT 0,
			payout NUMERIC(20,4) NOT NULL DEFAULT 0,
			bot_id TEXT NOT NULL DEFAULT '',
			seller_offer_id TEXT NOT NULL DEFAULT '',
			buyer_offer_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			received_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_trades_seller_offer ON escrow_trades(seller_offer_id)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_trades_buyer_offer ON escrow_trades(buyer_offer_id)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_trades_status_created ON escrow_trades(status, created_at)`)

	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			item_ref TEXT NOT NULL,
			asset_id TEXT NOT NULL DEFAULT '',
			price NUMERIC(20,4) NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			user_id TEXT PRIMARY KEY,
			balance NUMERIC(20,4) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_transactions (
			id TEXT PRIMARY KEY,
			trade_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount NUMERIC(20,4) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_txn_trade ON ledger_transactions(trade_id)`)
	return nil
}
