package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus 交易状态机的节点
type TradeStatus string

const (
	TradePendingPayment    TradeStatus = "pending_payment"
	TradeAwaitingSeller    TradeStatus = "awaiting_seller"
	TradeForwardingToBuyer TradeStatus = "forwarding_to_buyer"
	TradeDirectDeposit     TradeStatus = "direct_deposit"
	TradeCompleted         TradeStatus = "completed"
	TradeCancelled         TradeStatus = "cancelled"
	TradeRefunded          TradeStatus = "refunded"
)

// Terminal reports whether no further status writes are permitted.
func (s TradeStatus) Terminal() bool {
	return s == TradeCompleted || s == TradeCancelled || s == TradeRefunded
}

// EscrowTrade 代表一次由机器人托管的交易 (seller -> bot -> buyer)
type EscrowTrade struct {
	ID            string          `db:"id" json:"id"`
	BuyerID       string          `db:"buyer_id" json:"buyer_id"`
	SellerID      string          `db:"seller_id" json:"seller_id"`
	ListingID     string          `db:"listing_id" json:"listing_id"`
	ItemRef       string          `db:"item_ref" json:"item_ref"`
	AssetID       string          `db:"asset_id" json:"asset_id"` // re-resolved after every transfer
	Price         decimal.Decimal `db:"price" json:"price"`
	Fee           decimal.Decimal `db:"fee" json:"fee"`
	Payout        decimal.Decimal `db:"payout" json:"payout"`
	BotID         string          `db:"bot_id" json:"bot_id"`
	SellerOfferID string          `db:"seller_offer_id" json:"seller_offer_id"`
	BuyerOfferID  string          `db:"buyer_offer_id" json:"buyer_offer_id"`
	Status        TradeStatus     `db:"status" json:"status"`
	Paid          bool            `db:"paid" json:"paid"`
	ReceivedAt    *time.Time      `db:"received_at" json:"received_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ListingStatus 商品列表状态
type ListingStatus string

const (
	ListingActive ListingStatus = "active"
	ListingLocked ListingStatus = "locked" // reserved by an in-flight trade
	ListingSold   ListingStatus = "sold"
)

// Listing 在售商品
type Listing struct {
	ID        string          `db:"id" json:"id"`
	SellerID  string          `db:"seller_id" json:"seller_id"`
	ItemRef   string          `db:"item_ref" json:"item_ref"`
	AssetID   string          `db:"asset_id" json:"asset_id"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Status    ListingStatus   `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// TransactionKind 账本流水类型
type TransactionKind string

const (
	TxnBuyerPayment  TransactionKind = "buyer_payment"  // debit: buyer pays the price from balance
	TxnSellerPayout  TransactionKind = "seller_payout"  // credit: seller paid after bot takes custody
	TxnBuyerRefund   TransactionKind = "buyer_refund"   // credit: buyer refunded on any failure path
	TxnDepositCredit TransactionKind = "deposit_credit" // credit: direct deposit valuation
	TxnSale          TransactionKind = "sale"           // settlement marker, no balance movement
)

// Settlement reports whether this kind is the trade's single monetary
// outcome (payout or refund); a trade must carry at most one.
func (k TransactionKind) Settlement() bool {
	return k == TxnSellerPayout || k == TxnBuyerRefund
}

// Transaction 单条账本流水，隶属于一次交易
type Transaction struct {
	ID        string          `db:"id" json:"id"`
	TradeID   string          `db:"trade_id" json:"trade_id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Kind      TransactionKind `db:"kind" json:"kind"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
