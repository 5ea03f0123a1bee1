package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/steam"
	"github.com/skinvault/escrowd/internal/store"
)

// memLedger is an in-memory store.Ledger with the same commit-iff-nil
// and terminal-guard semantics as the Postgres repo.
type memLedger struct {
	mu       sync.Mutex
	trades   map[string]*model.EscrowTrade
	listings map[string]*model.Listing
	balances map[string]decimal.Decimal
	txns     []model.Transaction
}

func newMemLedger() *memLedger {
	return &memLedger{
		trades:   make(map[string]*model.EscrowTrade),
		listings: make(map[string]*model.Listing),
		balances: make(map[string]decimal.Decimal),
	}
}

func (l *memLedger) CreateTrade(_ context.Context, t *model.EscrowTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	l.trades[t.ID] = &cp
	return nil
}

func (l *memLedger) GetTrade(_ context.Context, id string) (*model.EscrowTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "trade not found", nil)
	}
	cp := *t
	return &cp, nil
}

func (l *memLedger) FindTradeByOffer(_ context.Context, offerID string) (*model.EscrowTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.trades {
		if t.SellerOfferID == offerID || t.BuyerOfferID == offerID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperrors.New(apperrors.ErrNotFound, "no trade for offer "+offerID, nil)
}

func (l *memLedger) WithTradeLock(_ context.Context, tradeID string, fn func(tx store.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[tradeID]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, "trade not found", nil)
	}
	cp := *t
	tx := &memTx{
		ledger:   l,
		trade:    &cp,
		deltas:   make(map[string]decimal.Decimal),
		listings: make(map[string]model.ListingStatus),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (l *memLedger) CreateListing(_ context.Context, lst *model.Listing) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *lst
	l.listings[lst.ID] = &cp
	return nil
}

func (l *memLedger) GetListing(_ context.Context, id string) (*model.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lst, ok := l.listings[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "listing not found", nil)
	}
	cp := *lst
	return &cp, nil
}

func (l *memLedger) SetListingStatus(_ context.Context, id string, status model.ListingStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lst, ok := l.listings[id]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, "listing not found", nil)
	}
	lst.Status = status
	return nil
}

func (l *memLedger) StalePendingTrades(_ context.Context, before time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for _, t := range l.trades {
		if t.Status == model.TradePendingPayment && t.CreatedAt.Before(before) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func (l *memLedger) TransactionsForTrade(_ context.Context, tradeID string) ([]model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Transaction
	for _, txn := range l.txns {
		if txn.TradeID == tradeID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (l *memLedger) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *memLedger) setBalance(userID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

// memTx stages writes against a trade copy and applies them only on
// commit, mirroring the transactional repo.
type memTx struct {
	ledger   *memLedger
	trade    *model.EscrowTrade
	deltas   map[string]decimal.Decimal
	txns     []model.Transaction
	listings map[string]model.ListingStatus
}

func (tx *memTx) commit() {
	now := time.Now().UTC()
	tx.trade.UpdatedAt = now
	cp := *tx.trade
	tx.ledger.trades[tx.trade.ID] = &cp
	for user, d := range tx.deltas {
		tx.ledger.balances[user] = tx.ledger.balances[user].Add(d)
	}
	tx.ledger.txns = append(tx.ledger.txns, tx.txns...)
	for id, status := range tx.listings {
		if lst, ok := tx.ledger.listings[id]; ok {
			lst.Status = status
		}
	}
}

func (tx *memTx) Trade() *model.EscrowTrade { return tx.trade }

func (tx *memTx) WriteStatus(status model.TradeStatus) error {
	if tx.trade.Status.Terminal() {
		return apperrors.New(apperrors.ErrTerminalState,
			fmt.Sprintf("trade %s already %s", tx.trade.ID, tx.trade.Status), nil)
	}
	tx.trade.Status = status
	return nil
}

func (tx *memTx) SetSellerOffer(offerID string) error {
	tx.trade.SellerOfferID = offerID
	return nil
}

func (tx *memTx) SetBuyerOffer(offerID string) error {
	tx.trade.BuyerOfferID = offerID
	return nil
}

func (tx *memTx) MarkReceived(assetID string) error {
	now := time.Now().UTC()
	tx.trade.AssetID = assetID
	tx.trade.ReceivedAt = &now
	return nil
}

func (tx *memTx) MarkPaid() error {
	tx.trade.Paid = true
	return nil
}

func (tx *memTx) CreditBalance(userID string, amount decimal.Decimal) error {
	tx.deltas[userID] = tx.deltas[userID].Add(amount)
	return nil
}

func (tx *memTx) DebitBalance(userID string, amount decimal.Decimal) error {
	effective := tx.ledger.balances[userID].Add(tx.deltas[userID])
	if effective.LessThan(amount) {
		return apperrors.NewInvalidRequest(
			fmt.Sprintf("insufficient balance for %s: have %s, need %s", userID, effective, amount))
	}
	tx.deltas[userID] = tx.deltas[userID].Sub(amount)
	return nil
}

func (tx *memTx) InsertTransaction(kind model.TransactionKind, userID string, amount decimal.Decimal) error {
	tx.txns = append(tx.txns, model.Transaction{
		ID:        uuid.NewString(),
		TradeID:   tx.trade.ID,
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (tx *memTx) SetListingStatus(listingID string, status model.ListingStatus) error {
	tx.listings[listingID] = status
	return nil
}

// fakeTradeClient scripts platform behavior per test.
type fakeTradeClient struct {
	mu          sync.Mutex
	inventories map[string][]steam.Asset
	offers      map[string]*steam.Offer
	sendErr     error
	sentOffers  []sentOffer
	accepted    []string
	declined    []string
	nextOffer   int
}

type sentOffer struct {
	BotID   string
	Partner string
	Give    []steam.Asset
	Receive []steam.Asset
}

func newFakeTradeClient() *fakeTradeClient {
	return &fakeTradeClient{
		inventories: make(map[string][]steam.Asset),
		offers:      make(map[string]*steam.Offer),
	}
}

func (c *fakeTradeClient) Login(context.Context, string) error { return nil }
func (c *fakeTradeClient) Ping(context.Context, string) error  { return nil }

func (c *fakeTradeClient) GetInventory(_ context.Context, identity string) ([]steam.Asset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inventories[identity], nil
}

func (c *fakeTradeClient) SendOffer(_ context.Context, botID, partner string, give, receive []steam.Asset, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.nextOffer++
	id := fmt.Sprintf("offer-%d", c.nextOffer)
	c.sentOffers = append(c.sentOffers, sentOffer{BotID: botID, Partner: partner, Give: give, Receive: receive})
	return id, nil
}

func (c *fakeTradeClient) AcceptOffer(_ context.Context, _, offerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted = append(c.accepted, offerID)
	return nil
}

func (c *fakeTradeClient) DeclineOffer(_ context.Context, _, offerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declined = append(c.declined, offerID)
	return nil
}

func (c *fakeTradeClient) GetOffer(_ context.Context, _, offerID string) (*steam.Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	offer, ok := c.offers[offerID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "offer not found", nil)
	}
	return offer, nil
}

func (c *fakeTradeClient) setInventory(identity string, assets []steam.Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inventories[identity] = assets
}

// fakePricing values items from a fixed table.
type fakePricing struct {
	prices map[string]decimal.Decimal
}

func (p *fakePricing) Valuate(_ context.Context, itemRef string) (decimal.Decimal, error) {
	v, ok := p.prices[itemRef]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", itemRef)
	}
	return v, nil
}

// recordNotifier captures notifications for assertions.
type recordNotifier struct {
	mu     sync.Mutex
	urls   map[string]string
	events []string // "subjectID:event"
}

func newRecordNotifier() *recordNotifier {
	return &recordNotifier{urls: make(map[string]string)}
}

func (n *recordNotifier) Register(subjectID, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls[subjectID] = url
}

func (n *recordNotifier) Notify(subjectID, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, subjectID+":"+event)
}

func (n *recordNotifier) count(subjectID, event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == subjectID+":"+event {
			total++
		}
	}
	return total
}

func (n *recordNotifier) has(subjectID, event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == subjectID+":"+event {
			return true
		}
	}
	return false
}

// memRiskStore is an in-memory store.RiskStore.
type memRiskStore struct {
	mu           sync.Mutex
	events       []model.RiskRecord
	fingerprints map[string]string
}

func newMemRiskStore() *memRiskStore {
	return &memRiskStore{fingerprints: make(map[string]string)}
}

func (s *memRiskStore) InsertEvent(_ context.Context, rec model.RiskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	return nil
}

func (s *memRiskStore) UnresolvedSince(_ context.Context, subjectID string, since time.Time) ([]model.RiskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RiskRecord
	for _, rec := range s.events {
		if rec.SubjectID == subjectID && !rec.Resolved && rec.CreatedAt.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memRiskStore) SaveFingerprint(_ context.Context, subjectID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[subjectID] = fingerprint
	return nil
}

func (s *memRiskStore) GetFingerprint(_ context.Context, subjectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprints[subjectID], nil
}

func (s *memRiskStore) countEvents(subjectID string, event model.RiskEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.events {
		if rec.SubjectID == subjectID && rec.Event == event {
			n++
		}
	}
	return n
}
