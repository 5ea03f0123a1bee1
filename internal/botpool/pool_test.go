package botpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skinvault/escrowd/internal/breaker"
	"github.com/skinvault/escrowd/internal/steam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeClient implements steam.TradeClient with scriptable login results.
type fakeClient struct {
	mu          sync.Mutex
	loginErrs   []error // popped per call; empty means success
	loginCalls  int
	pingErr     error
	inventories map[string][]steam.Asset
}

func (f *fakeClient) Login(ctx context.Context, botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if len(f.loginErrs) == 0 {
		return nil
	}
	err := f.loginErrs[0]
	f.loginErrs = f.loginErrs[1:]
	return err
}

func (f *fakeClient) Ping(ctx context.Context, botID string) error { return f.pingErr }

func (f *fakeClient) GetInventory(ctx context.Context, identity string) ([]steam.Asset, error) {
	return f.inventories[identity], nil
}

func (f *fakeClient) SendOffer(ctx context.Context, botID, partner string, give, receive []steam.Asset, message string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeClient) AcceptOffer(ctx context.Context, botID, offerID string) error  { return nil }
func (f *fakeClient) DeclineOffer(ctx context.Context, botID, offerID string) error { return nil }
func (f *fakeClient) GetOffer(ctx context.Context, botID, offerID string) (*steam.Offer, error) {
	return nil, errors.New("not implemented")
}

func newTestPool(client *fakeClient) *Pool {
	cfg := DefaultConfig()
	cfg.InventoryCap = 100
	p := New(cfg, client, breaker.NewRegistry(breaker.Config{FailureThreshold: 100}))
	p.loginLimiter = rate.NewLimiter(rate.Inf, 1)
	p.sleep = func(time.Duration) {}
	return p
}

func TestRegisterBotIdempotent(t *testing.T) {
	p := newTestPool(&fakeClient{})
	p.RegisterBot("b1", "alpha", nil)
	p.RegisterBot("b1", "renamed", nil)

	bots := p.Snapshot()
	require.Len(t, bots, 1)
	assert.Equal(t, "alpha", bots[0].Handle)
	assert.False(t, bots[0].Online, "bots register offline")
}

func TestGetBestBotPicksLowestLoad(t *testing.T) {
	p := newTestPool(&fakeClient{})
	for _, id := range []string{"b1", "b2", "b3"} {
		p.RegisterBot(id, id, nil)
		p.setOnline(id, true)
	}
	require.NoError(t, p.IncrementActiveTrades("b1"))
	require.NoError(t, p.IncrementActiveTrades("b1"))
	require.NoError(t, p.IncrementActiveTrades("b2"))
	p.SetInventoryCount("b3", 50) // score 0.05, still lowest

	best, ok := p.GetBestBot(Filter{RequireOnline: true})
	require.True(t, ok)
	assert.Equal(t, "b3", best.ID)
}

func TestGetBestBotTieBreakIsRegistrationOrder(t *testing.T) {
	p := newTestPool(&fakeClient{})
	for _, id := range []string{"b1", "b2"} {
		p.RegisterBot(id, id, nil)
		p.setOnline(id, true)
	}
	best, ok := p.GetBestBot(Filter{RequireOnline: true})
	require.True(t, ok)
	assert.Equal(t, "b1", best.ID)
}

func TestGetBestBotFilters(t *testing.T) {
	p := newTestPool(&fakeClient{})
	p.RegisterBot("offline", "offline", nil)

	p.RegisterBot("unhealthy", "unhealthy", nil)
	p.setOnline("unhealthy", true)
	p.setHealthy("unhealthy", false)

	p.RegisterBot("full", "full", nil)
	p.setOnline("full", true)
	p.SetInventoryCount("full", 100) // at cap

	p.RegisterBot("excluded", "excluded", nil)
	p.setOnline("excluded", true)

	_, ok := p.GetBestBot(Filter{RequireOnline: true, Exclude: []string{"excluded"}})
	assert.False(t, ok, "no candidate should qualify")

	best, ok := p.GetBestBot(Filter{RequireOnline: true})
	require.True(t, ok)
	assert.Equal(t, "excluded", best.ID)
}

func TestCountersNeverGoNegative(t *testing.T) {
	p := newTestPool(&fakeClient{})
	p.RegisterBot("b1", "b1", nil)

	p.RecordTradeComplete("b1", true)
	p.RecordTradeComplete("b1", false)

	bots := p.Snapshot()
	assert.Equal(t, 0, bots[0].ActiveTrades)

	require.NoError(t, p.IncrementActiveTrades("b1"))
	require.NoError(t, p.IncrementActiveTrades("b1"))
	p.RecordTradeComplete("b1", false) // failure still decrements exactly once
	assert.Equal(t, 1, p.Snapshot()[0].ActiveTrades)
}

func TestConcurrentCounterUpdates(t *testing.T) {
	p := newTestPool(&fakeClient{})
	p.RegisterBot("b1", "b1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.IncrementActiveTrades("b1")
		}()
		go func() {
			defer wg.Done()
			p.RecordTradeComplete("b1", true)
		}()
	}
	wg.Wait()

	got := p.Snapshot()[0].ActiveTrades
	assert.GreaterOrEqual(t, got, 0)
	assert.LessOrEqual(t, got, 50)
}
