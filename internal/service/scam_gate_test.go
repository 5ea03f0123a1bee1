package service

import (
	"context"
	"testing"
	"time"

	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/steam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateFixture(t *testing.T) (*ScamGate, *fakeTradeClient, *memRiskStore, *RiskEngine) {
	t.Helper()
	client := newFakeTradeClient()
	store := newMemRiskStore()
	engine := NewRiskEngine(store, NewMemoryScoreCache(), 30*24*time.Hour)
	gate := NewScamGate(&fakeInventoryProvider{client: client}, engine, 50)
	return gate, client, store, engine
}

func TestGatePassesCleanTrade(t *testing.T) {
	gate, client, store, _ := newGateFixture(t)
	client.setInventory("seller-1", []steam.Asset{{AssetID: "a1", ItemRef: "karambit-fade", Tradable: true}})

	err := gate.PreTradeCheck(context.Background(), "seller-1", "buyer-1", "karambit-fade")
	assert.NoError(t, err)
	assert.Empty(t, store.events, "a pass has no side effects")
}

func TestGateBlocksMissingItemBeforeRiskScores(t *testing.T) {
	gate, client, store, engine := newGateFixture(t)
	client.setInventory("seller-1", nil)

	// even a clean-scored seller is blocked when the item is gone
	err := gate.PreTradeCheck(context.Background(), "seller-1", "buyer-1", "karambit-fade")
	assert.True(t, apperrors.IsType(err, apperrors.ErrItemUnavail))
	assert.Equal(t, 1, store.countEvents("seller-1", model.RiskItemMissing))

	// the recorded event now contributes to the seller's score
	score, serr := engine.Score(context.Background(), "seller-1")
	require.NoError(t, serr)
	assert.Equal(t, 25.0, score)
}

func TestGateBlocksTradeLockedItem(t *testing.T) {
	gate, client, store, _ := newGateFixture(t)
	client.setInventory("seller-1", []steam.Asset{{AssetID: "a1", ItemRef: "karambit-fade", Tradable: false}})

	err := gate.PreTradeCheck(context.Background(), "seller-1", "buyer-1", "karambit-fade")
	assert.True(t, apperrors.IsType(err, apperrors.ErrItemUnavail))
	assert.Equal(t, 1, store.countEvents("seller-1", model.RiskOwnershipFailure))
}

func TestGateBlocksRiskySeller(t *testing.T) {
	gate, client, _, engine := newGateFixture(t)
	client.setInventory("seller-1", []steam.Asset{{AssetID: "a1", ItemRef: "karambit-fade", Tradable: true}})

	ctx := context.Background()
	// credential rotation (40) + item missing (25) pushes past 50
	require.NoError(t, engine.RecordEvent(ctx, "seller-1", model.RiskCredentialRotation))
	require.NoError(t, engine.RecordEvent(ctx, "seller-1", model.RiskItemMissing))

	err := gate.PreTradeCheck(ctx, "seller-1", "buyer-1", "karambit-fade")
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskBlocked))
}

func TestGateBlocksRiskyBuyer(t *testing.T) {
	gate, client, _, engine := newGateFixture(t)
	client.setInventory("seller-1", []steam.Asset{{AssetID: "a1", ItemRef: "karambit-fade", Tradable: true}})

	ctx := context.Background()
	require.NoError(t, engine.RecordEvent(ctx, "buyer-1", model.RiskCredentialRotation))
	require.NoError(t, engine.RecordEvent(ctx, "buyer-1", model.RiskOwnershipFailure))

	err := gate.PreTradeCheck(ctx, "seller-1", "buyer-1", "karambit-fade")
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskBlocked))
}

func TestGateScoreAtThresholdBlocks(t *testing.T) {
	gate, client, _, engine := newGateFixture(t)
	client.setInventory("seller-1", []steam.Asset{{AssetID: "a1", ItemRef: "karambit-fade", Tradable: true}})

	ctx := context.Background()
	// 25 + 25 lands exactly on the threshold
	require.NoError(t, engine.RecordEvent(ctx, "seller-1", model.RiskItemMissing))
	require.NoError(t, engine.RecordEvent(ctx, "seller-1", model.RiskOwnershipFailure))

	err := gate.PreTradeCheck(ctx, "seller-1", "buyer-1", "karambit-fade")
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskBlocked))
}
