package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskScoreSumsWeightedEvents(t *testing.T) {
	store := newMemRiskStore()
	engine := NewRiskEngine(store, NewMemoryScoreCache(), 30*24*time.Hour)
	ctx := context.Background()

	require.NoError(t, engine.RecordEvent(ctx, "user-1", model.RiskItemMissing))       // 25
	require.NoError(t, engine.RecordEvent(ctx, "user-1", model.RiskRapidCancellation)) // 5
	require.NoError(t, engine.RecordEvent(ctx, "user-1", model.RiskGateBlock))         // 1

	score, err := engine.Score(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 31.0, score)

	// other subjects unaffected
	other, err := engine.Score(ctx, "user-2")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestRiskScoreRecomputedSynchronously(t *testing.T) {
	store := newMemRiskStore()
	engine := NewRiskEngine(store, NewMemoryScoreCache(), 30*24*time.Hour)
	ctx := context.Background()

	score, err := engine.Score(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, score)

	// the very next read after recording must see the new weight
	require.NoError(t, engine.RecordEvent(ctx, "user-1", model.RiskCredentialRotation))
	score, err = engine.Score(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, score)
}

func TestRiskScoreIgnoresEventsOutsideWindow(t *testing.T) {
	store := newMemRiskStore()
	engine := NewRiskEngine(store, NewMemoryScoreCache(), 30*24*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.InsertEvent(ctx, model.RiskRecord{
		ID:        uuid.NewString(),
		SubjectID: "user-1",
		Event:     model.RiskItemMissing,
		Weight:    25,
		CreatedAt: time.Now().UTC().Add(-45 * 24 * time.Hour),
	}))
	require.NoError(t, store.InsertEvent(ctx, model.RiskRecord{
		ID:        uuid.NewString(),
		SubjectID: "user-1",
		Event:     model.RiskRapidCancellation,
		Weight:    5,
		CreatedAt: time.Now().UTC(),
	}))

	score, err := engine.Recalculate(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, score, "events older than the rolling window do not count")
}

func TestRiskScoreIgnoresResolvedEvents(t *testing.T) {
	store := newMemRiskStore()
	engine := NewRiskEngine(store, NewMemoryScoreCache(), 30*24*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.InsertEvent(ctx, model.RiskRecord{
		ID:        uuid.NewString(),
		SubjectID: "user-1",
		Event:     model.RiskItemMissing,
		Weight:    25,
		Resolved:  true,
		CreatedAt: time.Now().UTC(),
	}))

	score, err := engine.Recalculate(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestVerifyCredential(t *testing.T) {
	store := newMemRiskStore()
	engine := NewRiskEngine(store, NewMemoryScoreCache(), 30*24*time.Hour)
	ctx := context.Background()

	// first sighting captures the fingerprint
	ok, err := engine.VerifyCredential(ctx, "user-1", "trade-token-abc")
	require.NoError(t, err)
	assert.True(t, ok)

	// same credential verifies
	ok, err = engine.VerifyCredential(ctx, "user-1", "trade-token-abc")
	require.NoError(t, err)
	assert.True(t, ok)

	// rotation fails verification and records a high-weight event
	ok, err = engine.VerifyCredential(ctx, "user-1", "trade-token-xyz")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, store.countEvents("user-1", model.RiskCredentialRotation))

	score, err := engine.Score(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, score)
}

func TestVerifyCredentialStoresFingerprintNotSecret(t *testing.T) {
	store := newMemRiskStore()
	engine := NewRiskEngine(store, NewMemoryScoreCache(), 0)
	ctx := context.Background()

	require.NoError(t, engine.RegisterCredential(ctx, "user-1", "trade-token-abc"))
	saved, err := store.GetFingerprint(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, "trade-token-abc", saved)
	assert.Len(t, saved, 64) // sha256 hex
}
