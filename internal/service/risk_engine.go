package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/store"
)

// RiskEngine 维护每个身份的加权风险分。
// 每次新事件落库后同步重算，下一次检查读到的就是新值。
type RiskEngine struct {
	store   store.RiskStore
	cache   store.ScoreCache
	weights map[model.RiskEventType]float64
	window  time.Duration
	log     *slog.Logger
}

func NewRiskEngine(riskStore store.RiskStore, cache store.ScoreCache, window time.Duration) *RiskEngine {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &RiskEngine{
		store:   riskStore,
		cache:   cache,
		weights: model.DefaultRiskWeights,
		window:  window,
		log:     logger.Component("risk"),
	}
}

// RecordEvent persists a new risk event and synchronously recomputes
// the subject's cached score.
func (e *RiskEngine) RecordEvent(ctx context.Context, subjectID string, event model.RiskEventType) error {
	rec := model.RiskRecord{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Event:     event,
		Weight:    e.weights[event],
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertEvent(ctx, rec); err != nil {
		return err
	}
	score, err := e.Recalculate(ctx, subjectID)
	if err != nil {
		return err
	}
	e.log.Info("risk event recorded", "subject_id", subjectID, "event", event, "score", score)
	return nil
}

// Recalculate sums unresolved event weights inside the rolling window
// and refreshes the cache.
func (e *RiskEngine) Recalculate(ctx context.Context, subjectID string) (float64, error) {
	since := time.Now().UTC().Add(-e.window)
	recs, err := e.store.UnresolvedSince(ctx, subjectID, since)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, rec := range recs {
		total += rec.Weight
	}
	err = e.cache.SetScore(ctx, model.RiskScore{
		SubjectID:    subjectID,
		Score:        total,
		CalculatedAt: time.Now().UTC(),
	})
	return total, err
}

// Score returns the cached risk score, computing it on a cache miss.
func (e *RiskEngine) Score(ctx context.Context, subjectID string) (float64, error) {
	cached, err := e.cache.GetScore(ctx, subjectID)
	if err != nil {
		e.log.Warn("score cache read failed, recomputing", "subject_id", subjectID, "error", err)
	} else if cached != nil {
		return cached.Score, nil
	}
	return e.Recalculate(ctx, subjectID)
}

// RegisterCredential captures the fingerprint of the party's
// external-platform credential at registration time.
func (e *RiskEngine) RegisterCredential(ctx context.Context, subjectID, credential string) error {
	return e.store.SaveFingerprint(ctx, subjectID, fingerprint(credential))
}

// VerifyCredential compares the presented credential against the
// registered fingerprint. A mismatch is itself a high-weight risk
// event: unauthorized credential rotation precedes inventory theft.
func (e *RiskEngine) VerifyCredential(ctx context.Context, subjectID, credential string) (bool, error) {
	saved, err := e.store.GetFingerprint(ctx, subjectID)
	if err != nil {
		return false, err
	}
	fp := fingerprint(credential)
	if saved == "" {
		// first sighting, capture it
		return true, e.store.SaveFingerprint(ctx, subjectID, fp)
	}
	if saved == fp {
		return true, nil
	}
	if err := e.RecordEvent(ctx, subjectID, model.RiskCredentialRotation); err != nil {
		e.log.Error("failed to record credential rotation", "subject_id", subjectID, "error", err)
	}
	return false, nil
}

func fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
