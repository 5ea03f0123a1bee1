package model

import "time"

// RiskEventType 风险事件类型，权重越高越接近盗号/盗物前兆
type RiskEventType string

const (
	RiskCredentialRotation RiskEventType = "credential_rotation" // unauthorized credential change
	RiskItemMissing        RiskEventType = "item_missing"        // listed item gone at verification
	RiskOwnershipFailure   RiskEventType = "ownership_failure"   // live inventory check failed
	RiskRapidCancellation  RiskEventType = "rapid_cancellation"
	RiskGateBlock          RiskEventType = "gate_block" // trade blocked by the scam gate
)

// DefaultRiskWeights maps each event type onto its score contribution.
var DefaultRiskWeights = map[RiskEventType]float64{
	RiskCredentialRotation: 40,
	RiskItemMissing:        25,
	RiskOwnershipFailure:   25,
	RiskRapidCancellation:  5,
	RiskGateBlock:          1,
}

// RiskRecord 针对某个身份的一条风险事件
type RiskRecord struct {
	ID        string        `db:"id" json:"id"`
	SubjectID string        `db:"subject_id" json:"subject_id"`
	Event     RiskEventType `db:"event" json:"event"`
	Weight    float64       `db:"weight" json:"weight"`
	Resolved  bool          `db:"resolved" json:"resolved"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// RiskScore 缓存的加权风险分，新增事件后同步重算
type RiskScore struct {
	SubjectID    string    `json:"subject_id"`
	Score        float64   `json:"score"`
	CalculatedAt time.Time `json:"calculated_at"`
}
