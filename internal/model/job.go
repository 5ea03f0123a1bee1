package model

import "time"

// JobStatus 队列任务状态
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BatchItem is one seller's sub-group inside a batch job.
type BatchItem struct {
	TradeID  string `json:"trade_id"`
	SellerID string `json:"seller_id"`
}

// JobPayload references exactly one escrow trade, or a batch of them.
type JobPayload struct {
	TradeID string      `json:"trade_id,omitempty"`
	Batch   []BatchItem `json:"batch,omitempty"`
}

// TradeJob 队列中的一个处理单元。Priority 1 最高、10 最低。
type TradeJob struct {
	ID             string     `json:"id"`
	Priority       int        `json:"priority"`
	Payload        JobPayload `json:"payload"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	Stalls         int        `json:"stalls"`
	LeaseToken     string     `json:"lease_token,omitempty"`
	LeaseExpiresAt time.Time  `json:"lease_expires_at,omitempty"`
	Status         JobStatus  `json:"status"`
	WebhookURL     string     `json:"webhook_url,omitempty"`
	SubmitterID    string     `json:"submitter_id,omitempty"`
	NextRunAt      time.Time  `json:"next_run_at"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	LastError      string     `json:"last_error,omitempty"`
}
