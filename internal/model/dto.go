package model

// TradeRequest is the inbound payload for initiating an escrow trade.
type TradeRequest struct {
	BuyerID    string `json:"buyer_id" binding:"required"`
	ListingID  string `json:"listing_id" binding:"required"`
	Queue      bool   `json:"queue"`
	Priority   int    `json:"priority"`
	VIP        bool   `json:"vip"`
	WebhookURL string `json:"webhook_url"`
}

// EnqueueResponse 返回排队结果
type EnqueueResponse struct {
	JobID    string `json:"job_id"`
	Priority int    `json:"priority"`
	Status   string `json:"status"`
}
