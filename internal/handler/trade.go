package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/queue"
	"github.com/skinvault/escrowd/internal/service"
	"github.com/skinvault/escrowd/internal/store"
)

type TradeHandler struct {
	orch   *service.Orchestrator
	queue  *queue.Queue
	ledger store.Ledger
}

func NewTradeHandler(orch *service.Orchestrator, q *queue.Queue, ledger store.Ledger) *TradeHandler {
	return &TradeHandler{orch: orch, queue: q, ledger: ledger}
}

// CreateTrade initiates an escrow trade for a listing. With queue=true
// the payment/pickup pipeline runs asynchronously and the response
// carries the job id to poll.
func (h *TradeHandler) CreateTrade(c *gin.Context) {
	var req model.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		c.Abort()
		return
	}

	trade, err := h.orch.InitiateTrade(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	if !req.Queue {
		c.JSON(http.StatusCreated, trade)
		return
	}

	job, err := h.queue.Enqueue(model.JobPayload{TradeID: trade.ID}, queue.EnqueueOptions{
		Priority:   req.Priority,
		WebhookURL: req.WebhookURL,
		VIP:        req.VIP,
		Submitter:  req.BuyerID,
	})
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"trade": trade,
		"job": model.EnqueueResponse{
			JobID:    job.ID,
			Priority: job.Priority,
			Status:   string(job.Status),
		},
	})
}

type batchRequest struct {
	Items      []model.BatchItem `json:"items" binding:"required"`
	Priority   int               `json:"priority"`
	VIP        bool              `json:"vip"`
	WebhookURL string            `json:"webhook_url"`
	Submitter  string            `json:"submitter"`
}

// CreateBatch enqueues one job covering several already-initiated
// trades, grouped per seller during processing.
func (h *TradeHandler) CreateBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		c.Abort()
		return
	}

	job, err := h.queue.Enqueue(model.JobPayload{Batch: req.Items}, queue.EnqueueOptions{
		Priority:   req.Priority,
		WebhookURL: req.WebhookURL,
		VIP:        req.VIP,
		Submitter:  req.Submitter,
	})
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusAccepted, model.EnqueueResponse{
		JobID:    job.ID,
		Priority: job.Priority,
		Status:   string(job.Status),
	})
}

func (h *TradeHandler) GetTrade(c *gin.Context) {
	trade, err := h.ledger.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	txns, err := h.ledger.TransactionsForTrade(c.Request.Context(), trade.ID)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": trade, "transactions": txns})
}

// Pay captures the buyer's balance payment and kicks off the
// seller-side pickup. Safe to retry.
func (h *TradeHandler) Pay(c *gin.Context) {
	tradeID := c.Param("id")
	if err := h.orch.CapturePayment(c.Request.Context(), tradeID); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	trade, err := h.ledger.GetTrade(c.Request.Context(), tradeID)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (h *TradeHandler) GetJob(c *gin.Context) {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		c.Error(apperrors.New(apperrors.ErrNotFound, "job not found", nil))
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, job)
}
