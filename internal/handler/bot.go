package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skinvault/escrowd/internal/botpool"
)

type BotHandler struct {
	pool *botpool.Pool
}

func NewBotHandler(pool *botpool.Pool) *BotHandler {
	return &BotHandler{pool: pool}
}

// ListBots exposes the pool's current view for operators: load,
// online/health flags, inventory counts.
func (h *BotHandler) ListBots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": h.pool.Snapshot()})
}
