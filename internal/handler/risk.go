package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/service"
)

type RiskHandler struct {
	engine *service.RiskEngine
}

func NewRiskHandler(engine *service.RiskEngine) *RiskHandler {
	return &RiskHandler{engine: engine}
}

func (h *RiskHandler) GetScore(c *gin.Context) {
	subjectID := c.Param("subject")
	score, err := h.engine.Score(c.Request.Context(), subjectID)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": subjectID, "score": score})
}

type verifyCredentialRequest struct {
	SubjectID  string `json:"subject_id" binding:"required"`
	Credential string `json:"credential" binding:"required"`
}

// VerifyCredential checks the presented platform credential against
// the stored fingerprint. A mismatch is recorded as a risk event
// before the negative result is returned.
func (h *RiskHandler) VerifyCredential(c *gin.Context) {
	var req verifyCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		c.Abort()
		return
	}
	ok, err := h.engine.VerifyCredential(c.Request.Context(), req.SubjectID, req.Credential)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": req.SubjectID, "valid": ok})
}
