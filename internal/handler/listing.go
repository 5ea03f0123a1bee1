package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/model"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/store"
)

type ListingHandler struct {
	ledger store.Ledger
}

func NewListingHandler(ledger store.Ledger) *ListingHandler {
	return &ListingHandler{ledger: ledger}
}

type createListingRequest struct {
	SellerID string          `json:"seller_id" binding:"required"`
	ItemRef  string          `json:"item_ref" binding:"required"`
	AssetID  string          `json:"asset_id" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
}

func (h *ListingHandler) CreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		c.Abort()
		return
	}
	if !req.Price.IsPositive() {
		c.Error(apperrors.NewInvalidRequest("price must be positive"))
		c.Abort()
		return
	}

	listing := &model.Listing{
		ID:       uuid.NewString(),
		SellerID: req.SellerID,
		ItemRef:  req.ItemRef,
		AssetID:  req.AssetID,
		Price:    req.Price,
		Status:   model.ListingActive,
	}
	if err := h.ledger.CreateListing(c.Request.Context(), listing); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusCreated, listing)
}

func (h *ListingHandler) GetListing(c *gin.Context) {
	listing, err := h.ledger.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, listing)
}
