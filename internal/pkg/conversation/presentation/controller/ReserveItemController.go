package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/usecase"
)

// ReserveItemController handles the reserve-item endpoint only (one controller per endpoint)
type ReserveItemController struct {
	uc *usecase.ReserveItemUseCase
}

func NewReserveItemController(uc *usecase.ReserveItemUseCase) *ReserveItemController {
	return &ReserveItemController{uc: uc}
}

type reserveItemRequest struct {
	UserID string `json:"user_id"`
}

// Handle reserves the item for the requesting user. The write is attempted
// once; a failure is reported as 502 and not retried.
func (h *ReserveItemController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reserveItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		itemID := c.Param("itemId")

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		err := h.uc.Execute(ctx, usecase.ReserveItemInput{ItemID: itemID, UserID: req.UserID})
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{
				"status":  "reserved",
				"item_id": itemID,
				"user_id": req.UserID,
			})
		case errors.Is(err, conversation.ErrMissingIdentifier):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, conversation.ErrItemNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		case errors.Is(err, usecase.ErrPersistence):
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to reserve item"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected error"})
		}
	}
}
