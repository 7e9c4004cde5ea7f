package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Angelica137/kindly/internal/pkg/conversation/application/usecase"
)

// ListConversationsController returns the enriched conversation list of a user
type ListConversationsController struct {
	uc *usecase.ListConversationsUseCase
}

func NewListConversationsController(uc *usecase.ListConversationsUseCase) *ListConversationsController {
	return &ListConversationsController{uc: uc}
}

func (h *ListConversationsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		list, err := h.uc.Execute(ctx, usecase.ListConversationsInput{UserID: c.Query("user_id")})
		if err != nil {
			if errors.Is(err, usecase.ErrMissingUserID) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": list})
	}
}
