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

// GetItemController handles fetching one item with the viewer's permissions
type GetItemController struct {
	uc *usecase.GetItemUseCase
}

func NewGetItemController(uc *usecase.GetItemUseCase) *GetItemController {
	return &GetItemController{uc: uc}
}

type donorResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type getItemResponse struct {
	Item       conversation.Item `json:"item"`
	Donor      *donorResponse    `json:"donor"`
	CanMessage bool              `json:"can_message"`
}

func (h *GetItemController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		out, err := h.uc.Execute(ctx, usecase.GetItemInput{
			ItemID:   c.Param("itemId"),
			ViewerID: c.Query("user_id"),
		})
		if err != nil {
			switch {
			case errors.Is(err, conversation.ErrItemNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			case errors.Is(err, conversation.ErrMissingIdentifier):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load item"})
			}
			return
		}

		resp := getItemResponse{Item: out.Item, CanMessage: out.CanMessage}
		if out.Donor != nil {
			resp.Donor = &donorResponse{ID: out.Donor.ID, Username: out.Donor.Username, Email: out.Donor.Email}
		}
		c.JSON(http.StatusOK, resp)
	}
}
