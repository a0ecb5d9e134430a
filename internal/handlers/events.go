package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// OfferEventAccepted is returned when an offer change was queued.
type OfferEventAccepted struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// OfferEventFailed is returned when an offer change was only partially applied.
type OfferEventFailed struct {
	Error   string                 `json:"error"`
	Summary *ranking.UpdateSummary `json:"summary,omitempty"`
}

// PostOfferEvent receives an offer-change notification. With a queue
// configured the change is persisted and applied by the workers; otherwise it
// is applied before responding.
// POST /internal/offers/events
func (h *Handlers) PostOfferEvent(c *gin.Context) {
	var change ranking.OfferChange
	if err := c.ShouldBindJSON(&change); err != nil {
		badRequest(c, err)
		return
	}
	if change.Offer.Merchant.ID == "" {
		change.Offer.Merchant.ID = change.Offer.MerchantID
	}
	if err := ranking.ValidateChange(change); err != nil {
		respondError(c, err)
		return
	}

	if h.enqueuer != nil {
		taskID, err := h.enqueuer.EnqueueOfferChange(c.Request.Context(), change)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, OfferEventAccepted{TaskID: taskID, Status: "queued"})
		return
	}

	summary, err := h.updater.OnOfferChanged(c.Request.Context(), change)
	if err != nil {
		if summary != nil {
			c.JSON(http.StatusInternalServerError, OfferEventFailed{Error: err.Error(), Summary: summary})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

