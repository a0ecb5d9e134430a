package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/souqnear/ranking-service/internal/query"
)

// GetOffersRequest represents the query parameters of GET /api/offers
type GetOffersRequest struct {
	ProductID       string   `form:"productId" binding:"required"`
	MarketID        string   `form:"marketId" binding:"required"`
	Latitude        *float64 `form:"latitude" binding:"required"`
	Longitude       *float64 `form:"longitude" binding:"required"`
	ClientCity      string   `form:"clientCity"`
	PromoMerchantID string   `form:"promoMerchantId"`
}

// GetCommonOffersRequest represents the query parameters of GET /api/common-offers
type GetCommonOffersRequest struct {
	ReferencePointID string `form:"referencePointId" binding:"required"`
	CategoryID       string `form:"categoryId" binding:"required"`
	MarketID         string `form:"marketId" binding:"required"`
}

// NearestReferencePointRequest represents the query parameters of GET /api/reference-points/nearest
type NearestReferencePointRequest struct {
	Latitude  *float64 `form:"latitude" binding:"required"`
	Longitude *float64 `form:"longitude" binding:"required"`
}

// GetSyncDataRequest represents the query parameters of GET /api/sync.
// LastSync is RFC 3339; when omitted every ranked set is returned.
type GetSyncDataRequest struct {
	ReferencePointID string `form:"referencePointId" binding:"required"`
	MarketID         string `form:"marketId" binding:"required"`
	LastSync         string `form:"lastSync"`
}

// GetPromoProductsRequest represents the query parameters of GET /api/promo-products
type GetPromoProductsRequest struct {
	MerchantID       string `form:"merchantId" binding:"required"`
	ReferencePointID string `form:"referencePointId" binding:"required"`
}

// GetOffers returns the offers shown for a product at the shopper's location.
// GET /api/offers
func (h *Handlers) GetOffers(c *gin.Context) {
	var req GetOffersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.query.GetOffers(c.Request.Context(), query.OffersRequest{
		ProductID:       req.ProductID,
		MarketID:        req.MarketID,
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		ClientCity:      req.ClientCity,
		PromoMerchantID: req.PromoMerchantID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetCommonOffers returns the cached common-category offers of a reference point.
// GET /api/common-offers
func (h *Handlers) GetCommonOffers(c *gin.Context) {
	var req GetCommonOffersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	set, err := h.query.GetCommonCategoryOffers(c.Request.Context(), req.ReferencePointID, req.CategoryID, req.MarketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// GetNearestMerchants returns the merchants closest to a reference point.
// GET /api/reference-points/:id/nearest-merchants
func (h *Handlers) GetNearestMerchants(c *gin.Context) {
	set, err := h.query.GetNearestMerchants(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// GetNearestReferencePoint returns the reference point closest to a location.
// GET /api/reference-points/nearest
func (h *Handlers) GetNearestReferencePoint(c *gin.Context) {
	var req NearestReferencePointRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	point, err := h.query.NearestReferencePoint(c.Request.Context(), *req.Latitude, *req.Longitude)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, point)
}

// GetSyncData returns the ranked sets changed since lastSync.
// GET /api/sync
func (h *Handlers) GetSyncData(c *gin.Context) {
	var req GetSyncDataRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	var lastSync time.Time
	if req.LastSync != "" {
		t, err := time.Parse(time.RFC3339, req.LastSync)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lastSync must be an RFC 3339 timestamp"})
			return
		}
		lastSync = t
	}

	data, err := h.query.GetSyncData(c.Request.Context(), req.ReferencePointID, req.MarketID, lastSync)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// GetPromoProducts returns every available offer of a promoted merchant.
// GET /api/promo-products
func (h *Handlers) GetPromoProducts(c *gin.Context) {
	var req GetPromoProductsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	products, err := h.query.GetPromoMerchantProducts(c.Request.Context(), req.MerchantID, req.ReferencePointID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}
