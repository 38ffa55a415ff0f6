package intent

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/auth"
	"github.com/clearhold/clearhold/internal/validation"
)

// Handler exposes the intent registry over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates the HTTP handler set.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the intent API on a router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/intents", h.Create)
	rg.GET("/intents", h.List)
	rg.GET("/intents/:orderId", h.Get)
	rg.POST("/intents/:orderId/cancel", h.Cancel)
}

// Create handles POST /intents. The authenticated caller is the payee.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidPrincipal("payer", req.Payer),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}
	req.Metadata = validation.SanitizeString(req.Metadata, validation.MaxMetadataLength)

	in, err := h.service.Create(c.Request.Context(), auth.Caller(c), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

// Get handles GET /intents/:orderId.
func (h *Handler) Get(c *gin.Context) {
	in, err := h.service.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// List handles GET /intents with optional status and limit filters.
func (h *Handler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	intents, err := h.service.List(c.Request.Context(), Status(c.Query("status")), limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if intents == nil {
		intents = []*Intent{}
	}
	c.JSON(http.StatusOK, gin.H{"intents": intents, "count": len(intents)})
}

// Cancel handles POST /intents/:orderId/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	in, err := h.service.Cancel(c.Request.Context(), c.Param("orderId"), auth.Caller(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrIntentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "intent_not_found",
			"message": "No intent for that order",
		})
	case errors.Is(err, ErrDuplicateOrder):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_order",
			"message": "An intent already exists for this order",
		})
	case errors.Is(err, ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_pending",
			"message": "The intent has already been paid or cancelled",
		})
	case errors.Is(err, ErrNotIntentParty):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_authorized",
			"message": "Only the payer or payee may do this",
		})
	case errors.Is(err, ErrInvalidIntent):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
