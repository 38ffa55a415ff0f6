package escrow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/auth"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/validation"
)

// OrderIntent is the upstream purchase intent an escrow can be minted from.
// Payer is empty on an open intent anyone may fund.
type OrderIntent struct {
	OrderID      string
	Payer        string
	Payee        string
	Asset        string
	Amount       string
	Metadata     string
	ReleaseDelay string
}

// IntentSource lets the escrow API consume an order-intent registry.
type IntentSource interface {
	PendingIntent(ctx context.Context, orderID string) (*OrderIntent, error)
	MarkPaid(ctx context.Context, orderID, escrowID string) error
}

// Handler exposes the factory over HTTP.
type Handler struct {
	factory *Factory
	intents IntentSource
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler set. intents may be nil when no
// order-intent registry is wired.
func NewHandler(factory *Factory, intents IntentSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{factory: factory, intents: intents, logger: logger}
}

// RegisterRoutes mounts the escrow API on a router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/escrows", h.Create)
	rg.GET("/escrows", h.List)
	rg.GET("/escrows/:id", h.Get)
	rg.GET("/escrows/:id/events", h.EscrowEvents)
	rg.GET("/orders/:orderId/escrow", h.GetByOrder)
	rg.POST("/orders/:orderId/escrow", h.CreateFromIntent)
	rg.POST("/escrows/:id/release", h.Release)
	rg.POST("/escrows/:id/refund", h.Refund)
	rg.POST("/escrows/:id/auto-release", h.AutoRelease)
	rg.POST("/escrows/:id/dispute", h.Dispute)
	rg.POST("/escrows/:id/resolve", h.Resolve)
	rg.GET("/stats", h.GetStats)
	rg.PUT("/platform/fee-collector", h.SetFeeCollector)
	rg.PUT("/platform/arbitrator", h.SetArbitrator)
	rg.PUT("/platform/fee", h.SetFee)
}

// escrowView decorates a record with the computed fields clients keep
// recomputing otherwise.
type escrowView struct {
	*Escrow
	StatusLabel          string `json:"statusLabel"`
	FeeAmount            string `json:"feeAmount,omitempty"`
	NetAmount            string `json:"netAmount,omitempty"`
	SecondsUntilRelease  int64  `json:"secondsUntilRelease"`
	AutoReleaseAvailable bool   `json:"autoReleaseAvailable"`
}

func (h *Handler) view(esc *Escrow) escrowView {
	v := escrowView{
		Escrow:      esc,
		StatusLabel: esc.Status.Label(),
	}
	if fee, net, err := esc.FeeBreakdown(); err == nil {
		v.FeeAmount = fee
		v.NetAmount = net
	}
	now := h.factory.now()
	v.SecondsUntilRelease = int64(esc.TimeRemaining(now).Seconds())
	v.AutoReleaseAvailable = esc.AutoReleasable(now)
	return v
}

// Create handles POST /escrows. The authenticated caller is the payer.
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
		validation.ValidPrincipal("payee", req.Payee),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}
	req.Metadata = validation.SanitizeString(req.Metadata, validation.MaxMetadataLength)

	esc, err := h.factory.CreateEscrow(c.Request.Context(), auth.Caller(c), req)
	metrics.RecordOperation("create", err)
	if err != nil {
		h.renderError(c, err)
		return
	}
	metrics.EscrowsCreatedTotal.Inc()
	c.JSON(http.StatusCreated, h.view(esc))
}

// CreateFromIntent handles POST /orders/:orderId/escrow. It funds an escrow
// from a pending order intent and marks the intent paid.
func (h *Handler) CreateFromIntent(c *gin.Context) {
	if h.intents == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "intents_disabled",
			"message": "No order-intent registry is configured",
		})
		return
	}

	orderID := c.Param("orderId")
	caller := auth.Caller(c)

	oi, err := h.intents.PendingIntent(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "intent_not_found",
			"message": "No pending intent for this order",
		})
		return
	}
	if oi.Payer != "" && !strings.EqualFold(caller, oi.Payer) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_payer",
			"message": "This order is reserved for a different payer",
		})
		return
	}

	esc, err := h.factory.CreateEscrow(c.Request.Context(), caller, CreateRequest{
		OrderID:      oi.OrderID,
		Payee:        oi.Payee,
		Asset:        oi.Asset,
		Amount:       oi.Amount,
		Metadata:     oi.Metadata,
		ReleaseDelay: oi.ReleaseDelay,
	})
	metrics.RecordOperation("create_from_intent", err)
	if err != nil {
		h.renderError(c, err)
		return
	}
	metrics.EscrowsCreatedTotal.Inc()

	if err := h.intents.MarkPaid(c.Request.Context(), orderID, esc.ID); err != nil {
		h.logger.Error("failed to mark intent paid",
			"order_id", orderID, "escrow_id", esc.ID, "error", err)
	}
	c.JSON(http.StatusCreated, h.view(esc))
}

// List handles GET /escrows with optional status, participant, and limit
// query filters.
func (h *Handler) List(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 100)

	var (
		escrows []*Escrow
		err     error
	)
	switch {
	case c.Query("status") != "":
		escrows, err = h.factory.ListByStatus(c.Request.Context(), Status(c.Query("status")), limit)
	case c.Query("participant") != "":
		escrows, err = h.factory.ListByParticipant(c.Request.Context(), c.Query("participant"), limit)
	default:
		escrows, err = h.factory.List(c.Request.Context(), limit)
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	views := make([]escrowView, 0, len(escrows))
	for _, esc := range escrows {
		views = append(views, h.view(esc))
	}
	c.JSON(http.StatusOK, gin.H{"escrows": views, "count": len(views)})
}

// Get handles GET /escrows/:id.
func (h *Handler) Get(c *gin.Context) {
	esc, err := h.factory.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(esc))
}

// GetByOrder handles GET /orders/:orderId/escrow.
func (h *Handler) GetByOrder(c *gin.Context) {
	esc, err := h.factory.GetByOrderID(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(esc))
}

// EscrowEvents handles GET /escrows/:id/events.
func (h *Handler) EscrowEvents(c *gin.Context) {
	// 404 for unknown escrows rather than an empty history.
	if _, err := h.factory.Get(c.Request.Context(), c.Param("id")); err != nil {
		h.renderError(c, err)
		return
	}
	events, err := h.factory.Events(c.Request.Context(), c.Param("id"), parseLimit(c.Query("limit"), 100))
	if err != nil {
		h.renderError(c, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// Release handles POST /escrows/:id/release.
func (h *Handler) Release(c *gin.Context) {
	esc, err := h.factory.Release(c.Request.Context(), c.Param("id"), auth.Caller(c))
	metrics.RecordOperation("release", err)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(esc))
}

// Refund handles POST /escrows/:id/refund.
func (h *Handler) Refund(c *gin.Context) {
	esc, err := h.factory.Refund(c.Request.Context(), c.Param("id"), auth.Caller(c))
	metrics.RecordOperation("refund", err)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(esc))
}

// AutoRelease handles POST /escrows/:id/auto-release.
func (h *Handler) AutoRelease(c *gin.Context) {
	esc, err := h.factory.AutoRelease(c.Request.Context(), c.Param("id"), auth.Caller(c))
	metrics.RecordOperation("auto_release", err)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(esc))
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Dispute handles POST /escrows/:id/dispute.
func (h *Handler) Dispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A non-empty reason is required",
		})
		return
	}

	esc, err := h.factory.RaiseDispute(c.Request.Context(), c.Param("id"), auth.Caller(c), req.Reason)
	metrics.RecordOperation("dispute", err)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(esc))
}

type resolveRequest struct {
	Winner string `json:"winner" binding:"required"`
}

// Resolve handles POST /escrows/:id/resolve. Arbitrator only.
func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A winner is required",
		})
		return
	}

	esc, err := h.factory.ResolveDispute(c.Request.Context(), c.Param("id"), auth.Caller(c), req.Winner)
	metrics.RecordOperation("resolve", err)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(esc))
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.factory.Stats(c.Request.Context()))
}

type feeCollectorRequest struct {
	FeeCollector string `json:"feeCollector" binding:"required"`
}

// SetFeeCollector handles PUT /platform/fee-collector. Owner only.
func (h *Handler) SetFeeCollector(c *gin.Context) {
	var req feeCollectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A fee collector principal is required",
		})
		return
	}
	if err := h.factory.SetFeeCollector(c.Request.Context(), auth.Caller(c), req.FeeCollector); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeCollector": req.FeeCollector})
}

type arbitratorRequest struct {
	Arbitrator string `json:"arbitrator" binding:"required"`
}

// SetArbitrator handles PUT /platform/arbitrator. Owner only.
func (h *Handler) SetArbitrator(c *gin.Context) {
	var req arbitratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "An arbitrator principal is required",
		})
		return
	}
	if err := h.factory.SetArbitrator(c.Request.Context(), auth.Caller(c), req.Arbitrator); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"arbitrator": req.Arbitrator})
}

type feeRequest struct {
	FeeBips *int `json:"feeBips" binding:"required"`
}

// SetFee handles PUT /platform/fee. Owner only.
func (h *Handler) SetFee(c *gin.Context) {
	var req feeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A feeBips value is required",
		})
		return
	}
	if errs := validation.Validate(validation.ValidBips("feeBips", *req.FeeBips)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}
	if err := h.factory.SetDefaultFeeBips(c.Request.Context(), auth.Caller(c), *req.FeeBips); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeBips": *req.FeeBips})
}

// renderError maps domain errors onto HTTP responses.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEscrowNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "escrow_not_found",
			"message": "No escrow with that identifier",
		})
	case errors.Is(err, ErrEmptyOrderID),
		errors.Is(err, ErrNilParty),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidFeeBips),
		errors.Is(err, ErrEmptyReason),
		errors.Is(err, ErrInvalidWinner):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotPayer),
		errors.Is(err, ErrNotPayee),
		errors.Is(err, ErrNotParty),
		errors.Is(err, ErrNotArbitrator),
		errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_authorized",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_status",
			"message": "The escrow's status does not permit this operation",
		})
	case errors.Is(err, ErrTooEarly):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "too_early",
			"message": "The auto-release window has not opened yet",
		})
	case errors.Is(err, ErrDuplicateOrderID):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_order",
			"message": "An escrow already exists for this order",
		})
	case errors.Is(err, ErrInsufficientAllowance):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_allowance",
			"message": "Grant the factory a sufficient allowance first",
		})
	case errors.Is(err, ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_balance",
			"message": "The payer's balance does not cover the amount",
		})
	default:
		h.logger.Error("unhandled escrow error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return fallback
	}
	return n
}
