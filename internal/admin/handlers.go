package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/escrow"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	escrows    EscrowService
	reputation ReputationAdmin
	adminAddr  string // actor recorded on emergency refunds
}

// NewHandler creates a new admin handler.
func NewHandler(escrows EscrowService, rep ReputationAdmin, adminAddr string) *Handler {
	return &Handler{
		escrows:    escrows,
		reputation: rep,
		adminAddr:  strings.ToLower(adminAddr),
	}
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/params", h.getParams)
	r.PUT("/admin/params", h.updateParams)
	r.GET("/admin/payouts/stuck", h.listStuckPayouts)
	r.POST("/admin/escrows/:id/retry-payout", h.retryPayout)
	r.POST("/admin/escrows/:id/emergency-refund", h.emergencyRefund)
	r.GET("/admin/reputation", h.listReputation)
	r.POST("/admin/reputation/:address/adjust", h.adjustReputation)
}

func (h *Handler) getParams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"params": h.escrows.Params()})
}

// paramsRequest carries a partial parameter update. Durations are Go
// duration strings ("72h").
type paramsRequest struct {
	PlatformFeeBps      *int64  `json:"platformFeeBps"`
	HighValueThreshold  *string `json:"highValueThreshold"`
	MultiSigThreshold   *int    `json:"multiSigThreshold"`
	TimeLockDuration    *string `json:"timeLockDuration"`
	EmergencyWindow     *string `json:"emergencyWindow"`
	BondBps             *int64  `json:"bondBps"`
	BondRequired        *bool   `json:"bondRequired"`
	DecisiveMajorityBps *int64  `json:"decisiveMajorityBps"`
}

func (h *Handler) updateParams(c *gin.Context) {
	var req paramsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	p := h.escrows.Params()
	if req.PlatformFeeBps != nil {
		p.PlatformFeeBps = *req.PlatformFeeBps
	}
	if req.HighValueThreshold != nil {
		p.HighValueThreshold = *req.HighValueThreshold
	}
	if req.MultiSigThreshold != nil {
		p.MultiSigThreshold = *req.MultiSigThreshold
	}
	if req.TimeLockDuration != nil {
		d, err := time.ParseDuration(*req.TimeLockDuration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "timeLockDuration: " + err.Error()})
			return
		}
		p.TimeLockDuration = d
	}
	if req.EmergencyWindow != nil {
		d, err := time.ParseDuration(*req.EmergencyWindow)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "emergencyWindow: " + err.Error()})
			return
		}
		p.EmergencyWindow = d
	}
	if req.BondBps != nil {
		p.BondBps = *req.BondBps
	}
	if req.BondRequired != nil {
		p.BondRequired = *req.BondRequired
	}
	if req.DecisiveMajorityBps != nil {
		p.DecisiveMajorityBps = *req.DecisiveMajorityBps
	}

	if err := h.escrows.SetParams(p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_params", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"params": h.escrows.Params()})
}

// listStuckPayouts returns resolved escrows that still have custody
// transfers waiting to be executed.
func (h *Handler) listStuckPayouts(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	escrows, err := h.escrows.ListPendingPayouts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stuck payouts", "message": err.Error()})
		return
	}
	if escrows == nil {
		escrows = []*escrow.Escrow{}
	}

	c.JSON(http.StatusOK, gin.H{"escrows": escrows, "count": len(escrows)})
}

func (h *Handler) retryPayout(c *gin.Context) {
	e, err := h.escrows.RetryPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e, "remainingLegs": len(e.PendingPayouts)})
}

func (h *Handler) emergencyRefund(c *gin.Context) {
	e, err := h.escrows.EmergencyRefund(c.Request.Context(), c.Param("id"), h.adminAddr)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

func (h *Handler) listReputation(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := h.reputation.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reputation", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

type adjustRequest struct {
	Delta int64 `json:"delta"`
}

func (h *Handler) adjustReputation(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Delta == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "delta must be a non-zero integer"})
		return
	}

	addr := strings.ToLower(c.Param("address"))
	if err := h.reputation.Adjust(c.Request.Context(), addr, req.Delta); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to adjust reputation", "message": err.Error()})
		return
	}

	score, err := h.reputation.ScoreOf(c.Request.Context(), addr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read score", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"identity": addr, "score": score})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrAlreadyResolved),
		errors.Is(err, escrow.ErrWindowExpired),
		errors.Is(err, escrow.ErrPayoutInProgress):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrTransferFailure):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
