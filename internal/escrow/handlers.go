package escrow

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler exposes the escrow lifecycle over HTTP. All routes require
// API-key auth; the authenticated identity arrives via the authAddr
// context key and is the acting party for every operation.
type Handler struct {
	service *Service
}

// NewHandler creates an escrow HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires the escrow routes onto an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.Stats)

	esc := rg.Group("/escrows")
	esc.POST("", h.Create)
	esc.GET("", h.List)
	esc.GET("/:id", h.Get)
	esc.POST("/:id/cancel", h.Cancel)
	esc.POST("/:id/lock", h.LockFunds)
	esc.POST("/:id/confirm", h.ConfirmDelivery)
	esc.POST("/:id/approve", h.Approve)
	esc.POST("/:id/dispute", h.OpenDispute)
	esc.POST("/:id/evidence", h.SubmitEvidence)
	esc.POST("/:id/votes", h.CastVote)
	esc.POST("/:id/signatures", h.SignRelease)
	esc.POST("/:id/timelock", h.ActivateTimeLock)
	esc.POST("/:id/timelock/release", h.ExecuteTimeLockRelease)
}

func caller(c *gin.Context) (string, bool) {
	addr := c.GetString("authAddr")
	if addr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	return addr, true
}

type createRequest struct {
	Payee                  string    `json:"payee" binding:"required"`
	Asset                  string    `json:"asset"`
	Amount                 string    `json:"amount" binding:"required"`
	DeliveryDeadline       time.Time `json:"deliveryDeadline"`
	DisableEmergencyRefund bool      `json:"disableEmergencyRefund"`
}

func (h *Handler) Create(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset := req.Asset
	if asset == "" {
		asset = "native"
	}
	e, err := h.service.Create(c.Request.Context(), CreateRequest{
		Payer:                  addr,
		Payee:                  req.Payee,
		Asset:                  asset,
		Amount:                 req.Amount,
		DeliveryDeadline:       req.DeliveryDeadline,
		DisableEmergencyRefund: req.DisableEmergencyRefund,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	party := c.DefaultQuery("party", addr)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	escrows, err := h.service.ListByParty(c.Request.Context(), party, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if escrows == nil {
		escrows = []*Escrow{}
	}
	c.JSON(http.StatusOK, gin.H{"escrows": escrows, "count": len(escrows)})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Cancel(c *gin.Context) {
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.Cancel(c.Request.Context(), c.Param("id"), addr)
	})
}

func (h *Handler) LockFunds(c *gin.Context) {
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.LockFunds(c.Request.Context(), c.Param("id"), addr)
	})
}

type confirmRequest struct {
	DeliveryInfo string `json:"deliveryInfo"`
}

func (h *Handler) ConfirmDelivery(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.ConfirmDelivery(c.Request.Context(), c.Param("id"), addr, req.DeliveryInfo)
	})
}

func (h *Handler) Approve(c *gin.Context) {
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.Approve(c.Request.Context(), c.Param("id"), addr)
	})
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
	Bond   string `json:"bond"`
}

func (h *Handler) OpenDispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.OpenDispute(c.Request.Context(), c.Param("id"), addr, req.Reason, req.Bond)
	})
}

type evidenceRequest struct {
	Reference string `json:"reference" binding:"required"`
}

func (h *Handler) SubmitEvidence(c *gin.Context) {
	var req evidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.SubmitEvidence(c.Request.Context(), c.Param("id"), addr, req.Reference)
	})
}

type voteRequest struct {
	ForPayer *bool `json:"forPayer" binding:"required"`
}

func (h *Handler) CastVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.CastVote(c.Request.Context(), c.Param("id"), addr, *req.ForPayer)
	})
}

func (h *Handler) SignRelease(c *gin.Context) {
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.SignRelease(c.Request.Context(), c.Param("id"), addr)
	})
}

func (h *Handler) ActivateTimeLock(c *gin.Context) {
	h.act(c, func(addr string) (*Escrow, error) {
		return h.service.ActivateTimeLock(c.Request.Context(), c.Param("id"), addr)
	})
}

func (h *Handler) ExecuteTimeLockRelease(c *gin.Context) {
	// Anyone may execute an expired time lock, but the route still
	// sits behind auth like everything else.
	if _, ok := caller(c); !ok {
		return
	}
	e, err := h.service.ExecuteTimeLockRelease(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// act runs an identity-bound operation and writes the standard
// escrow-or-error response.
func (h *Handler) act(c *gin.Context, op func(addr string) (*Escrow, error)) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	e, err := op(addr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func respondError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrNotAuthorizedSigner),
		errors.Is(err, ErrNoVotingPower):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidParty):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrAlreadyLocked),
		errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, ErrAlreadySigned),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrTimeLockNotExpired),
		errors.Is(err, ErrWindowExpired),
		errors.Is(err, ErrPayoutInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrTransferFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
