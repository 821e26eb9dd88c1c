package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voip-billing-platform/internal/auth"
	"voip-billing-platform/internal/batch"
	"voip-billing-platform/internal/calls"
	"voip-billing-platform/internal/ledger"
	"voip-billing-platform/internal/rates"
	"voip-billing-platform/internal/session"
	"voip-billing-platform/internal/termination"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Tracker     *session.Tracker
	Coordinator *termination.Coordinator
	Ledger      *ledger.Service
	Calls       calls.Repository
	Sweeper     *batch.Processor

	// LoopCtx is the lifetime context for per-call billing loops. Cancelled
	// on shutdown; loops finalize their calls on the way out.
	LoopCtx context.Context
}

// --- Call lifecycle ---

type callStartedRequest struct {
	CallID      string `json:"call_id"`
	CustomerID  string `json:"customer_id"`
	Destination string `json:"destination"`
	StartedAt   string `json:"started_at,omitempty"` // RFC3339, defaults to now
}

// CallStarted registers a new call and admits it into real-time billing.
// A customer who cannot cover the first billing increment is rejected
// before any session exists.
func (h Handlers) CallStarted(c *gin.Context) {
	var req callStartedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CallID == "" || req.CustomerID == "" || req.Destination == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id, customer_id, destination required"})
		return
	}

	now := time.Now().UTC()
	startedAt := now
	if req.StartedAt != "" {
		t, err := time.Parse(time.RFC3339, req.StartedAt)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "started_at must be RFC3339"})
			return
		}
		startedAt = t.UTC()
	}

	rec := calls.CallRecord{
		CallID:        req.CallID,
		CustomerID:    req.CustomerID,
		Destination:   req.Destination,
		StartedAt:     startedAt,
		Status:        calls.CallStatusInitiated,
		BillingStatus: calls.BillingStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.Calls.Create(c.Request.Context(), rec); err != nil {
		if errors.Is(err, calls.ErrAlreadyExists) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already registered"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call registration failed"})
		return
	}

	sess, err := h.Tracker.Start(c.Request.Context(), rec)
	if err != nil {
		h.rejectCall(c.Request.Context(), rec)
		switch {
		case errors.Is(err, session.ErrInsufficientBalanceAtStart):
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
		case errors.Is(err, rates.ErrNoRateFound):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "no rate for destination"})
		case errors.Is(err, rates.ErrInvalidDestination):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid destination"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing admission failed"})
		}
		return
	}

	go h.Tracker.RunLoop(h.LoopCtx, rec.CallID)

	c.JSON(http.StatusCreated, gin.H{
		"call_id":          rec.CallID,
		"rate_id":          sess.RateID,
		"rate_per_min":     sess.RatePerMin,
		"reserved_cost":    sess.ReservedCost,
		"billing_increment": sess.Policy.String(),
	})
}

// rejectCall records that an admitted-then-refused call never connected.
func (h Handlers) rejectCall(ctx context.Context, rec calls.CallRecord) {
	rec.Status = calls.CallStatusFailed
	rec.BillingStatus = calls.BillingStatusNoBillingRequired
	rec.UpdatedAt = time.Now().UTC()
	_ = h.Calls.Update(ctx, rec)
}

type callEndedRequest struct {
	EndedAt string `json:"ended_at,omitempty"` // RFC3339, defaults to now
	Status  string `json:"status,omitempty"`   // completed, failed, busy, no_answer, cancelled
}

// CallEnded closes the call record and triggers final billing. Safe to
// call more than once; an already billed call returns its settled record.
func (h Handlers) CallEnded(c *gin.Context) {
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	// An empty body is fine; everything defaults.
	var req callEndedRequest
	_ = c.ShouldBindJSON(&req)

	rec, ok, err := h.Calls.Find(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	if !rec.Billed() {
		now := time.Now().UTC()
		endedAt := now
		if req.EndedAt != "" {
			t, err := time.Parse(time.RFC3339, req.EndedAt)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ended_at must be RFC3339"})
				return
			}
			endedAt = t.UTC()
		}
		if rec.EndedAt == nil {
			rec.EndedAt = &endedAt
		}
		if rec.Active() {
			rec.Status = endStatus(req.Status)
		}
		rec.UpdatedAt = now
		if err := h.Calls.Update(c.Request.Context(), rec); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call update failed"})
			return
		}

		// Billing failures are not surfaced to the caller; the record is
		// marked and the batch sweep retries it.
		_ = h.Tracker.Finalize(c.Request.Context(), rec)
	}

	settled, ok, err := h.Calls.Find(c.Request.Context(), callID)
	if err != nil || !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, settled)
}

func endStatus(s string) calls.CallStatus {
	switch calls.CallStatus(s) {
	case calls.CallStatusFailed, calls.CallStatusBusy, calls.CallStatusNoAnswer, calls.CallStatusCancelled:
		return calls.CallStatus(s)
	default:
		return calls.CallStatusCompleted
	}
}

func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")
	rec, ok, err := h.Calls.Find(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// --- Customer balance ---

func (h Handlers) GetBalance(c *gin.Context) {
	customerID := c.Param("customer_id")
	acct, err := h.Ledger.Account(c.Request.Context(), customerID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"customer_id":       acct.CustomerID,
		"account_type":      acct.Type,
		"balance":           acct.Balance,
		"credit_limit":      acct.CreditLimit,
		"available_balance": acct.AvailableBalance(),
	})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	customerID := c.Param("customer_id")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..500"})
			return
		}
		limit = n
	}
	txs, err := h.Ledger.Transactions(c.Request.Context(), customerID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transaction lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// --- Operational endpoints (service-token protected) ---

type terminateAllRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) TerminateAll(c *gin.Context) {
	customerID := c.Param("customer_id")
	var req terminateAllRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator_request"
	}

	terminated, err := h.Coordinator.TerminateAllForCustomer(c.Request.Context(), customerID, req.Reason)
	if err != nil {
		c.JSON(http.StatusMultiStatus, gin.H{"terminated": terminated, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminated": terminated})
}

type emergencyTerminateRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) EmergencyTerminate(c *gin.Context) {
	callID := c.Param("call_id")
	var req emergencyTerminateRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator_emergency"
	}

	rec, ok, err := h.Calls.Find(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	if err := h.Coordinator.EmergencyTerminate(c.Request.Context(), rec, req.Reason); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}

type manualCreditRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h Handlers) ManualCredit(c *gin.Context) {
	customerID := c.Param("customer_id")

	var req manualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal"})
		return
	}
	if req.Reason == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reason required"})
		return
	}

	actor := "ops"
	if id, ok := auth.IdentityFrom(c.Request.Context()); ok {
		actor = id.Service
	}

	if err := h.Ledger.Credit(c.Request.Context(), customerID, amount, req.Reason, "", actor); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, err := h.Ledger.Account(c.Request.Context(), customerID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": acct.Balance, "available_balance": acct.AvailableBalance()})
}

// SweepNow runs a billing reconciliation pass on demand.
func (h Handlers) SweepNow(c *gin.Context) {
	stats, err := h.Sweeper.Sweep(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
