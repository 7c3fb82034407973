// Check-in HTTP handlers.
//
// This file exposes the offline check-in queue and pass verification:
//   - POST   /checkins                (check a customer in; Idempotency-Key aware)
//   - GET    /checkins/pending        (oldest pending rows)
//   - GET    /checkins/stats          (row counts per status)
//   - POST   /checkins/sync           (push pending rows to the CRM now)
//   - POST   /checkins/{id}/retry     (re-queue a failed row)
//   - DELETE /checkins/synced         (prune old synced rows)
//   - GET    /checkins/customer/{customerId} (a customer's check-in history)
//   - POST   /checkins/verify         (verify a scanned pass)
//   - GET    /checkins/input-type     (route free-text kiosk input)
//
// Idempotency:
// A check-in POST that carries an Idempotency-Key is remembered per kiosk and
// route. Retrying with the same key returns the original queue row with
// `Idempotency-Replayed: true` instead of queueing a second visit.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/http/middleware"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/services"
	"github.com/tbourn/checkin-kiosk/internal/utils"
)

//
// DTOs
//

// CheckinRequest is the JSON payload for a check-in. GuestCount may be zero
// but must be present.
type CheckinRequest struct {
	CustomerID string `json:"customer_id" example:"CUST1"`
	OrderID    string `json:"order_id" example:"ORDER1234567"`
	GuestCount *int   `json:"guest_count" example:"2"`
}

// PendingCheckinsResponse lists pending queue rows, oldest first.
type PendingCheckinsResponse struct {
	Checkins []domain.CheckinQueueRecord `json:"checkins"`
	Count    int                         `json:"count"`
}

// CleanupResponse reports how many synced rows were pruned.
type CleanupResponse struct {
	Deleted int64 `json:"deleted" example:"42"`
	DaysOld int   `json:"days_old" example:"30"`
}

// CheckinHistoryResponse lists a customer's logged check-ins, newest first.
type CheckinHistoryResponse struct {
	CustomerID string                    `json:"customer_id" example:"CUST1"`
	Days       int                       `json:"days" example:"30"`
	Checkins   []domain.CheckinLogRecord `json:"checkins"`
	Count      int                       `json:"count"`
}

// VerifyRequest carries the scanned pass.
type VerifyRequest struct {
	// PassToken is the order id encoded in the pass QR code.
	PassToken string `json:"pass_token" example:"ORDER1234567"`
	// SkipMembership accepts orders without a customer.
	SkipMembership bool `json:"skip_membership,omitempty"`
}

// InputTypeResponse tells the kiosk how to treat typed or scanned input.
type InputTypeResponse struct {
	InputType    string `json:"input_type" example:"qr"`
	ValidOrderID bool   `json:"valid_order_id"`
}

//
// Handlers
//

// CreateCheckin godoc
// @ID          createCheckin
// @Summary     Check a customer in
// @Description Queues the visit durably, tries to push it to the CRM right away and appends it to the local history. A failed push is not an error; the row stays pending for the background syncer.
// @Description Supports idempotency via the Idempotency-Key header (same kiosk + same key returns the original row).
// @Tags        Checkins
// @Accept      json
// @Produce     json
//
// @Param       X-Kiosk-ID       header  string  false "Kiosk identifier"  example(lobby-1)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CheckinRequest  true  "Check-in"
//
// @Success     201  {object}  services.CheckinOutcome  "Queued"
// @Success     200  {object}  services.CheckinOutcome  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /checkins [post]
func (h *Handlers) CreateCheckin(c *gin.Context) {
	ctx := c.Request.Context()

	var req CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	kiosk := middleware.IdempotencyOwner(c)
	scope := middleware.IdempotencyScope(c)
	idemKey, _ := middleware.GetIdempotencyKey(c)

	// Replay path.
	if idemKey != "" && h.db != nil {
		if prev := h.replayedCheckin(c, kiosk, scope, idemKey); prev != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, services.CheckinOutcome{
				Record: prev,
				Synced: prev.Status == domain.QueueStatusSynced,
			})
			return
		}
	}

	out, err := h.checkins.CheckIn(ctx, services.CheckinInput{
		CustomerID: req.CustomerID,
		OrderID:    req.OrderID,
		GuestCount: req.GuestCount,
	}, h.sync)
	if err != nil {
		failErr(c, err)
		return
	}

	// Store path, best effort.
	if idemKey != "" && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, kiosk, scope, idemKey, out.Record.ID, http.StatusCreated, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusCreated, out)
}

// replayedCheckin returns the queue row remembered for key, or nil.
func (h *Handlers) replayedCheckin(c *gin.Context, kiosk, scope, key string) *domain.CheckinQueueRecord {
	ctx := c.Request.Context()
	rec, err := repo.GetIdempotency(ctx, h.db, kiosk, scope, key, time.Now().UTC())
	if err != nil || rec == nil {
		return nil
	}
	prev, err := repo.GetQueueRecord(ctx, h.db, rec.RecordID)
	if err != nil {
		// The row was pruned; treat the key as unused.
		return nil
	}
	return prev
}

// PendingCheckins godoc
// @ID          pendingCheckins
// @Summary     Pending check-ins
// @Tags        Checkins
// @Produce     json
//
// @Param       limit  query  int  false  "Max rows"  minimum(1) maximum(1000) default(100)
//
// @Success     200  {object}  handlers.PendingCheckinsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /checkins/pending [get]
func (h *Handlers) PendingCheckins(c *gin.Context) {
	limit := utils.ClampInt(c.Query("limit"), 100, 1, 1000)
	rows, err := h.checkins.GetPendingCheckins(c.Request.Context(), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PendingCheckinsResponse{Checkins: rows, Count: len(rows)})
}

// CheckinStats godoc
// @ID          checkinStats
// @Summary     Queue row counts per status
// @Tags        Checkins
// @Produce     json
//
// @Success     200  {object}  services.QueueStats
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /checkins/stats [get]
func (h *Handlers) CheckinStats(c *gin.Context) {
	st, err := h.checkins.GetQueueStats(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// SyncCheckins godoc
// @ID          syncCheckins
// @Summary     Push pending check-ins to the CRM
// @Description Runs one sync pass over the rows pending right now, oldest first.
// @Tags        Checkins
// @Produce     json
//
// @Success     200  {object}  services.SyncSummary
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     503  {object}  handlers.ErrorResponse  "No CRM configured"
// @Router      /checkins/sync [post]
func (h *Handlers) SyncCheckins(c *gin.Context) {
	if h.sync == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUpstreamDown, "check-in sync is not configured")
		return
	}
	sum, err := h.checkins.SyncQueue(c.Request.Context(), h.sync)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// RetryCheckin godoc
// @ID          retryCheckin
// @Summary     Re-queue a failed check-in
// @Tags        Checkins
// @Produce     json
//
// @Param       id  path  int  true  "Queue row id"
//
// @Success     200  {object}  domain.CheckinQueueRecord
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Row not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Row is not failed"
// @Router      /checkins/{id}/retry [post]
func (h *Handlers) RetryCheckin(c *gin.Context) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "check-in id must be a positive integer")
		return
	}
	rec, err := h.checkins.RetryFailed(c.Request.Context(), uint(n))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// CleanupCheckins godoc
// @ID          cleanupCheckins
// @Summary     Prune old synced check-ins
// @Tags        Checkins
// @Produce     json
//
// @Param       days  query  int  false  "Age in days"  minimum(1) maximum(3650) default(30)
//
// @Success     200  {object}  handlers.CleanupResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /checkins/synced [delete]
func (h *Handlers) CleanupCheckins(c *gin.Context) {
	days := utils.ClampInt(c.Query("days"), 30, 1, 3650)
	n, err := h.checkins.ClearOldSyncedCheckins(c.Request.Context(), days)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CleanupResponse{Deleted: n, DaysOld: days})
}

// CustomerCheckins godoc
// @ID          customerCheckins
// @Summary     Customer check-in history
// @Description Lists the visits logged at this site for one customer. synced_to_external tells whether the CRM has accepted each visit.
// @Tags        Checkins
// @Produce     json
//
// @Param       customerId  path   string  true   "Customer ID"
// @Param       days        query  int     false  "Look-back in days"  minimum(1) maximum(3650) default(30)
// @Param       limit       query  int     false  "Max rows"  minimum(1) maximum(500) default(50)
//
// @Success     200  {object}  handlers.CheckinHistoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /checkins/customer/{customerId} [get]
func (h *Handlers) CustomerCheckins(c *gin.Context) {
	days := utils.ClampInt(c.Query("days"), 30, 1, 3650)
	limit := utils.ClampInt(c.Query("limit"), 50, 1, 500)
	customerID := c.Param("customerId")
	rows, err := h.checkins.CustomerHistory(c.Request.Context(), customerID, days, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CheckinHistoryResponse{CustomerID: customerID, Days: days, Checkins: rows, Count: len(rows)})
}

// VerifyCheckin godoc
// @ID          verifyCheckin
// @Summary     Verify a scanned pass
// @Description Always answers 200 with valid/reason; a rejected pass is not an HTTP error.
// @Tags        Checkins
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.VerifyRequest  true  "Pass"
//
// @Success     200  {object}  services.VerificationResult
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed JSON"
// @Router      /checkins/verify [post]
func (h *Handlers) VerifyCheckin(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res := h.verifier.VerifyCheckinOrder(c.Request.Context(), req.PassToken, services.VerifyOptions{
		SkipMembership: req.SkipMembership,
	})
	ok(c, http.StatusOK, res)
}

// InputType godoc
// @ID          checkinInputType
// @Summary     Classify kiosk input
// @Description Returns "qr" for input shaped like an order id and "search" for anything else.
// @Tags        Checkins
// @Produce     json
//
// @Param       q  query  string  true  "Typed or scanned input"
//
// @Success     200  {object}  handlers.InputTypeResponse
// @Router      /checkins/input-type [get]
func (h *Handlers) InputType(c *gin.Context) {
	q := c.Query("q")
	ok(c, http.StatusOK, InputTypeResponse{
		InputType:    services.DetectInputType(q),
		ValidOrderID: services.IsValidOrderIDFormat(q),
	})
}
