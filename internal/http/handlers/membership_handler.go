// Membership HTTP handlers.
//
// This file exposes REST endpoints over the membership cache:
//   - GET    /membership/{customerId}           (status, ?force=true bypasses the cache)
//   - DELETE /membership/{customerId}           (invalidate one entry)
//   - DELETE /membership                        (clear the cache)
//   - GET    /membership/search                 (local search screen)
//   - POST   /membership/refresh                (bulk refresh of listed customers)
//   - POST   /membership/refresh-all            (start a full roster rebuild)
//   - GET    /membership/refresh-all/status     (progress of the rebuild)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/http/middleware"
	"github.com/tbourn/checkin-kiosk/internal/services"
	"github.com/tbourn/checkin-kiosk/internal/sysutil"
)

// maxBulkIDs caps the customer ids accepted by one bulk refresh request.
const maxBulkIDs = 500

//
// DTOs
//

// ClearCacheResponse reports how many cache entries were removed.
type ClearCacheResponse struct {
	Deleted int64 `json:"deleted" example:"1250"`
}

// SearchResponse is the result of a cache search.
type SearchResponse struct {
	Results []domain.MembershipCacheEntry `json:"results"`
	Count   int                           `json:"count"`
}

// BulkRefreshRequest lists customers to refresh.
type BulkRefreshRequest struct {
	CustomerIDs []string `json:"customer_ids" binding:"required" example:"CUST1,CUST2"`
	// Concurrency optionally lowers the batch size of this run.
	Concurrency int `json:"concurrency,omitempty" example:"2"`
}

// BulkRefreshResponse carries per-customer results and totals.
type BulkRefreshResponse struct {
	Results      []services.BulkResult `json:"results"`
	Total        int                   `json:"total"`
	MembersFound int                   `json:"members_found"`
	Errors       int                   `json:"errors"`
}

// RefreshStatusResponse is the roster rebuild progress plus whether the
// cache is due for another rebuild.
type RefreshStatusResponse struct {
	services.RefreshProgress
	NeedsRefresh bool `json:"needs_refresh"`
}

//
// Handlers
//

// GetMembership godoc
// @ID          getMembership
// @Summary     Membership status of a customer
// @Description Serves the cached verdict while fresh; otherwise asks the CRM. When the CRM fails and a stale entry exists, the stale verdict is returned.
// @Tags        Membership
// @Produce     json
//
// @Param       X-Kiosk-ID  header  string  false "Kiosk identifier"  example(lobby-1)
// @Param       customerId  path    string  true  "CRM customer id"
// @Param       force       query   bool    false "Bypass a fresh cache entry"
//
// @Success     200  {object}  services.MembershipStatus
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Customer not found in the CRM"
// @Failure     429  {object}  handlers.ErrorResponse  "CRM rate limited"
// @Failure     502  {object}  handlers.ErrorResponse  "CRM denied access"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /membership/{customerId} [get]
func (h *Handlers) GetMembership(c *gin.Context) {
	force := sysutil.IsTruthy(c.Query("force"))
	st, err := h.membership.GetMembershipStatus(c.Request.Context(), c.Param("customerId"), force)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// InvalidateMembership godoc
// @ID          invalidateMembership
// @Summary     Drop one cached verdict
// @Description The next lookup for this customer goes to the CRM. Missing entries are not an error.
// @Tags        Membership
//
// @Param       customerId  path  string  true  "CRM customer id"
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /membership/{customerId} [delete]
func (h *Handlers) InvalidateMembership(c *gin.Context) {
	if err := h.membership.InvalidateCache(c.Request.Context(), c.Param("customerId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ClearMembership godoc
// @ID          clearMembership
// @Summary     Clear the membership cache
// @Tags        Membership
// @Produce     json
//
// @Success     200  {object}  handlers.ClearCacheResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /membership [delete]
func (h *Handlers) ClearMembership(c *gin.Context) {
	n, err := h.membership.ClearCache(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ClearCacheResponse{Deleted: n})
}

// SearchMembership godoc
// @ID          searchMembership
// @Summary     Search cached customers
// @Description Searches the local cache only. Name matches are fuzzy and ranked when fuzzy=true; phone matches ignore formatting.
// @Tags        Membership
// @Produce     json
//
// @Param       type   query  string  true   "Field"  Enums(phone, email, lot, name)
// @Param       value  query  string  true   "Search value"
// @Param       fuzzy  query  bool    false  "Substring match"
//
// @Success     200  {object}  handlers.SearchResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /membership/search [get]
func (h *Handlers) SearchMembership(c *gin.Context) {
	field := strings.ToLower(strings.TrimSpace(c.Query("type")))
	switch field {
	case services.SearchByPhone, services.SearchByEmail, services.SearchByLot, services.SearchByName:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type must be one of phone, email, lot, name")
		return
	}
	rows := h.membership.SearchCache(c.Request.Context(), field, c.Query("value"), sysutil.IsTruthy(c.Query("fuzzy")))
	ok(c, http.StatusOK, SearchResponse{Results: rows, Count: len(rows)})
}

// BulkRefresh godoc
// @ID          bulkRefreshMembership
// @Summary     Refresh many customers
// @Description Refreshes each listed customer against the CRM in paced batches. One customer's failure never fails the request; see error_type per result.
// @Tags        Membership
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.BulkRefreshRequest  true  "Customers to refresh"
//
// @Success     200  {object}  handlers.BulkRefreshResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /membership/refresh [post]
func (h *Handlers) BulkRefresh(c *gin.Context) {
	var req BulkRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "customer_ids required")
		return
	}
	ids := make([]string, 0, len(req.CustomerIDs))
	for _, id := range req.CustomerIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "customer_ids required")
		return
	}
	if len(ids) > maxBulkIDs {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "too many customer_ids")
		return
	}

	opts := h.bulkOpts
	if req.Concurrency > 0 && (opts.Concurrency <= 0 || req.Concurrency < opts.Concurrency) {
		opts.Concurrency = req.Concurrency
	}

	results, err := h.bulk.BulkRefresh(c.Request.Context(), ids, opts)
	if err != nil {
		failErr(c, err)
		return
	}
	resp := BulkRefreshResponse{Results: results, Total: len(results)}
	for _, r := range results {
		switch {
		case r.Error != "":
			resp.Errors++
		case r.HasMembership:
			resp.MembersFound++
		}
	}
	ok(c, http.StatusOK, resp)
}

// StartRefreshAll godoc
// @ID          startRefreshAll
// @Summary     Rebuild the membership roster
// @Description Starts a background rebuild of the whole cache from the configured segments. Poll the status endpoint for progress.
// @Tags        Membership
// @Produce     json
//
// @Success     202  {object}  handlers.RefreshStatusResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Rebuild already running"
// @Failure     422  {object}  handlers.ErrorResponse  "No segments configured"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /membership/refresh-all [post]
func (h *Handlers) StartRefreshAll(c *gin.Context) {
	if err := h.bulk.StartRefreshAll(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, RefreshStatusResponse{RefreshProgress: h.bulk.Status()})
}

// RefreshAllStatus godoc
// @ID          refreshAllStatus
// @Summary     Roster rebuild progress
// @Tags        Membership
// @Produce     json
//
// @Success     200  {object}  handlers.RefreshStatusResponse
// @Router      /membership/refresh-all/status [get]
func (h *Handlers) RefreshAllStatus(c *gin.Context) {
	resp := RefreshStatusResponse{RefreshProgress: h.bulk.Status()}
	if due, err := h.membership.NeedsRefresh(c.Request.Context()); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("needs-refresh check failed")
	} else {
		resp.NeedsRefresh = due
	}
	ok(c, http.StatusOK, resp)
}
