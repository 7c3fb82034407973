// Segment HTTP handlers.
//
// This file exposes the membership segment registry:
//   - GET    /segments        (list in display order)
//   - POST   /segments        (register)
//   - GET    /segments/{id}   (fetch)
//   - PUT    /segments/{id}   (rewrite)
//   - DELETE /segments/{id}   (remove)
//
// Registry edits do not touch cached verdicts; they apply on each customer's
// next refresh.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/services"
)

//
// DTOs
//

// SegmentRequest is the JSON payload for creating or updating a segment.
type SegmentRequest struct {
	// SegmentID is the CRM segment identifier.
	SegmentID string `json:"segment_id" binding:"required,min=1,max=128" example:"gxSEG1A2B3C"`
	// DisplayName defaults to SegmentID when blank.
	DisplayName string `json:"display_name" binding:"max=255" example:"Annual members"`
	SortOrder   int    `json:"sort_order" example:"10"`
}

func (r SegmentRequest) input() services.SegmentInput {
	return services.SegmentInput{SegmentID: r.SegmentID, DisplayName: r.DisplayName, SortOrder: r.SortOrder}
}

// ListSegmentsResponse wraps the registry.
type ListSegmentsResponse struct {
	Segments []domain.CustomerSegment `json:"segments"`
}

// segmentID parses the :id path parameter; it writes a 400 and returns false
// when the value is not a positive integer.
func segmentID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "segment id must be a positive integer")
		return 0, false
	}
	return uint(n), true
}

//
// Handlers
//

// ListSegments godoc
// @ID          listSegments
// @Summary     List membership segments
// @Tags        Segments
// @Produce     json
//
// @Success     200  {object}  handlers.ListSegmentsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /segments [get]
func (h *Handlers) ListSegments(c *gin.Context) {
	segs, err := h.segments.List(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if segs == nil {
		segs = []domain.CustomerSegment{}
	}
	ok(c, http.StatusOK, ListSegmentsResponse{Segments: segs})
}

// CreateSegment godoc
// @ID          createSegment
// @Summary     Register a membership segment
// @Tags        Segments
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SegmentRequest  true  "Segment"
//
// @Success     201  {object}  domain.CustomerSegment
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Segment already registered"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /segments [post]
func (h *Handlers) CreateSegment(c *gin.Context) {
	var req SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "segment_id required (1-128 chars)")
		return
	}
	seg, err := h.segments.Create(c.Request.Context(), req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, seg)
}

// GetSegment godoc
// @ID          getSegment
// @Summary     Fetch a membership segment
// @Tags        Segments
// @Produce     json
//
// @Param       id  path  int  true  "Segment id"
//
// @Success     200  {object}  domain.CustomerSegment
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Segment not found"
// @Router      /segments/{id} [get]
func (h *Handlers) GetSegment(c *gin.Context) {
	id, valid := segmentID(c)
	if !valid {
		return
	}
	seg, err := h.segments.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, seg)
}

// UpdateSegment godoc
// @ID          updateSegment
// @Summary     Rewrite a membership segment
// @Tags        Segments
// @Accept      json
// @Produce     json
//
// @Param       id    path  int                      true  "Segment id"
// @Param       body  body  handlers.SegmentRequest  true  "Segment"
//
// @Success     200  {object}  domain.CustomerSegment
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Segment not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Segment id taken"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /segments/{id} [put]
func (h *Handlers) UpdateSegment(c *gin.Context) {
	id, valid := segmentID(c)
	if !valid {
		return
	}
	var req SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "segment_id required (1-128 chars)")
		return
	}
	seg, err := h.segments.Update(c.Request.Context(), id, req.input())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, seg)
}

// DeleteSegment godoc
// @ID          deleteSegment
// @Summary     Remove a membership segment
// @Tags        Segments
//
// @Param       id  path  int  true  "Segment id"
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Segment not found"
// @Router      /segments/{id} [delete]
func (h *Handlers) DeleteSegment(c *gin.Context) {
	id, valid := segmentID(c)
	if !valid {
		return
	}
	if err := h.segments.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
