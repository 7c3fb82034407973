// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package) and the translation of service and CRM
// errors into status/code pairs. Kiosk UIs branch on these codes, e.g. to show the
// "membership list is being rebuilt" banner on refresh_in_progress.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes mirror common HTTP status semantics.
//   - Domain-specific codes cover states that a status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "no_segments_configured",
//	  "message": "no membership segments configured"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeRefreshInProgress = "refresh_in_progress"
	ErrCodeNoSegments        = "no_segments_configured"
	ErrCodeUpstreamDenied    = "upstream_permission_denied"
	ErrCodeUpstreamDown      = "upstream_unavailable"
	ErrCodeNotFailed         = "not_failed"
)

// errorStatus maps an error returned by a service to an HTTP status and code.
// Service sentinels win; anything else is classified as a CRM failure.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrSegmentNotFound),
		errors.Is(err, services.ErrQueueRecordNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrDuplicateSegment):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, services.ErrRefreshInProgress):
		return http.StatusConflict, ErrCodeRefreshInProgress
	case errors.Is(err, services.ErrQueueRecordNotFailed):
		return http.StatusConflict, ErrCodeNotFailed
	case errors.Is(err, services.ErrNoSegmentsConfigured):
		return http.StatusUnprocessableEntity, ErrCodeNoSegments
	}

	var ce *crm.Error
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError, ErrCodeInternal
	}
	switch ce.Kind {
	case crm.KindNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case crm.KindRateLimited:
		return http.StatusTooManyRequests, ErrCodeRateLimited
	case crm.KindPermissionDenied:
		return http.StatusBadGateway, ErrCodeUpstreamDenied
	case crm.KindNetwork:
		return http.StatusServiceUnavailable, ErrCodeUpstreamDown
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// failErr writes the envelope for err using errorStatus.
func failErr(c *gin.Context, err error) {
	status, code := errorStatus(err)
	fail(c, status, code, err.Error())
}
