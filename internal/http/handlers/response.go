// Response helpers shared by every kiosk endpoint.
//
// Errors always use one envelope so the kiosk UI can pick a screen from
// `code` alone and show `request_id` to staff:
//
//	HTTP/1.1 503 Service Unavailable
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "kiosk_id": "lobby-1",
//	  "code": "upstream_unavailable",
//	  "message": "CRM unreachable",
//	  "retryable": true
//	}
//
// Successes are the bare DTO, e.g.
//
//	HTTP/1.1 200 OK
//	{ "customer_id": "C1", "has_membership": true, "from_cache": true }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/checkin-kiosk/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching kiosk reports to server logs
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Kiosk that made the request
	KioskID string `json:"kiosk_id,omitempty" example:"lobby-1"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show at the front desk)
	Message string `json:"message" example:"segment not found"`
	// The same request may succeed later without changes
	Retryable bool `json:"retryable,omitempty" example:"false"`
}

// retryable reports whether a kiosk should simply try again later.
func retryable(status int, code string) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return code == ErrCodeRefreshInProgress
}

// fail aborts the request with the error envelope. 5xx responses are logged
// at error level and upstream trouble at warn; client errors stay quiet.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		KioskID:   middleware.KioskID(c),
		Code:      code,
		Message:   msg,
		Retryable: retryable(status, code),
	}

	lg := middleware.LoggerFrom(c)
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway:
		lg.Error().Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	case status >= http.StatusInternalServerError:
		lg.Warn().Int("status", status).Str("code", code).Str("message", msg).Msg("upstream error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is fail for the router's NoRoute/NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
