// Package services implements the kiosk's business logic: the segment
// registry, the membership cache, the bulk refresh engine, the offline
// check-in queue and check-in verification. This file centralizes the
// service-level error values returned by those components so that callers
// can check them with errors.Is.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Input errors.
var (
	// ErrInvalidInput is returned when a required identifier is blank or a
	// value is out of range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCustomerIDRequired is returned by membership lookups for an empty
	// customer id. It matches ErrInvalidInput under errors.Is.
	ErrCustomerIDRequired error = &inputError{msg: "Customer ID is required"}

	// ErrMissingFields is returned when a check-in lacks its customer id,
	// order id or guest count. It matches ErrInvalidInput under errors.Is.
	ErrMissingFields error = &inputError{msg: "customer_id, order_id and guest_count are required"}
)

// Segment registry errors.
var (
	// ErrSegmentNotFound indicates that no segment has the requested id.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrDuplicateSegment is returned when an external segment id is already
	// registered.
	ErrDuplicateSegment = errors.New("segment already exists")
)

// Bulk refresh errors.
var (
	// ErrNoSegmentsConfigured is returned by a full-roster refresh when the
	// segment registry is empty.
	ErrNoSegmentsConfigured = errors.New("no membership segments configured")

	// ErrRefreshInProgress is returned when a full-roster refresh is started
	// while another one is still running in this process.
	ErrRefreshInProgress = errors.New("membership refresh already in progress")
)

// Check-in queue errors.
var (
	// ErrQueueRecordNotFound indicates that the queue row does not exist.
	ErrQueueRecordNotFound = errors.New("check-in queue record not found")

	// ErrQueueRecordNotFailed is returned when retrying a row that is not in
	// the failed state.
	ErrQueueRecordNotFailed = errors.New("check-in queue record is not failed")
)

// inputError is a message-carrying variant of ErrInvalidInput.
type inputError struct{ msg string }

func (e *inputError) Error() string { return e.msg }

func (e *inputError) Is(target error) bool { return target == ErrInvalidInput }
