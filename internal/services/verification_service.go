// Package services – VerificationService
//
// This file implements check-in verification: deciding whether a scanned
// pass (an order reference) admits its holder. Order validity is
// authoritative; membership is looked up for display only and its failure
// never rejects an otherwise valid order. Every outcome, including internal
// failures, is a VerificationResult with a reason the kiosk can show.
package services

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/repo"
)

// Verification reasons shown to kiosk staff.
const (
	ReasonOrderIDRequired   = "Order ID is required"
	ReasonConfigError       = "Check-in configuration error"
	ReasonOrderNotFound     = "Order not found"
	ReasonMissingCustomer   = "Order does not have associated customer"
	ReasonNetworkError      = "Network error - please try again"
	ReasonUnexpectedFailure = "An issue with check-in, please see the manager on duty"
)

// Input types returned by DetectInputType.
const (
	InputTypeQR     = "qr"
	InputTypeSearch = "search"
)

var orderIDRE = regexp.MustCompile(`^[A-Za-z0-9]{10,}$`)

// MembershipLookup is the part of MembershipService verification needs.
type MembershipLookup interface {
	GetMembershipStatus(ctx context.Context, customerID string, forceRefresh bool) (*MembershipStatus, error)
}

// VerifyOptions tunes VerifyCheckinOrder. The zero value checks membership.
type VerifyOptions struct {
	// SkipMembership accepts orders without a customer and skips the
	// membership lookup.
	SkipMembership bool
}

// VerificationResult is the verdict for a pass.
type VerificationResult struct {
	Valid         bool       `json:"valid"`
	Reason        string     `json:"reason,omitempty"`
	Order         *crm.Order `json:"order,omitempty"`
	CustomerID    string     `json:"customer_id,omitempty"`
	HasMembership *bool      `json:"has_membership,omitempty"`
	// FromHistory is set when the local check-in log vouched for the order.
	FromHistory bool `json:"from_history,omitempty"`
}

// VerificationService verifies check-in passes.
type VerificationService struct {
	DB         *gorm.DB
	CRM        crm.Client
	Membership MembershipLookup

	// ItemID and VariationID identify the catalog entry a pass order must
	// contain. VariationID may be empty.
	ItemID      string
	VariationID string

	// LogWindow bounds the local history shortcut; zero disables it.
	LogWindow time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewVerificationService constructs a VerificationService.
func NewVerificationService(db *gorm.DB, client crm.Client, membership MembershipLookup, itemID, variationID string, logWindow time.Duration) *VerificationService {
	return &VerificationService{
		DB:          db,
		CRM:         client,
		Membership:  membership,
		ItemID:      itemID,
		VariationID: variationID,
		LogWindow:   logWindow,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// VerifyCheckinOrder decides whether passToken admits its holder. It never
// returns an error; failures are expressed as Valid=false with a Reason.
func (s *VerificationService) VerifyCheckinOrder(ctx context.Context, passToken string, opts VerifyOptions) VerificationResult {
	tr := otel.Tracer("services/VerificationService")
	ctx, span := tr.Start(ctx, "VerifyCheckinOrder",
		trace.WithAttributes(attribute.Bool("check_membership", !opts.SkipMembership)),
	)
	defer span.End()

	res := s.verify(ctx, strings.TrimSpace(passToken), opts)
	verifications.WithLabelValues(strconv.FormatBool(res.Valid)).Inc()
	span.SetAttributes(attribute.Bool("valid", res.Valid))
	return res
}

func (s *VerificationService) verify(ctx context.Context, orderID string, opts VerifyOptions) VerificationResult {
	if orderID == "" {
		return VerificationResult{Reason: ReasonOrderIDRequired}
	}
	if strings.TrimSpace(s.ItemID) == "" {
		log.Error().Msg("check-in item is not configured; set CHECKIN_ITEM_ID")
		return VerificationResult{Reason: ReasonConfigError}
	}

	res, ok := s.fromHistory(ctx, orderID)
	if !ok {
		var done bool
		res, done = s.fromCRM(ctx, orderID)
		if done {
			return res
		}
	}

	if res.CustomerID == "" {
		if opts.SkipMembership {
			return res
		}
		return VerificationResult{Reason: ReasonMissingCustomer, Order: res.Order}
	}
	if opts.SkipMembership {
		return res
	}

	st, err := s.Membership.GetMembershipStatus(ctx, res.CustomerID, false)
	if err != nil {
		log.Warn().Err(err).Str("customer_id", res.CustomerID).Msg("membership lookup failed during verification")
		return res
	}
	has := st.HasMembership
	res.HasMembership = &has
	return res
}

// fromHistory returns a valid result when a check-in for the order reached
// the CRM within LogWindow.
func (s *VerificationService) fromHistory(ctx context.Context, orderID string) (VerificationResult, bool) {
	if s.LogWindow <= 0 || s.DB == nil {
		return VerificationResult{}, false
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	rec, err := repo.FindRecentCheckinByOrder(ctx, s.DB, orderID, now.Add(-s.LogWindow))
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Msg("check-in history lookup failed")
		}
		return VerificationResult{}, false
	}
	return VerificationResult{Valid: true, CustomerID: rec.CustomerID, FromHistory: true}, true
}

// fromCRM verifies the order with the CRM. done is true when the returned
// result is final (a rejection).
func (s *VerificationService) fromCRM(ctx context.Context, orderID string) (res VerificationResult, done bool) {
	v, err := s.CRM.VerifyCheckinOrder(ctx, orderID, s.ItemID, s.VariationID)
	if err != nil {
		return VerificationResult{Reason: reasonFor(err)}, true
	}
	if !v.Valid {
		reason := v.Reason
		if reason == "" {
			reason = ReasonOrderNotFound
		}
		return VerificationResult{Reason: reason, Order: v.Order}, true
	}

	order := v.Order
	if order == nil {
		// Collaborators may confirm validity without returning the order.
		o, gerr := s.CRM.GetOrder(ctx, orderID)
		if gerr != nil {
			log.Warn().Err(gerr).Msg("order lookup after verification failed")
		} else {
			order = o
		}
	}
	res = VerificationResult{Valid: true, Order: order}
	if order != nil {
		res.CustomerID = strings.TrimSpace(order.CustomerID)
	}
	return res, false
}

// reasonFor classifies an unexpected verification failure.
func reasonFor(err error) string {
	switch crm.Classify(err) {
	case crm.KindNotFound:
		return ReasonOrderNotFound
	case crm.KindNetwork:
		return ReasonNetworkError
	default:
		log.Error().Err(err).Msg("unexpected check-in verification failure")
		return ReasonUnexpectedFailure
	}
}

// IsValidOrderIDFormat reports whether input looks like an order id:
// at least ten ASCII letters or digits.
func IsValidOrderIDFormat(input string) bool {
	return orderIDRE.MatchString(strings.TrimSpace(input))
}

// DetectInputType routes free-text kiosk input: "qr" for something shaped
// like an order id, "search" for anything else.
func DetectInputType(input string) string {
	if IsValidOrderIDFormat(input) {
		return InputTypeQR
	}
	return InputTypeSearch
}
