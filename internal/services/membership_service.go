// Package services – MembershipService
//
// This file implements the membership cache: a local, lagging mirror of each
// customer's membership verdict. A verdict is derived from the customer's
// CRM segment memberships intersected with the segment registry.
//
// Read path: a fresh entry (verified within TTL) is served without any CRM
// call. Anything else triggers a refresh; if the refresh fails and an entry
// exists (stale or not), that entry is served instead of the error.
//
// Observability: lookups are OpenTelemetry-instrumented and counted in
// checkin_membership_cache_lookups_total.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/search"
)

// Search field names accepted by SearchCache.
const (
	SearchByPhone = "phone"
	SearchByEmail = "email"
	SearchByLot   = "lot"
	SearchByName  = "name"
)

// searchLimit caps rows returned by SearchCache.
const searchLimit = 50

// MembershipStatus is the verdict returned by the cache.
type MembershipStatus struct {
	CustomerID     string    `json:"customer_id"`
	HasMembership  bool      `json:"has_membership"`
	SegmentIDs     []string  `json:"segment_ids"`
	FromCache      bool      `json:"from_cache"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// MembershipService owns the membership_cache table.
type MembershipService struct {
	DB  *gorm.DB
	CRM crm.Client

	// TTL is the freshness window of a cache entry.
	TTL time.Duration
	// RefreshAge is the oldest-entry age after which a bulk refresh is due.
	RefreshAge time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewMembershipService constructs a MembershipService with the real clock.
func NewMembershipService(db *gorm.DB, client crm.Client, ttl, refreshAge time.Duration) *MembershipService {
	return &MembershipService{
		DB:         db,
		CRM:        client,
		TTL:        ttl,
		RefreshAge: refreshAge,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MembershipService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// GetMembershipStatus returns the customer's verdict, from cache when fresh
// and forceRefresh is false, otherwise via RefreshMembership.
func (s *MembershipService) GetMembershipStatus(ctx context.Context, customerID string, forceRefresh bool) (*MembershipStatus, error) {
	tr := otel.Tracer("services/MembershipService")
	ctx, span := tr.Start(ctx, "GetMembershipStatus",
		trace.WithAttributes(
			attribute.String("customer.id", customerID),
			attribute.Bool("force_refresh", forceRefresh),
		),
	)
	defer span.End()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrCustomerIDRequired
	}

	if !forceRefresh {
		if e := s.lookup(ctx, customerID); e != nil && e.IsFresh(s.now(), s.TTL) {
			cacheLookups.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.String("cache.result", "hit"))
			return statusFromEntry(e, true), nil
		}
	}

	st, err := s.RefreshMembership(ctx, customerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
	}
	return st, err
}

// RefreshMembership recomputes the verdict from the CRM and the segment
// registry and rewrites the cache entry. When the CRM call fails and an
// entry exists, the existing entry is returned with FromCache set.
func (s *MembershipService) RefreshMembership(ctx context.Context, customerID string) (*MembershipStatus, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrCustomerIDRequired
	}

	st, err := s.refresh(ctx, customerID)
	if err == nil {
		cacheLookups.WithLabelValues("miss").Inc()
		return st, nil
	}

	if e := s.lookup(ctx, customerID); e != nil {
		log.Warn().
			Err(err).
			Str("customer_id", customerID).
			Time("last_verified_at", e.LastVerifiedAt).
			Msg("membership refresh failed; serving cached entry")
		cacheLookups.WithLabelValues("stale_fallback").Inc()
		return statusFromEntry(e, true), nil
	}

	cacheLookups.WithLabelValues("error").Inc()
	return nil, err
}

// refresh is RefreshMembership without the stale fallback. Bulk refresh uses
// it so that failures reach the retry policy.
func (s *MembershipService) refresh(ctx context.Context, customerID string) (*MembershipStatus, error) {
	cust, err := s.CRM.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	configured, err := repo.ListSegmentIDs(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("load configured segments: %w", err)
	}

	e := entryFromCustomer(customerID, cust, intersectSegments(cust.SegmentIDs, configured), s.now())
	if err := repo.UpsertMembershipEntry(ctx, s.DB, e); err != nil {
		return nil, fmt.Errorf("upsert membership entry: %w", err)
	}
	return statusFromEntry(e, false), nil
}

// storeRosterMember writes the entry for a customer found by segment
// enumeration. Membership is known from the enumeration itself.
func (s *MembershipService) storeRosterMember(ctx context.Context, cust *crm.Customer, segmentIDs []string) error {
	return repo.UpsertMembershipEntry(ctx, s.DB, entryFromCustomer(cust.ID, cust, segmentIDs, s.now()))
}

// InvalidateCache drops one customer's entry. Missing entries are not an error.
func (s *MembershipService) InvalidateCache(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrCustomerIDRequired
	}
	return repo.DeleteMembershipEntry(ctx, s.DB, customerID)
}

// ClearCache drops every entry and returns how many were deleted.
func (s *MembershipService) ClearCache(ctx context.Context) (int64, error) {
	n, err := repo.ClearMembershipEntries(ctx, s.DB)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("deleted", n).Msg("membership cache cleared")
	return n, nil
}

// SearchCache looks up cached customers for the local search screen. field
// is one of phone, email, lot or name. Blank input and storage errors both
// yield an empty list. Fuzzy name matches are ranked best first.
func (s *MembershipService) SearchCache(ctx context.Context, field, value string, fuzzy bool) []domain.MembershipCacheEntry {
	empty := []domain.MembershipCacheEntry{}
	value = strings.TrimSpace(value)
	if value == "" {
		return empty
	}

	var column string
	switch strings.ToLower(strings.TrimSpace(field)) {
	case SearchByPhone:
		column = repo.SearchFieldPhone
	case SearchByEmail:
		column = repo.SearchFieldEmail
	case SearchByLot:
		column = repo.SearchFieldLot
	case SearchByName:
		column = repo.SearchFieldName
	default:
		return empty
	}

	rows, err := repo.SearchMembershipEntries(ctx, s.DB, column, value, fuzzy, searchLimit)
	if err != nil {
		log.Warn().Err(err).Str("field", field).Msg("membership cache search failed")
		return empty
	}
	if fuzzy && column == repo.SearchFieldName && len(rows) > 1 {
		rows = rankByName(rows, value)
	}
	return rows
}

// NeedsRefresh reports whether a bulk refresh is due: the cache is empty or
// its oldest entry is older than RefreshAge.
func (s *MembershipService) NeedsRefresh(ctx context.Context) (bool, error) {
	n, oldest, err := repo.MembershipCacheStats(ctx, s.DB)
	if err != nil {
		return false, err
	}
	if n == 0 || oldest == nil {
		return true, nil
	}
	return s.now().Sub(*oldest) >= s.RefreshAge, nil
}

// lookup returns the cached entry or nil. Storage errors are logged and
// treated as a miss so the caller falls through to a refresh.
func (s *MembershipService) lookup(ctx context.Context, customerID string) *domain.MembershipCacheEntry {
	e, err := repo.GetMembershipEntry(ctx, s.DB, customerID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Str("customer_id", customerID).Msg("membership cache read failed")
		}
		return nil
	}
	return e
}

// intersectSegments returns the customer's segments that are configured,
// in the customer's order and without duplicates.
func intersectSegments(customer, configured []string) []string {
	allowed := make(map[string]struct{}, len(configured))
	for _, id := range configured {
		allowed[id] = struct{}{}
	}
	out := []string{}
	seen := make(map[string]struct{}, len(customer))
	for _, id := range customer {
		if _, ok := allowed[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func entryFromCustomer(customerID string, c *crm.Customer, segmentIDs []string, now time.Time) *domain.MembershipCacheEntry {
	if segmentIDs == nil {
		segmentIDs = []string{}
	}
	e := &domain.MembershipCacheEntry{
		CustomerID:     customerID,
		HasMembership:  len(segmentIDs) > 0,
		SegmentIDs:     segmentIDs,
		GivenName:      c.GivenName,
		FamilyName:     c.FamilyName,
		Email:          c.Email,
		Phone:          c.Phone,
		ReferenceID:    c.ReferenceID,
		LastVerifiedAt: now,
	}
	if c.Address != nil {
		e.AddressLine1 = c.Address.AddressLine1
		e.Locality = c.Address.Locality
		e.PostalCode = c.Address.PostalCode
	}
	return e
}

func statusFromEntry(e *domain.MembershipCacheEntry, fromCache bool) *MembershipStatus {
	segs := e.SegmentIDs
	if segs == nil {
		segs = []string{}
	}
	return &MembershipStatus{
		CustomerID:     e.CustomerID,
		HasMembership:  e.HasMembership,
		SegmentIDs:     segs,
		FromCache:      fromCache,
		LastVerifiedAt: e.LastVerifiedAt,
	}
}

// rankByName orders rows by name similarity to query using search.Index.
func rankByName(rows []domain.MembershipCacheEntry, query string) []domain.MembershipCacheEntry {
	cands := make([]search.Candidate, len(rows))
	byKey := make(map[string]domain.MembershipCacheEntry, len(rows))
	for i, r := range rows {
		cands[i] = search.Candidate{Key: r.CustomerID, Text: r.GivenName + " " + r.FamilyName}
		byKey[r.CustomerID] = r
	}
	ranked := search.NewIndex(cands).TopK(query, 0)

	out := make([]domain.MembershipCacheEntry, 0, len(rows))
	used := make(map[string]struct{}, len(rows))
	for _, res := range ranked {
		out = append(out, byKey[res.Key])
		used[res.Key] = struct{}{}
	}
	// Rows the ranker scored zero keep their database order at the end.
	for _, r := range rows {
		if _, ok := used[r.CustomerID]; !ok {
			out = append(out, r)
		}
	}
	return out
}
