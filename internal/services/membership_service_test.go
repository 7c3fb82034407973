package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/repo"
)

// ---------- GetMembershipStatus ----------

func TestMembership_FreshEntryServedWithoutCRMCall(t *testing.T) {
	db := newTestDB(t)
	seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["MEMBER_1"] = &crm.Customer{ID: "MEMBER_1", SegmentIDs: []string{"SEG_A", "SEG_OTHER"}}
	clock := newClock()
	s := newMembership(db, fc, clock)
	ctx := context.Background()

	first, err := s.GetMembershipStatus(ctx, "MEMBER_1", false)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if first.FromCache || !first.HasMembership || !reflect.DeepEqual(first.SegmentIDs, []string{"SEG_A"}) {
		t.Fatalf("unexpected first status: %+v", first)
	}

	clock.Advance(time.Hour)
	second, err := s.GetMembershipStatus(ctx, "MEMBER_1", false)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if !second.FromCache || !second.HasMembership {
		t.Fatalf("expected fresh cache hit, got %+v", second)
	}
	if !second.LastVerifiedAt.Equal(first.LastVerifiedAt) {
		t.Fatalf("last verified changed on hit: %v vs %v", second.LastVerifiedAt, first.LastVerifiedAt)
	}
	if n := fc.callCount("MEMBER_1"); n != 1 {
		t.Fatalf("expected 1 CRM call, got %d", n)
	}
}

func TestMembership_StaleEntryIsRefreshed(t *testing.T) {
	db := newTestDB(t)
	seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["MEMBER_1"] = &crm.Customer{ID: "MEMBER_1", SegmentIDs: []string{"SEG_A"}}
	clock := newClock()
	s := newMembership(db, fc, clock)
	ctx := context.Background()

	first, err := s.GetMembershipStatus(ctx, "MEMBER_1", false)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}

	clock.Advance(25 * time.Hour)
	second, err := s.GetMembershipStatus(ctx, "MEMBER_1", false)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if second.FromCache {
		t.Fatalf("stale entry must be refreshed, got FromCache")
	}
	if !second.LastVerifiedAt.After(first.LastVerifiedAt) {
		t.Fatalf("expected later timestamp: %v !> %v", second.LastVerifiedAt, first.LastVerifiedAt)
	}
	if n := fc.callCount("MEMBER_1"); n != 2 {
		t.Fatalf("expected 2 CRM calls, got %d", n)
	}
}

func TestMembership_ForceRefreshBypassesFreshEntry(t *testing.T) {
	db := newTestDB(t)
	seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["MEMBER_1"] = &crm.Customer{ID: "MEMBER_1", SegmentIDs: []string{"SEG_A"}}
	s := newMembership(db, fc, newClock())
	ctx := context.Background()

	if _, err := s.GetMembershipStatus(ctx, "MEMBER_1", false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st, err := s.GetMembershipStatus(ctx, "MEMBER_1", true)
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if st.FromCache || fc.callCount("MEMBER_1") != 2 {
		t.Fatalf("force refresh did not hit CRM: %+v calls=%d", st, fc.callCount("MEMBER_1"))
	}
}

func TestMembership_StaleFallbackOnCRMFailure(t *testing.T) {
	db := newTestDB(t)
	seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["MEMBER_1"] = &crm.Customer{ID: "MEMBER_1", SegmentIDs: []string{"SEG_A"}}
	clock := newClock()
	s := newMembership(db, fc, clock)
	ctx := context.Background()

	first, err := s.GetMembershipStatus(ctx, "MEMBER_1", false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	clock.Advance(48 * time.Hour)
	fc.always["MEMBER_1"] = crm.NewError(crm.KindOther, 500, "boom")

	for _, force := range []bool{false, true} {
		st, err := s.GetMembershipStatus(ctx, "MEMBER_1", force)
		if err != nil {
			t.Fatalf("force=%v: expected stale fallback, got %v", force, err)
		}
		if !st.FromCache || !st.HasMembership {
			t.Fatalf("force=%v: unexpected status %+v", force, st)
		}
		if !st.LastVerifiedAt.Equal(first.LastVerifiedAt) {
			t.Fatalf("force=%v: fallback must keep old timestamp", force)
		}
	}
}

func TestMembership_NoEntryNoFallback(t *testing.T) {
	db := newTestDB(t)
	fc := newFakeCRM()
	fc.always["GHOST"] = crm.NewError(crm.KindRateLimited, 429, "slow down")
	s := newMembership(db, fc, newClock())

	st, err := s.GetMembershipStatus(context.Background(), "GHOST", false)
	if st != nil {
		t.Fatalf("expected nil status, got %+v", st)
	}
	var ce *crm.Error
	if !errors.As(err, &ce) || ce.Kind != crm.KindRateLimited {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestMembership_EmptyCustomerID(t *testing.T) {
	s := newMembership(newTestDB(t), newFakeCRM(), newClock())
	for _, id := range []string{"", "   "} {
		_, err := s.GetMembershipStatus(context.Background(), id, false)
		if !errors.Is(err, ErrCustomerIDRequired) || !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("id=%q: expected ErrCustomerIDRequired, got %v", id, err)
		}
		if err.Error() != "Customer ID is required" {
			t.Fatalf("unexpected message %q", err.Error())
		}
	}
	if _, err := s.RefreshMembership(context.Background(), ""); !errors.Is(err, ErrCustomerIDRequired) {
		t.Fatalf("refresh: expected ErrCustomerIDRequired, got %v", err)
	}
}

func TestMembership_RegistryEditsApplyOnNextRefresh(t *testing.T) {
	db := newTestDB(t)
	segs := seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["MEMBER_1"] = &crm.Customer{ID: "MEMBER_1", SegmentIDs: []string{"SEG_A"}}
	s := newMembership(db, fc, newClock())
	ctx := context.Background()

	st, err := s.GetMembershipStatus(ctx, "MEMBER_1", false)
	if err != nil || !st.HasMembership {
		t.Fatalf("expected member, got %+v err=%v", st, err)
	}

	if err := repo.DeleteSegment(ctx, db, segs["SEG_A"]); err != nil {
		t.Fatalf("delete segment: %v", err)
	}

	// Cached verdict stays until refreshed.
	st, err = s.GetMembershipStatus(ctx, "MEMBER_1", false)
	if err != nil || !st.HasMembership || !st.FromCache {
		t.Fatalf("expected cached member, got %+v err=%v", st, err)
	}

	st, err = s.GetMembershipStatus(ctx, "MEMBER_1", true)
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if st.HasMembership || len(st.SegmentIDs) != 0 || st.SegmentIDs == nil {
		t.Fatalf("expected non-member with empty segments, got %+v", st)
	}
}

func TestMembership_RefreshStoresContactSnapshot(t *testing.T) {
	db := newTestDB(t)
	seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["C1"] = &crm.Customer{
		ID: "C1", GivenName: "Ada", FamilyName: "Lovelace",
		Email: "ada@example.com", Phone: "+15550001", ReferenceID: "LOT-7",
		SegmentIDs: []string{"SEG_A", "SEG_A"},
		Address:    &crm.Address{AddressLine1: "1 Main St", Locality: "Springfield", PostalCode: "12345"},
	}
	s := newMembership(db, fc, newClock())

	if _, err := s.RefreshMembership(context.Background(), "C1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	e := mustEntry(t, db, "C1")
	if e.GivenName != "Ada" || e.ReferenceID != "LOT-7" || e.Locality != "Springfield" {
		t.Fatalf("snapshot not stored: %+v", e)
	}
	if !reflect.DeepEqual(e.SegmentIDs, []string{"SEG_A"}) {
		t.Fatalf("segments must be de-duplicated, got %v", e.SegmentIDs)
	}
}

// ---------- Invalidate / Clear ----------

func TestMembership_InvalidateAndClear(t *testing.T) {
	db := newTestDB(t)
	seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["C1"] = &crm.Customer{ID: "C1", SegmentIDs: []string{"SEG_A"}}
	fc.customers["C2"] = &crm.Customer{ID: "C2"}
	s := newMembership(db, fc, newClock())
	ctx := context.Background()

	for _, id := range []string{"C1", "C2"} {
		if _, err := s.RefreshMembership(ctx, id); err != nil {
			t.Fatalf("refresh %s: %v", id, err)
		}
	}

	if err := s.InvalidateCache(ctx, "C1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := s.InvalidateCache(ctx, "C1"); err != nil {
		t.Fatalf("second invalidate must be a no-op, got %v", err)
	}
	if _, err := repo.GetMembershipEntry(ctx, db, "C1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected C1 gone, got %v", err)
	}
	if err := s.InvalidateCache(ctx, " "); !errors.Is(err, ErrCustomerIDRequired) {
		t.Fatalf("expected ErrCustomerIDRequired, got %v", err)
	}

	n, err := s.ClearCache(ctx)
	if err != nil || n != 1 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	n, err = s.ClearCache(ctx)
	if err != nil || n != 0 {
		t.Fatalf("clear empty: n=%d err=%v", n, err)
	}
}

// ---------- SearchCache ----------

func seedSearchEntries(t *testing.T, s *MembershipService) {
	t.Helper()
	ctx := context.Background()
	rows := []*domain.MembershipCacheEntry{
		{CustomerID: "C1", GivenName: "Jane", FamilyName: "Doe", Email: "jane@example.com", Phone: "5551234", ReferenceID: "LOT-1"},
		{CustomerID: "C2", GivenName: "Janet", FamilyName: "Doerr", Email: "janet@example.com", Phone: "5559876", ReferenceID: "LOT-2"},
		{CustomerID: "C3", GivenName: "Bob", FamilyName: "Smith", Email: "bob@example.com", Phone: "5550000", ReferenceID: "LOT-3"},
	}
	for _, r := range rows {
		r.SegmentIDs = []string{}
		r.LastVerifiedAt = s.now()
		if err := repo.UpsertMembershipEntry(ctx, s.DB, r); err != nil {
			t.Fatalf("seed %s: %v", r.CustomerID, err)
		}
	}
}

func TestMembership_SearchCache(t *testing.T) {
	s := newMembership(newTestDB(t), newFakeCRM(), newClock())
	seedSearchEntries(t, s)
	ctx := context.Background()

	if got := s.SearchCache(ctx, SearchByEmail, "  ", false); len(got) != 0 || got == nil {
		t.Fatalf("blank value must yield empty non-nil slice, got %v", got)
	}
	if got := s.SearchCache(ctx, "zip", "123", false); len(got) != 0 {
		t.Fatalf("unknown field must yield empty, got %v", got)
	}

	got := s.SearchCache(ctx, SearchByEmail, "JANE@example.com", false)
	if len(got) != 1 || got[0].CustomerID != "C1" {
		t.Fatalf("exact email: %+v", got)
	}
	got = s.SearchCache(ctx, SearchByPhone, "555", true)
	if len(got) != 3 {
		t.Fatalf("fuzzy phone: expected 3, got %d", len(got))
	}
	got = s.SearchCache(ctx, SearchByLot, "lot-3", false)
	if len(got) != 1 || got[0].CustomerID != "C3" {
		t.Fatalf("lot: %+v", got)
	}

	got = s.SearchCache(ctx, SearchByName, "janet doerr", true)
	if len(got) != 1 || got[0].CustomerID != "C2" {
		t.Fatalf("fuzzy name: %+v", got)
	}
	got = s.SearchCache(ctx, SearchByName, "jane", true)
	if len(got) != 2 || got[0].CustomerID != "C1" {
		t.Fatalf("expected Jane Doe ranked first, got %+v", got)
	}
}

func TestMembership_SearchCacheStorageErrorIsEmpty(t *testing.T) {
	db := newTestDB(t)
	s := newMembership(db, newFakeCRM(), newClock())
	if err := db.Migrator().DropTable(&domain.MembershipCacheEntry{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got := s.SearchCache(context.Background(), SearchByName, "jane", true); len(got) != 0 {
		t.Fatalf("expected empty on storage error, got %v", got)
	}
}

// ---------- NeedsRefresh ----------

func TestMembership_NeedsRefresh(t *testing.T) {
	db := newTestDB(t)
	seedSegments(t, db, "SEG_A")
	fc := newFakeCRM()
	fc.customers["C1"] = &crm.Customer{ID: "C1", SegmentIDs: []string{"SEG_A"}}
	clock := newClock()
	s := newMembership(db, fc, clock)
	ctx := context.Background()

	if need, err := s.NeedsRefresh(ctx); err != nil || !need {
		t.Fatalf("empty cache: need=%v err=%v", need, err)
	}
	if _, err := s.RefreshMembership(ctx, "C1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if need, err := s.NeedsRefresh(ctx); err != nil || need {
		t.Fatalf("fresh cache: need=%v err=%v", need, err)
	}
	clock.Advance(21 * time.Hour)
	if need, err := s.NeedsRefresh(ctx); err != nil || !need {
		t.Fatalf("old cache: need=%v err=%v", need, err)
	}
}

func TestIntersectSegments(t *testing.T) {
	got := intersectSegments([]string{"B", "X", "A", "B"}, []string{"A", "B"})
	if !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("got %v", got)
	}
	if got := intersectSegments(nil, []string{"A"}); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil, got %#v", got)
	}
}
