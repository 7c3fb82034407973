package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/retry"
)

// ----- Test DB -----

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "kiosk.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedSegments(t *testing.T, db *gorm.DB, ids ...string) map[string]uint {
	t.Helper()
	out := make(map[string]uint, len(ids))
	for i, id := range ids {
		s, err := repo.CreateSegment(context.Background(), db, id, id, i)
		if err != nil {
			t.Fatalf("seed segment %s: %v", id, err)
		}
		out[id] = s.ID
	}
	return out
}

// ----- Clock -----

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ----- Fake CRM -----

type fakeCRM struct {
	mu sync.Mutex

	customers map[string]*crm.Customer
	// script holds errors returned by successive GetCustomer calls for an id;
	// once drained the call succeeds.
	script map[string][]error
	// always makes every GetCustomer call for an id fail.
	always map[string]error
	calls  map[string]int

	segments   map[string][]string
	segmentErr error
	// segmentGate, when set, blocks SearchCustomersBySegment until closed.
	segmentGate chan struct{}

	orders        map[string]*crm.Order
	verifyErr     error
	verifyNoOrder bool
	verifyCalls   int
	getOrderCalls int

	visits   []crm.Visit
	visitErr error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		customers: map[string]*crm.Customer{},
		script:    map[string][]error{},
		always:    map[string]error{},
		calls:     map[string]int{},
		segments:  map[string][]string{},
		orders:    map[string]*crm.Order{},
	}
}

func (f *fakeCRM) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeCRM) GetCustomer(_ context.Context, id string) (*crm.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.always[id]; err != nil {
		return nil, err
	}
	if q := f.script[id]; len(q) > 0 {
		f.script[id] = q[1:]
		return nil, q[0]
	}
	c, ok := f.customers[id]
	if !ok {
		return nil, crm.NewError(crm.KindNotFound, 404, "customer not found")
	}
	cp := *c
	cp.SegmentIDs = append([]string(nil), c.SegmentIDs...)
	return &cp, nil
}

func (f *fakeCRM) SearchCustomersBySegment(ctx context.Context, segmentID string) ([]string, error) {
	if f.segmentGate != nil {
		select {
		case <-f.segmentGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.segmentErr != nil {
		return nil, f.segmentErr
	}
	return append([]string(nil), f.segments[segmentID]...), nil
}

func (f *fakeCRM) VerifyCheckinOrder(_ context.Context, orderID, itemID, variationID string) (*crm.OrderVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	o, ok := f.orders[orderID]
	if !ok {
		return &crm.OrderVerification{Reason: "Order not found"}, nil
	}
	if !crm.MatchCheckinItem(o, itemID, variationID) {
		return &crm.OrderVerification{Order: o, Reason: crm.ReasonMissingCheckinItem}, nil
	}
	if f.verifyNoOrder {
		return &crm.OrderVerification{Valid: true}, nil
	}
	return &crm.OrderVerification{Valid: true, Order: o}, nil
}

func (f *fakeCRM) GetOrder(_ context.Context, orderID string) (*crm.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getOrderCalls++
	o, ok := f.orders[orderID]
	if !ok {
		return nil, crm.NewError(crm.KindNotFound, 404, "order not found")
	}
	return o, nil
}

func (f *fakeCRM) RecordVisit(_ context.Context, v crm.Visit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.visitErr != nil {
		return f.visitErr
	}
	f.visits = append(f.visits, v)
	return nil
}

// ----- Builders -----

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func newMembership(db *gorm.DB, client crm.Client, clock *testClock) *MembershipService {
	s := NewMembershipService(db, client, 24*time.Hour, 20*time.Hour)
	s.Now = clock.Now
	return s
}

func newBulk(db *gorm.DB, client crm.Client, cache *MembershipService, tracker *RefreshTracker) *BulkRefresher {
	return NewBulkRefresher(db, client, cache, tracker, fastPolicy(), BulkOptions{Concurrency: 2})
}

func intPtr(n int) *int { return &n }

func mustEntry(t *testing.T, db *gorm.DB, id string) *domain.MembershipCacheEntry {
	t.Helper()
	e, err := repo.GetMembershipEntry(context.Background(), db, id)
	if err != nil {
		t.Fatalf("get entry %s: %v", id, err)
	}
	return e
}
