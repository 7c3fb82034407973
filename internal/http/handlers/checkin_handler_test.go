package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/http/middleware"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/services"
)

type checkinFixture struct {
	r        *gin.Engine
	queue    *services.CheckinQueueService
	verifier *stubVerifier
	pushes   int
	pushErr  error
}

func newCheckinFixture(t *testing.T, withSync bool) *checkinFixture {
	t.Helper()
	db := newHandlerDB(t)
	f := &checkinFixture{
		queue:    services.NewCheckinQueueService(db, 2),
		verifier: &stubVerifier{},
	}
	var sync services.SyncFunc
	if withSync {
		sync = func(context.Context, domain.CheckinQueueRecord) error {
			f.pushes++
			return f.pushErr
		}
	}
	h := New(Deps{
		Checkins:       f.queue,
		Verifier:       f.verifier,
		Sync:           sync,
		DB:             db,
		IdempotencyTTL: time.Hour,
	})

	r := gin.New()
	r.Use(middleware.KioskIdentity(""))
	g := r.Group("/checkins")
	g.POST("", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil), h.CreateCheckin)
	g.GET("/pending", h.PendingCheckins)
	g.GET("/stats", h.CheckinStats)
	g.POST("/sync", h.SyncCheckins)
	g.POST("/:id/retry", h.RetryCheckin)
	g.DELETE("/synced", h.CleanupCheckins)
	g.POST("/verify", h.VerifyCheckin)
	g.GET("/input-type", h.InputType)
	g.GET("/customer/:customerId", h.CustomerCheckins)
	f.r = r
	return f
}

func checkinBody(customer, order string, guests int) map[string]any {
	return map[string]any{"customer_id": customer, "order_id": order, "guest_count": guests}
}

func TestCreateCheckin_SyncedAndOffline(t *testing.T) {
	f := newCheckinFixture(t, true)

	w := do(t, f.r, http.MethodPost, "/checkins", checkinBody("C1", "ORDER1234567", 0))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	out := decode[services.CheckinOutcome](t, w)
	if !out.Synced || out.Record == nil || out.Record.Status != domain.QueueStatusSynced || out.Record.GuestCount != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	f.pushErr = errors.New("crm network: connection refused")
	w = do(t, f.r, http.MethodPost, "/checkins", checkinBody("C2", "ORDER7654321", 3))
	if w.Code != http.StatusCreated {
		t.Fatalf("offline check-in must still be accepted: status=%d", w.Code)
	}
	out = decode[services.CheckinOutcome](t, w)
	if out.Synced || out.Record.Status != domain.QueueStatusPending || out.Record.Attempts != 1 {
		t.Fatalf("unexpected offline outcome: %+v", out.Record)
	}
}

func TestCreateCheckin_Validation(t *testing.T) {
	f := newCheckinFixture(t, true)

	cases := []any{
		`{`,
		map[string]any{"customer_id": "C1", "order_id": "O1"},
		map[string]any{"customer_id": "", "order_id": "O1", "guest_count": 1},
		checkinBody("C1", "O1", -1),
	}
	for _, body := range cases {
		w := do(t, f.r, http.MethodPost, "/checkins", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %v: status=%d", body, w.Code)
		}
	}
	w := do(t, f.r, http.MethodPost, "/checkins", map[string]any{"customer_id": "C1", "order_id": "O1"})
	if got := decode[ErrorResponse](t, w).Message; got != services.ErrMissingFields.Error() {
		t.Fatalf("message=%q", got)
	}
	if f.pushes != 0 {
		t.Fatalf("invalid check-ins must not be pushed")
	}
}

func TestCreateCheckin_IdempotentReplayPerKiosk(t *testing.T) {
	f := newCheckinFixture(t, true)
	body := checkinBody("C1", "ORDER1234567", 2)

	first := do(t, f.r, http.MethodPost, "/checkins", body,
		middleware.HeaderIdempotencyKey, "scan-1", middleware.HeaderKioskID, "lobby-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first: status=%d body=%s", first.Code, first.Body.String())
	}
	orig := decode[services.CheckinOutcome](t, first)

	replay := do(t, f.r, http.MethodPost, "/checkins", body,
		middleware.HeaderIdempotencyKey, "scan-1", middleware.HeaderKioskID, "lobby-1")
	if replay.Code != http.StatusOK {
		t.Fatalf("replay: status=%d", replay.Code)
	}
	if replay.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("missing Idempotency-Replayed header")
	}
	again := decode[services.CheckinOutcome](t, replay)
	if again.Record.ID != orig.Record.ID || !again.Synced {
		t.Fatalf("replay returned %+v, want record %d", again.Record, orig.Record.ID)
	}
	if f.pushes != 1 {
		t.Fatalf("replay must not push again: pushes=%d", f.pushes)
	}

	// Same key from another kiosk is a different check-in.
	other := do(t, f.r, http.MethodPost, "/checkins", body,
		middleware.HeaderIdempotencyKey, "scan-1", middleware.HeaderKioskID, "pool-desk")
	if other.Code != http.StatusCreated {
		t.Fatalf("other kiosk: status=%d", other.Code)
	}

	st := decode[services.QueueStats](t, do(t, f.r, http.MethodGet, "/checkins/stats", nil))
	if st.Total != 2 {
		t.Fatalf("queue rows=%d want 2", st.Total)
	}

	if w := do(t, f.r, http.MethodPost, "/checkins", body, middleware.HeaderIdempotencyKey, "bad key!"); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed key: status=%d", w.Code)
	}
}

func TestCreateCheckin_ReplayOfPrunedRowQueuesAgain(t *testing.T) {
	f := newCheckinFixture(t, true)
	body := checkinBody("C1", "ORDER1234567", 1)
	hdr := []string{middleware.HeaderIdempotencyKey, "scan-9", middleware.HeaderKioskID, "lobby-1"}

	first := decode[services.CheckinOutcome](t, do(t, f.r, http.MethodPost, "/checkins", body, hdr...))
	if err := f.queue.DB.Delete(&domain.CheckinQueueRecord{}, first.Record.ID).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}

	w := do(t, f.r, http.MethodPost, "/checkins", body, hdr...)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d want 201 when the remembered row is gone", w.Code)
	}
}

func TestPendingStatsSyncRetryCleanup(t *testing.T) {
	f := newCheckinFixture(t, true)
	f.pushErr = errors.New("crm timeout")
	for i := 0; i < 3; i++ {
		do(t, f.r, http.MethodPost, "/checkins", checkinBody(fmt.Sprintf("C%d", i), "ORDER1234567", 1))
	}

	pending := decode[PendingCheckinsResponse](t, do(t, f.r, http.MethodGet, "/checkins/pending?limit=2", nil))
	if pending.Count != 2 || pending.Checkins[0].CustomerID != "C0" {
		t.Fatalf("pending: %+v", pending)
	}

	// Second failed push exhausts MaxSyncAttempts=2.
	w := do(t, f.r, http.MethodPost, "/checkins/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync: status=%d", w.Code)
	}
	if sum := decode[services.SyncSummary](t, w); sum.Exhausted != 3 {
		t.Fatalf("sync summary: %+v", sum)
	}
	st := decode[services.QueueStats](t, do(t, f.r, http.MethodGet, "/checkins/stats", nil))
	if st.Failed != 3 || st.Pending != 0 {
		t.Fatalf("stats after exhaustion: %+v", st)
	}

	w = do(t, f.r, http.MethodPost, "/checkins/1/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: status=%d body=%s", w.Code, w.Body.String())
	}
	if rec := decode[domain.CheckinQueueRecord](t, w); rec.Status != domain.QueueStatusPending || rec.Attempts != 0 {
		t.Fatalf("retried row: %+v", rec)
	}
	if w := do(t, f.r, http.MethodPost, "/checkins/1/retry", nil); w.Code != http.StatusConflict || errCode(t, w) != ErrCodeNotFailed {
		t.Fatalf("retry pending row: status=%d", w.Code)
	}
	if w := do(t, f.r, http.MethodPost, "/checkins/999/retry", nil); w.Code != http.StatusNotFound {
		t.Fatalf("retry missing row: status=%d", w.Code)
	}
	if w := do(t, f.r, http.MethodPost, "/checkins/x/retry", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("retry bad id: status=%d", w.Code)
	}

	f.pushErr = nil
	if sum := decode[services.SyncSummary](t, do(t, f.r, http.MethodPost, "/checkins/sync", nil)); sum.Synced != 1 {
		t.Fatalf("second sync: %+v", sum)
	}

	cl := decode[CleanupResponse](t, do(t, f.r, http.MethodDelete, "/checkins/synced?days=0", nil))
	if cl.DaysOld != 1 || cl.Deleted != 0 {
		t.Fatalf("cleanup: %+v", cl)
	}
}

func TestSyncCheckins_NotConfigured(t *testing.T) {
	f := newCheckinFixture(t, false)

	// Without a CRM the visit is kept but not reported as synced.
	w := do(t, f.r, http.MethodPost, "/checkins", checkinBody("C1", "ORDER1234567", 1))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	out := decode[services.CheckinOutcome](t, w)
	if out.Synced || out.Record.Status != domain.QueueStatusPending || out.Record.Attempts != 0 {
		t.Fatalf("expected pending row, got %+v", out.Record)
	}

	w = do(t, f.r, http.MethodPost, "/checkins/sync", nil)
	if w.Code != http.StatusServiceUnavailable || errCode(t, w) != ErrCodeUpstreamDown {
		t.Fatalf("status=%d", w.Code)
	}
	st := decode[services.QueueStats](t, do(t, f.r, http.MethodGet, "/checkins/stats", nil))
	if st.Pending != 1 || st.Synced != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestCustomerCheckins_History(t *testing.T) {
	f := newCheckinFixture(t, true)
	for _, order := range []string{"ORDER1111111", "ORDER2222222"} {
		if w := do(t, f.r, http.MethodPost, "/checkins", checkinBody("C7", order, 1)); w.Code != http.StatusCreated {
			t.Fatalf("check in %s: status=%d", order, w.Code)
		}
	}
	f.pushErr = errors.New("crm network: connection refused")
	if w := do(t, f.r, http.MethodPost, "/checkins", checkinBody("C7", "ORDER3333333", 2)); w.Code != http.StatusCreated {
		t.Fatalf("offline check in: status=%d", w.Code)
	}

	w := do(t, f.r, http.MethodGet, "/checkins/customer/C7?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	hist := decode[CheckinHistoryResponse](t, w)
	if hist.CustomerID != "C7" || hist.Days != 30 || hist.Count != 2 || len(hist.Checkins) != 2 {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if hist.Checkins[0].OrderID != "ORDER3333333" || hist.Checkins[0].SyncedToExternal {
		t.Fatalf("newest row should be the unsynced visit: %+v", hist.Checkins[0])
	}

	empty := decode[CheckinHistoryResponse](t, do(t, f.r, http.MethodGet, "/checkins/customer/NOBODY", nil))
	if empty.Count != 0 || empty.Checkins == nil {
		t.Fatalf("unknown customer should give an empty list: %+v", empty)
	}

	w = do(t, f.r, http.MethodGet, "/checkins/customer/%20", nil)
	if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeBadRequest {
		t.Fatalf("blank customer: status=%d", w.Code)
	}
}

func TestVerifyCheckin_Always200(t *testing.T) {
	f := newCheckinFixture(t, true)
	f.verifier.res = services.VerificationResult{Valid: false, Reason: "Order not found"}

	w := do(t, f.r, http.MethodPost, "/checkins/verify", VerifyRequest{PassToken: "ORDER1234567", SkipMembership: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	res := decode[services.VerificationResult](t, w)
	if res.Valid || res.Reason != "Order not found" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.verifier.gotToken != "ORDER1234567" || !f.verifier.gotOpts.SkipMembership {
		t.Fatalf("verifier got %q %+v", f.verifier.gotToken, f.verifier.gotOpts)
	}

	if w := do(t, f.r, http.MethodPost, "/checkins/verify", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: status=%d", w.Code)
	}
}

func TestInputType_Handler(t *testing.T) {
	f := newCheckinFixture(t, true)
	cases := map[string]InputTypeResponse{
		"ORDER1234567": {InputType: services.InputTypeQR, ValidOrderID: true},
		"jane%20doe":   {InputType: services.InputTypeSearch},
		"555-1234":     {InputType: services.InputTypeSearch},
		"":             {InputType: services.InputTypeSearch},
	}
	for q, want := range cases {
		got := decode[InputTypeResponse](t, do(t, f.r, http.MethodGet, "/checkins/input-type?q="+q, nil))
		if got != want {
			t.Fatalf("q=%q: got %+v want %+v", q, got, want)
		}
	}
}

func TestErrorStatus_Table(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrMissingFields, http.StatusBadRequest},
		{services.ErrQueueRecordNotFound, http.StatusNotFound},
		{services.ErrDuplicateSegment, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", services.ErrRefreshInProgress), http.StatusConflict},
		{services.ErrNoSegmentsConfigured, http.StatusUnprocessableEntity},
		{repo.ErrNotFound, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := errorStatus(tc.err); got != tc.status {
			t.Fatalf("errorStatus(%v)=%d want %d", tc.err, got, tc.status)
		}
	}
}
