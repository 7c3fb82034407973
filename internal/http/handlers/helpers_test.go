package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/services"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// ---------- stubs ----------

type stubMembership struct {
	status     func(ctx context.Context, id string, force bool) (*services.MembershipStatus, error)
	invalidate func(ctx context.Context, id string) error
	clear      func(ctx context.Context) (int64, error)
	search     func(ctx context.Context, field, value string, fuzzy bool) []domain.MembershipCacheEntry
	needs      func(ctx context.Context) (bool, error)
}

func (s stubMembership) GetMembershipStatus(ctx context.Context, id string, force bool) (*services.MembershipStatus, error) {
	if s.status != nil {
		return s.status(ctx, id, force)
	}
	return &services.MembershipStatus{CustomerID: id}, nil
}

func (s stubMembership) InvalidateCache(ctx context.Context, id string) error {
	if s.invalidate != nil {
		return s.invalidate(ctx, id)
	}
	return nil
}

func (s stubMembership) ClearCache(ctx context.Context) (int64, error) {
	if s.clear != nil {
		return s.clear(ctx)
	}
	return 0, nil
}

func (s stubMembership) SearchCache(ctx context.Context, field, value string, fuzzy bool) []domain.MembershipCacheEntry {
	if s.search != nil {
		return s.search(ctx, field, value, fuzzy)
	}
	return []domain.MembershipCacheEntry{}
}

func (s stubMembership) NeedsRefresh(ctx context.Context) (bool, error) {
	if s.needs != nil {
		return s.needs(ctx)
	}
	return false, nil
}

type stubBulk struct {
	bulk   func(ctx context.Context, ids []string, opts services.BulkOptions) ([]services.BulkResult, error)
	start  func(ctx context.Context) error
	status services.RefreshProgress
}

func (s stubBulk) BulkRefresh(ctx context.Context, ids []string, opts services.BulkOptions) ([]services.BulkResult, error) {
	if s.bulk != nil {
		return s.bulk(ctx, ids, opts)
	}
	return nil, nil
}

func (s stubBulk) StartRefreshAll(ctx context.Context) error {
	if s.start != nil {
		return s.start(ctx)
	}
	return nil
}

func (s stubBulk) Status() services.RefreshProgress { return s.status }

type stubSegments struct {
	list   func(ctx context.Context) ([]domain.CustomerSegment, error)
	get    func(ctx context.Context, id uint) (*domain.CustomerSegment, error)
	create func(ctx context.Context, in services.SegmentInput) (*domain.CustomerSegment, error)
	update func(ctx context.Context, id uint, in services.SegmentInput) (*domain.CustomerSegment, error)
	del    func(ctx context.Context, id uint) error
}

func (s stubSegments) List(ctx context.Context) ([]domain.CustomerSegment, error) {
	if s.list != nil {
		return s.list(ctx)
	}
	return nil, nil
}

func (s stubSegments) Get(ctx context.Context, id uint) (*domain.CustomerSegment, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return &domain.CustomerSegment{ID: id}, nil
}

func (s stubSegments) Create(ctx context.Context, in services.SegmentInput) (*domain.CustomerSegment, error) {
	if s.create != nil {
		return s.create(ctx, in)
	}
	return &domain.CustomerSegment{ID: 1, SegmentID: in.SegmentID, DisplayName: in.DisplayName}, nil
}

func (s stubSegments) Update(ctx context.Context, id uint, in services.SegmentInput) (*domain.CustomerSegment, error) {
	if s.update != nil {
		return s.update(ctx, id, in)
	}
	return &domain.CustomerSegment{ID: id, SegmentID: in.SegmentID}, nil
}

func (s stubSegments) Delete(ctx context.Context, id uint) error {
	if s.del != nil {
		return s.del(ctx, id)
	}
	return nil
}

type stubVerifier struct {
	gotToken string
	gotOpts  services.VerifyOptions
	res      services.VerificationResult
}

func (s *stubVerifier) VerifyCheckinOrder(_ context.Context, token string, opts services.VerifyOptions) services.VerificationResult {
	s.gotToken, s.gotOpts = token, opts
	return s.res
}

// ---------- request helpers ----------

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, w).Code
}

func init() { gin.SetMode(gin.TestMode) }
