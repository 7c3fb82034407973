package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestKioskIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name     string
		fallback string
		header   string
		want     string
	}{
		{"header wins", "lobby", "pool-desk", "pool-desk"},
		{"trimmed header", "lobby", "  gym.2  ", "gym.2"},
		{"missing header uses fallback", "lobby", "", "lobby"},
		{"malformed header uses fallback", "lobby", "bad id!", "lobby"},
		{"too long uses fallback", "lobby", strings.Repeat("k", 65), "lobby"},
		{"no fallback uses default", "", "", defaultKioskID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(KioskIdentity(tc.fallback))
			var got string
			r.GET("/k", func(c *gin.Context) {
				got = KioskID(c)
				c.Status(http.StatusNoContent)
			})
			req := httptest.NewRequest(http.MethodGet, "/k", nil)
			if tc.header != "" {
				req.Header.Set(HeaderKioskID, tc.header)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("KioskID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestKioskID_Absent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := KioskID(c); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
	c.Set(ctxKeyKioskID, 7)
	if got := KioskID(c); got != "" {
		t.Fatalf("expected empty id for wrong type, got %q", got)
	}
}
