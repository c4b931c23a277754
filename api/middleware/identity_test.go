package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/pkg/enums"
	"github.com/labstock/labstock-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func identityRecorder(t *testing.T) (http.Handler, *string, *enums.Role) {
	t.Helper()
	var gotUser string
	var gotRole enums.Role
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	return Identity(testLogger())(handler), &gotUser, &gotRole
}

func TestIdentitySeedsContext(t *testing.T) {
	handler, gotUser, gotRole := identityRecorder(t)
	userID := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/components", nil)
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("X-User-Role", "staff")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if *gotUser != userID {
		t.Fatalf("expected user %s in context, got %q", userID, *gotUser)
	}
	if *gotRole != enums.RoleStaff {
		t.Fatalf("expected staff role, got %s", *gotRole)
	}
}

func TestIdentityDefaultsToStudent(t *testing.T) {
	handler, _, gotRole := identityRecorder(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/components", nil)
	req.Header.Set("X-User-Id", uuid.NewString())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if *gotRole != enums.RoleStudent {
		t.Fatalf("missing role should default to student, got %s", *gotRole)
	}
}

func TestIdentityRejectsMissingOrBadHeaders(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		role   string
	}{
		{name: "missing user id"},
		{name: "malformed user id", userID: "not-a-uuid"},
		{name: "unknown role", userID: uuid.NewString(), role: "superuser"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, _ := identityRecorder(t)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/components", nil)
			if tt.userID != "" {
				req.Header.Set("X-User-Id", tt.userID)
			}
			if tt.role != "" {
				req.Header.Set("X-User-Role", tt.role)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", resp.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(testLogger(), enums.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req = req.WithContext(WithIdentity(req.Context(), uuid.NewString(), enums.RoleStaff))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("staff must not pass admin gate, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req = req.WithContext(WithIdentity(req.Context(), uuid.NewString(), enums.RoleAdmin))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("admin should pass, got %d", resp.Code)
	}
}

func TestRequireReviewer(t *testing.T) {
	handler := RequireReviewer(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for role, want := range map[enums.Role]int{
		enums.RoleStudent: http.StatusForbidden,
		enums.RoleStaff:   http.StatusNoContent,
		enums.RoleAdmin:   http.StatusNoContent,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/x/approve", nil)
		req = req.WithContext(WithIdentity(req.Context(), uuid.NewString(), role))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("role %s: expected %d got %d", role, want, resp.Code)
		}
	}
}

type stubLimiter struct {
	allowed bool
	count   int64
	err     error
	scopes  []string
}

func (s *stubLimiter) FixedWindowAllow(_ context.Context, scope string, _ int64, _ time.Duration) (bool, int64, error) {
	s.scopes = append(s.scopes, scope)
	return s.allowed, s.count, s.err
}

func TestRateLimitDeniesOverLimit(t *testing.T) {
	limiter := &stubLimiter{allowed: false, count: 121}
	handler := RateLimit(limiter, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	userID := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/components", nil)
	req = req.WithContext(WithIdentity(req.Context(), userID, enums.RoleStudent))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.Code)
	}
	if len(limiter.scopes) != 1 || limiter.scopes[0] != userID {
		t.Fatalf("expected user-scoped limiting, got %v", limiter.scopes)
	}
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	limiter := &stubLimiter{err: context.DeadlineExceeded}
	handler := RateLimit(limiter, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/components", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("limiter errors must not block requests, got %d", resp.Code)
	}
}
