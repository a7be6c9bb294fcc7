package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"carvault/auth"
)

type stubVerifier struct {
	userID string
	role   auth.Role
	err    error
}

func (s *stubVerifier) VerifyToken(string) (string, auth.Role, error) {
	return s.userID, s.role, s.err
}

func TestRequireAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userIDFrom(r.Context()) != "u1" || roleFrom(r.Context()) != auth.RoleSeller {
			t.Fatal("identity not propagated to request context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAuth(&stubVerifier{userID: "u1", role: auth.RoleSeller})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with token, got %d", rec.Code)
	}

	rejecting := RequireAuth(&stubVerifier{err: errors.New("expired")})(next)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	rejecting.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole(auth.RoleAdmin)(next)

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1", auth.RoleBuyer)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer, got %d", rec.Code)
	}

	req = asUser(httptest.NewRequest(http.MethodGet, "/", nil), "u2", auth.RoleAdmin)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", rec.Code)
	}
}
