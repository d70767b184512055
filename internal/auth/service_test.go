package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"vsoportal/internal/config"
	"vsoportal/internal/session"
)

var testStart = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *session.FakeClock) {
	t.Helper()
	clock := session.NewFakeClock(testStart)
	reg := session.NewRegistry(session.Options{
		Timeout:     30 * time.Minute,
		WarningLead: 5 * time.Minute,
		Clock:       clock,
	})
	svc := NewService(config.AuthConfig{Username: "staff", Password: "s3cret"}, reg)
	return svc, clock
}

func TestCheckCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	cases := []struct {
		user, pass string
		want       bool
	}{
		{"staff", "s3cret", true},
		{"staff", "wrong", false},
		{"other", "s3cret", false},
		{"", "", false},
		{"staff ", "s3cret", false},
	}
	for _, tc := range cases {
		if got := svc.CheckCredentials(tc.user, tc.pass); got != tc.want {
			t.Fatalf("CheckCredentials(%q, %q) = %v, want %v", tc.user, tc.pass, got, tc.want)
		}
	}
}

func TestCheckCredentialsWithHash(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	svc := NewService(config.AuthConfig{Username: "staff", Password: "ignored", PasswordHash: hash}, session.NewRegistry(session.Options{}))
	if !svc.CheckCredentials("staff", "hunter2") {
		t.Fatalf("expected hash match")
	}
	if svc.CheckCredentials("staff", "ignored") {
		t.Fatalf("plain password must not be used when a hash is configured")
	}
}

func TestLoginLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "staff", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	token, err := svc.Login(ctx, "staff", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("unexpected token length %d", len(token))
	}
	mgr, err := svc.Sessions().Get(ctx, token)
	if err != nil || mgr.State() != session.Active {
		t.Fatalf("expected active session, err=%v", err)
	}
	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if _, err := svc.Sessions().Get(ctx, token); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected session gone after logout, got %v", err)
	}
}

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api")
	api.GET("/status", svc.PassiveMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	authed := api.Group("")
	authed.Use(svc.Middleware(), svc.CSRFMiddleware())
	authed.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	authed.POST("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestMiddlewareTouchesAndExpires(t *testing.T) {
	svc, clock := newTestService(t)
	token, err := svc.Login(context.Background(), "staff", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	router := newRouter(svc)

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(&http.Cookie{Name: svc.AuthCookieName(), Value: token})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	clock.Advance(20 * time.Minute)
	if code := do("/api/ping"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	// the ping above reset the timer, polling status must not
	clock.Advance(20 * time.Minute)
	if code := do("/api/status"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	clock.Advance(10 * time.Minute)
	if code := do("/api/status"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after idle timeout, got %d", code)
	}
	if code := do("/api/ping"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after idle timeout, got %d", code)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	svc, _ := newTestService(t)
	router := newRouter(svc)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCSRFMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	token, err := svc.Login(context.Background(), "staff", "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	router := newRouter(svc)

	post := func(csrfHeader, csrfCookie string, bearer bool) int {
		req := httptest.NewRequest(http.MethodPost, "/api/ping", nil)
		if bearer {
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			req.AddCookie(&http.Cookie{Name: svc.AuthCookieName(), Value: token})
		}
		if csrfCookie != "" {
			req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: csrfCookie})
		}
		if csrfHeader != "" {
			req.Header.Set(svc.CSRFHeaderName(), csrfHeader)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("", "", false); code != http.StatusForbidden {
		t.Fatalf("missing csrf: expected 403, got %d", code)
	}
	if code := post("abc", "xyz", false); code != http.StatusForbidden {
		t.Fatalf("mismatched csrf: expected 403, got %d", code)
	}
	if code := post("abc", "abc", false); code != http.StatusOK {
		t.Fatalf("matching csrf: expected 200, got %d", code)
	}
	if code := post("", "", true); code != http.StatusOK {
		t.Fatalf("bearer: expected 200, got %d", code)
	}
}
