package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// --- モック ---

type mockSessionLifecycle struct {
	findFn          func(ctx context.Context, id string) (*model.Session, error)
	touchOrExpireFn func(ctx context.Context, session *model.Session) error
}

func (m *mockSessionLifecycle) Find(ctx context.Context, id string) (*model.Session, error) {
	if m.findFn != nil {
		return m.findFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionLifecycle) TouchOrExpire(ctx context.Context, session *model.Session) error {
	if m.touchOrExpireFn != nil {
		return m.touchOrExpireFn(ctx, session)
	}
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

// --- テスト ---

// TestSessionMiddleware_ValidSession_InjectsSession は有効なセッションが
// コンテキストに注入されることを検証する。
func TestSessionMiddleware_ValidSession_InjectsSession(t *testing.T) {
	lifecycle := &mockSessionLifecycle{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "valid-session-id" {
				return &model.Session{
					ID:        "valid-session-id",
					UserID:    int64Ptr(7),
					ExpiresAt: time.Now().Add(time.Hour),
				}, nil
			}
			return nil, nil
		},
	}
	mw := NewSessionMiddleware(lifecycle)

	var capturedUserID int64
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedUserID != 7 {
		t.Errorf("userID = %d, want 7", capturedUserID)
	}
}

// TestSessionMiddleware_NoCookie_PassesThroughAnonymous はCookieなしのリクエストが
// 未認証のまま通過することを検証する。
func TestSessionMiddleware_NoCookie_PassesThroughAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(&mockSessionLifecycle{})

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if _, ok := SessionFromContext(r.Context()); ok {
			t.Error("expected no session in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("expected handler to be called for anonymous request")
	}
}

// TestSessionMiddleware_UnknownSession_PassesThroughAnonymous は存在しないセッションIDの
// リクエストが未認証のまま通過することを検証する。
func TestSessionMiddleware_UnknownSession_PassesThroughAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(&mockSessionLifecycle{})

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "unknown-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("expected handler to be called when session is not found")
	}
}

// TestSessionMiddleware_ExpiredSession_Returns401AndClearsCookie は期限切れセッションに
// SESSION_EXPIREDの401が返り、Cookieが消去されることを検証する。
func TestSessionMiddleware_ExpiredSession_Returns401AndClearsCookie(t *testing.T) {
	lifecycle := &mockSessionLifecycle{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, ExpiresAt: time.Now().Add(-time.Minute)}, nil
		},
		touchOrExpireFn: func(ctx context.Context, session *model.Session) error {
			return model.NewSessionExpiredError()
		},
	}
	mw := NewSessionMiddleware(lifecycle)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called for expired session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeSessionExpired {
		t.Errorf("error code = %q, want %q", body.Code, model.ErrCodeSessionExpired)
	}

	// Cookieの消去を確認
	cookies := w.Result().Cookies()
	cleared := false
	for _, c := range cookies {
		if c.Name == SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be cleared")
	}
}

// TestSessionMiddleware_StoreFailure_Returns500 はストア障害時に500になることを検証する。
func TestSessionMiddleware_StoreFailure_Returns500(t *testing.T) {
	lifecycle := &mockSessionLifecycle{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("store failure")
		},
	}
	mw := NewSessionMiddleware(lifecycle)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called on store failure")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// TestRequireAuth_AnonymousSession_Returns401 はユーザーに紐付かないセッションが
// 401で拒否されることを検証する。
func TestRequireAuth_AnonymousSession_Returns401(t *testing.T) {
	mw := RequireAuth()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called for anonymous session")
	}))

	sess := &model.Session{ID: "anonymous-session"}
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req = req.WithContext(ContextWithSession(req.Context(), sess))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestRequireAuth_NoSession_Returns401 はセッションなしのリクエストが拒否されることを検証する。
func TestRequireAuth_NoSession_Returns401(t *testing.T) {
	mw := RequireAuth()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called without a session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestRequireAuth_AuthenticatedSession_Passes は認証済みセッションが通過することを検証する。
func TestRequireAuth_AuthenticatedSession_Passes(t *testing.T) {
	mw := RequireAuth()
	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	sess := &model.Session{ID: "session-id", UserID: int64Ptr(7)}
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req = req.WithContext(ContextWithSession(req.Context(), sess))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("expected handler to be called")
	}
}

// TestSetSessionCookie_Attributes はセッションCookieの属性を検証する。
func TestSetSessionCookie_Attributes(t *testing.T) {
	w := httptest.NewRecorder()
	SetSessionCookie(w, "session-id-value", 86400, SessionCookieConfig{Secure: true, Domain: "example.com"})

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookie count = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != SessionCookieName || c.Value != "session-id-value" {
		t.Errorf("cookie = %s=%s, want %s=session-id-value", c.Name, c.Value, SessionCookieName)
	}
	if !c.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if !c.Secure {
		t.Error("session cookie must be Secure when configured")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", c.SameSite)
	}
	if c.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", c.MaxAge)
	}
}

// TestClearSessionCookie はCookie消去の属性を検証する。
func TestClearSessionCookie(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSessionCookie(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookie count = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Value != "" || c.MaxAge >= 0 {
		t.Errorf("expected empty expired cookie, got value=%q maxAge=%d", c.Value, c.MaxAge)
	}
}
