package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authd/internal/middleware"
	"github.com/hitoshi/authd/internal/model"
	"github.com/hitoshi/authd/internal/session"
)

// --- モック ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn             func(ctx context.Context, firstName, lastName, email, password string) (*model.User, error)
	loginFn                func(ctx context.Context, email, password, ipAddress string) (*model.User, error)
	requestPasswordResetFn func(ctx context.Context, email string) error
	resetPasswordFn        func(ctx context.Context, token, newPassword string) error
}

func (m *mockAuthService) Register(ctx context.Context, firstName, lastName, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, firstName, lastName, email, password)
	}
	return &model.User{ID: 1, FirstName: firstName, LastName: lastName, Email: email}, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password, ipAddress string) (*model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password, ipAddress)
	}
	return &model.User{ID: 1, Email: email}, nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, token, newPassword)
	}
	return nil
}

// mockSessionManager はSessionManagerInterfaceのモック実装。
type mockSessionManager struct {
	regenerateFn func(ctx context.Context, oldID string, meta session.Meta) (*model.Session, error)
	bindFn       func(ctx context.Context, sessionID string, userID int64, meta session.Meta) error
	destroyFn    func(ctx context.Context, sessionID string) error
	listActiveFn func(ctx context.Context, userID int64) ([]*model.Session, error)
	terminateFn  func(ctx context.Context, userID int64, sessionID string) error
}

func (m *mockSessionManager) Regenerate(ctx context.Context, oldID string, meta session.Meta) (*model.Session, error) {
	if m.regenerateFn != nil {
		return m.regenerateFn(ctx, oldID, meta)
	}
	return &model.Session{ID: "fresh-session-id"}, nil
}

func (m *mockSessionManager) Bind(ctx context.Context, sessionID string, userID int64, meta session.Meta) error {
	if m.bindFn != nil {
		return m.bindFn(ctx, sessionID, userID, meta)
	}
	return nil
}

func (m *mockSessionManager) Destroy(ctx context.Context, sessionID string) error {
	if m.destroyFn != nil {
		return m.destroyFn(ctx, sessionID)
	}
	return nil
}

func (m *mockSessionManager) ListActive(ctx context.Context, userID int64) ([]*model.Session, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSessionManager) Terminate(ctx context.Context, userID int64, sessionID string) error {
	if m.terminateFn != nil {
		return m.terminateFn(ctx, userID, sessionID)
	}
	return nil
}

// mockUserFinder はUserFinderInterfaceのモック実装。
type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id int64) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id int64) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// --- ヘルパー関数 ---

func newTestAuthHandler(service *mockAuthService, sessions *mockSessionManager, users *mockUserFinder) *AuthHandler {
	if service == nil {
		service = &mockAuthService{}
	}
	if sessions == nil {
		sessions = &mockSessionManager{}
	}
	if users == nil {
		users = &mockUserFinder{}
	}
	return NewAuthHandler(service, sessions, users, AuthHandlerConfig{
		CookieSecure:  true,
		SessionMaxAge: 86400,
	})
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	return &buf
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

// newRequestWithURLParam はchiのURLパラメータを持つテストリクエストを生成する。
func newRequestWithURLParam(t *testing.T, method, target, key, value string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- テスト ---

// TestAuthHandler_Register_Success は登録成功時に201とセッションCookieが返ることを検証する。
func TestAuthHandler_Register_Success(t *testing.T) {
	var boundUserID int64
	sessions := &mockSessionManager{
		regenerateFn: func(ctx context.Context, oldID string, meta session.Meta) (*model.Session, error) {
			return &model.Session{ID: "new-session-after-register"}, nil
		},
		bindFn: func(ctx context.Context, sessionID string, userID int64, meta session.Meta) error {
			boundUserID = userID
			return nil
		},
	}
	service := &mockAuthService{
		registerFn: func(ctx context.Context, firstName, lastName, email, password string) (*model.User, error) {
			return &model.User{ID: 42, FirstName: firstName, LastName: lastName, Email: email}, nil
		},
	}
	h := newTestAuthHandler(service, sessions, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, registerRequest{
		FirstName: "Taro",
		LastName:  "Yamada",
		Email:     "taro@example.com",
		Password:  "Passw0rd!",
	}))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if boundUserID != 42 {
		t.Errorf("expected session bound to user 42, got %d", boundUserID)
	}

	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if cookie.Value != "new-session-after-register" {
		t.Errorf("unexpected session cookie value: %s", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	var pub model.PublicUser
	if err := json.NewDecoder(rec.Body).Decode(&pub); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if pub.ID != 42 || pub.Email != "taro@example.com" {
		t.Errorf("unexpected public user: %+v", pub)
	}
}

// TestAuthHandler_Register_ValidationError は不正な入力が400で拒否されることを検証する。
func TestAuthHandler_Register_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		body registerRequest
	}{
		{"名が空", registerRequest{FirstName: "", LastName: "Yamada", Email: "taro@example.com", Password: "Passw0rd!"}},
		{"メール形式不正", registerRequest{FirstName: "Taro", LastName: "Yamada", Email: "not-an-email", Password: "Passw0rd!"}},
		{"パスワードが弱い", registerRequest{FirstName: "Taro", LastName: "Yamada", Email: "taro@example.com", Password: "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serviceCalled := false
			service := &mockAuthService{
				registerFn: func(ctx context.Context, firstName, lastName, email, password string) (*model.User, error) {
					serviceCalled = true
					return nil, nil
				},
			}
			h := newTestAuthHandler(service, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, tt.body))
			rec := httptest.NewRecorder()
			h.Register(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
			if serviceCalled {
				t.Error("service should not be called on validation error")
			}
			if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeValidationFailed {
				t.Errorf("expected code VALIDATION_FAILED, got %s", body.Code)
			}
		})
	}
}

// TestAuthHandler_Register_Duplicate はメール重複が409を返すことを検証する。
func TestAuthHandler_Register_Duplicate(t *testing.T) {
	service := &mockAuthService{
		registerFn: func(ctx context.Context, firstName, lastName, email, password string) (*model.User, error) {
			return nil, model.NewDuplicateIdentityError()
		},
	}
	h := newTestAuthHandler(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, registerRequest{
		FirstName: "Taro",
		LastName:  "Yamada",
		Email:     "taro@example.com",
		Password:  "Passw0rd!",
	}))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeDuplicateIdentity {
		t.Errorf("expected code DUPLICATE_IDENTITY, got %s", body.Code)
	}
}

// TestAuthHandler_Login_Success はログイン成功時にセッションIDが再生成されることを検証する。
func TestAuthHandler_Login_Success(t *testing.T) {
	var regeneratedOldID string
	sessions := &mockSessionManager{
		regenerateFn: func(ctx context.Context, oldID string, meta session.Meta) (*model.Session, error) {
			regeneratedOldID = oldID
			return &model.Session{ID: "regenerated-session-id"}, nil
		},
	}
	h := newTestAuthHandler(nil, sessions, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{
		Email:    "taro@example.com",
		Password: "Passw0rd!",
	}))
	// ログイン前から持っていた匿名セッションのCookie
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "pre-login-session-id"})
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if regeneratedOldID != "pre-login-session-id" {
		t.Errorf("expected old session ID to be passed to Regenerate, got %q", regeneratedOldID)
	}

	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if cookie.Value == "pre-login-session-id" {
		t.Error("session ID should be regenerated on login")
	}
	if cookie.Value != "regenerated-session-id" {
		t.Errorf("unexpected session cookie value: %s", cookie.Value)
	}
}

// TestAuthHandler_Login_PassesClientIP はログイン試行にクライアントIPが渡されることを検証する。
func TestAuthHandler_Login_PassesClientIP(t *testing.T) {
	var gotIP string
	service := &mockAuthService{
		loginFn: func(ctx context.Context, email, password, ipAddress string) (*model.User, error) {
			gotIP = ipAddress
			return &model.User{ID: 1, Email: email}, nil
		},
	}
	h := newTestAuthHandler(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{
		Email:    "taro@example.com",
		Password: "Passw0rd!",
	}))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if gotIP != "203.0.113.7" {
		t.Errorf("expected client IP 203.0.113.7, got %q", gotIP)
	}
}

// TestAuthHandler_Login_InvalidCredentials は認証失敗が401を返すことを検証する。
func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	service := &mockAuthService{
		loginFn: func(ctx context.Context, email, password, ipAddress string) (*model.User, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := newTestAuthHandler(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{
		Email:    "taro@example.com",
		Password: "WrongPass1!",
	}))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("expected code INVALID_CREDENTIALS, got %s", body.Code)
	}
	if sessionCookie(rec) != nil {
		t.Error("session cookie should not be set on login failure")
	}
}

// TestAuthHandler_Login_LockedOut は試行回数超過が429を返すことを検証する。
func TestAuthHandler_Login_LockedOut(t *testing.T) {
	service := &mockAuthService{
		loginFn: func(ctx context.Context, email, password, ipAddress string) (*model.User, error) {
			return nil, model.NewTooManyAttemptsError()
		},
	}
	h := newTestAuthHandler(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{
		Email:    "taro@example.com",
		Password: "Passw0rd!",
	}))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeTooManyAttempts {
		t.Errorf("expected code TOO_MANY_ATTEMPTS, got %s", body.Code)
	}
}

// TestAuthHandler_Logout はログアウト時にセッションが破棄されCookieが消去されることを検証する。
func TestAuthHandler_Logout(t *testing.T) {
	var destroyedID string
	sessions := &mockSessionManager{
		destroyFn: func(ctx context.Context, sessionID string) error {
			destroyedID = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(nil, sessions, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	sess := &model.Session{ID: "active-session-id", UserID: int64Ptr(7)}
	req = req.WithContext(middleware.ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	if destroyedID != "active-session-id" {
		t.Errorf("expected session to be destroyed, got %q", destroyedID)
	}

	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("expected session cookie to be cleared")
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("expected negative MaxAge, got %d", cookie.MaxAge)
	}
}

// TestAuthHandler_Logout_WithoutSession はセッションなしのログアウトでも204を返すことを検証する。
func TestAuthHandler_Logout_WithoutSession(t *testing.T) {
	destroyCalled := false
	sessions := &mockSessionManager{
		destroyFn: func(ctx context.Context, sessionID string) error {
			destroyCalled = true
			return nil
		},
	}
	h := newTestAuthHandler(nil, sessions, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	if destroyCalled {
		t.Error("Destroy should not be called without a session")
	}
	if sessionCookie(rec) == nil {
		t.Error("session cookie should still be cleared")
	}
}

// TestAuthHandler_Me は認証済みセッションでユーザー情報が返ることを検証する。
func TestAuthHandler_Me(t *testing.T) {
	users := &mockUserFinder{
		findByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return &model.User{ID: id, Email: "taro@example.com", FirstName: "Taro", LastName: "Yamada"}, nil
		},
	}
	h := newTestAuthHandler(nil, nil, users)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	sess := &model.Session{ID: "active-session-id", UserID: int64Ptr(7)}
	req = req.WithContext(middleware.ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var pub model.PublicUser
	if err := json.NewDecoder(rec.Body).Decode(&pub); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if pub.ID != 7 || pub.Email != "taro@example.com" {
		t.Errorf("unexpected public user: %+v", pub)
	}
	if strings.Contains(rec.Body.String(), "PasswordHash") {
		t.Error("response should not contain internal fields")
	}
}

// TestAuthHandler_Me_Unauthenticated は未認証リクエストに401を返すことを検証する。
func TestAuthHandler_Me_Unauthenticated(t *testing.T) {
	h := newTestAuthHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

// TestAuthHandler_Me_UserDeleted はユーザー削除済みセッションでCookieが消去されることを検証する。
func TestAuthHandler_Me_UserDeleted(t *testing.T) {
	users := &mockUserFinder{
		findByIDFn: func(ctx context.Context, id int64) (*model.User, error) {
			return nil, nil
		},
	}
	h := newTestAuthHandler(nil, nil, users)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	sess := &model.Session{ID: "orphan-session-id", UserID: int64Ptr(99)}
	req = req.WithContext(middleware.ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeUserNotFound {
		t.Errorf("expected code USER_NOT_FOUND, got %s", body.Code)
	}

	cookie := sessionCookie(rec)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Error("expected session cookie to be cleared")
	}
}

// TestAuthHandler_RequestPasswordReset_UniformResponse はメールの登録有無や
// 内部エラーにかかわらず常に同一の200応答を返すことを検証する。
func TestAuthHandler_RequestPasswordReset_UniformResponse(t *testing.T) {
	tests := []struct {
		name    string
		resetFn func(ctx context.Context, email string) error
	}{
		{"登録済みメール", func(ctx context.Context, email string) error { return nil }},
		{"内部エラー発生", func(ctx context.Context, email string) error { return errors.New("smtp connection refused") }},
	}

	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockAuthService{requestPasswordResetFn: tt.resetFn}
			h := newTestAuthHandler(service, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/password-reset", jsonBody(t, passwordResetRequest{
				Email: "taro@example.com",
			}))
			rec := httptest.NewRecorder()
			h.RequestPasswordReset(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rec.Code)
			}
			bodies = append(bodies, rec.Body.String())
		})
	}

	if len(bodies) == 2 && bodies[0] != bodies[1] {
		t.Error("responses should be indistinguishable regardless of outcome")
	}
}

// TestAuthHandler_RequestPasswordReset_InvalidEmail は形式不正なメールが400を返すことを検証する。
func TestAuthHandler_RequestPasswordReset_InvalidEmail(t *testing.T) {
	h := newTestAuthHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/password-reset", jsonBody(t, passwordResetRequest{
		Email: "not-an-email",
	}))
	rec := httptest.NewRecorder()
	h.RequestPasswordReset(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

// TestAuthHandler_ResetPassword_Success はトークン償還の成功応答を検証する。
func TestAuthHandler_ResetPassword_Success(t *testing.T) {
	var gotToken, gotPassword string
	service := &mockAuthService{
		resetPasswordFn: func(ctx context.Context, token, newPassword string) error {
			gotToken = token
			gotPassword = newPassword
			return nil
		},
	}
	h := newTestAuthHandler(service, nil, nil)

	req := newRequestWithURLParam(t, http.MethodPost, "/api/auth/password-reset/abc123", "token", "abc123",
		jsonBody(t, resetPasswordRequest{Password: "NewPassw0rd!"}))
	rec := httptest.NewRecorder()
	h.ResetPassword(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotToken != "abc123" {
		t.Errorf("expected token abc123, got %q", gotToken)
	}
	if gotPassword != "NewPassw0rd!" {
		t.Errorf("unexpected new password: %q", gotPassword)
	}
}

// TestAuthHandler_ResetPassword_InvalidToken は無効なトークンが400を返すことを検証する。
func TestAuthHandler_ResetPassword_InvalidToken(t *testing.T) {
	service := &mockAuthService{
		resetPasswordFn: func(ctx context.Context, token, newPassword string) error {
			return model.NewInvalidOrExpiredTokenError()
		},
	}
	h := newTestAuthHandler(service, nil, nil)

	req := newRequestWithURLParam(t, http.MethodPost, "/api/auth/password-reset/expired", "token", "expired",
		jsonBody(t, resetPasswordRequest{Password: "NewPassw0rd!"}))
	rec := httptest.NewRecorder()
	h.ResetPassword(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeInvalidOrExpiredToken {
		t.Errorf("expected code INVALID_OR_EXPIRED_TOKEN, got %s", body.Code)
	}
}

// TestAuthHandler_ResetPassword_WeakPassword は弱い新パスワードが400で拒否されることを検証する。
func TestAuthHandler_ResetPassword_WeakPassword(t *testing.T) {
	serviceCalled := false
	service := &mockAuthService{
		resetPasswordFn: func(ctx context.Context, token, newPassword string) error {
			serviceCalled = true
			return nil
		},
	}
	h := newTestAuthHandler(service, nil, nil)

	req := newRequestWithURLParam(t, http.MethodPost, "/api/auth/password-reset/abc123", "token", "abc123",
		jsonBody(t, resetPasswordRequest{Password: "weak"}))
	rec := httptest.NewRecorder()
	h.ResetPassword(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if serviceCalled {
		t.Error("service should not be called on validation error")
	}
}
