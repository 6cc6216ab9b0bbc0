// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authd/internal/middleware"
	"github.com/hitoshi/authd/internal/model"
	"github.com/hitoshi/authd/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, firstName, lastName, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password, ipAddress string) (*model.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// SessionManagerInterface はハンドラーが必要とするセッションライフサイクルの
// インターフェース。session.Managerの部分集合として定義する。
type SessionManagerInterface interface {
	Regenerate(ctx context.Context, oldID string, meta session.Meta) (*model.Session, error)
	Bind(ctx context.Context, sessionID string, userID int64, meta session.Meta) error
	Destroy(ctx context.Context, sessionID string) error
	ListActive(ctx context.Context, userID int64) ([]*model.Session, error)
	Terminate(ctx context.Context, userID int64, sessionID string) error
}

// UserFinderInterface は/meエンドポイントが必要とするユーザー検索インターフェース。
type UserFinderInterface interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はパスワード認証とセッション管理のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionManagerInterface
	users    UserFinderInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionManagerInterface, users UserFinderInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		users:    users,
		config:   config,
	}
}

// registerRequest はユーザー登録のリクエストボディ。
type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Register は新規ユーザーを登録し、そのままログイン状態にする。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewValidationFailedError("リクエストボディを解釈できません"))
		return
	}

	if err := validateName("名", req.FirstName); err != nil {
		handleServiceError(w, model.NewValidationFailedError(err.Error()))
		return
	}
	if err := validateName("姓", req.LastName); err != nil {
		handleServiceError(w, model.NewValidationFailedError(err.Error()))
		return
	}
	if err := validateEmail(req.Email); err != nil {
		handleServiceError(w, model.NewValidationFailedError(err.Error()))
		return
	}
	if err := validatePassword(req.Password); err != nil {
		handleServiceError(w, model.NewValidationFailedError(err.Error()))
		return
	}

	user, err := h.service.Register(r.Context(), req.FirstName, req.LastName, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 登録直後にログイン状態とする。セッションIDは必ず再生成する。
	if err := h.establishSession(w, r, user.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, user.Public())
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はメールアドレスとパスワードで認証し、セッションを確立する。
// 認証成功時はセッションIDを再生成し、ログイン前に付与されたIDを
// 引き継がない（セッション固定攻撃対策）。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewValidationFailedError("リクエストボディを解釈できません"))
		return
	}
	if req.Email == "" || req.Password == "" {
		handleServiceError(w, model.NewValidationFailedError("メールアドレスとパスワードを入力してください"))
		return
	}

	meta := session.MetaFromRequest(r)
	user, err := h.service.Login(r.Context(), req.Email, req.Password, meta.IPAddress)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.establishSession(w, r, user.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, user.Public())
}

// Logout はセッションを破棄し、Cookieを消去する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if ok {
		if err := h.sessions.Destroy(r.Context(), sess.ID); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	middleware.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在ログイン中のユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		// セッションが残っているがユーザーが削除済み
		middleware.ClearSessionCookie(w)
		handleServiceError(w, model.NewUserNotFoundError())
		return
	}

	writeJSONResponse(w, http.StatusOK, user.Public())
}

// passwordResetRequest はパスワード再設定リクエストのボディ。
type passwordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset はパスワード再設定トークンを発行する。
// アカウント列挙を防ぐため、メールアドレスの登録有無にかかわらず
// 常に同一の応答を返す。内部エラーもログに記録するのみで外に出さない。
// POST /api/auth/password-reset
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewValidationFailedError("リクエストボディを解釈できません"))
		return
	}
	if err := validateEmail(req.Email); err != nil {
		handleServiceError(w, model.NewValidationFailedError(err.Error()))
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		slog.Error("password reset request failed", slog.String("error", err.Error()))
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{
		"message": "登録されているメールアドレスの場合、パスワード再設定の案内を送信しました。",
	})
}

// resetPasswordRequest はパスワード再設定実行のボディ。
type resetPasswordRequest struct {
	Password string `json:"password"`
}

// ResetPassword は再設定トークンを償還し、新しいパスワードを設定する。
// 成功すると当該ユーザーの全セッションが破棄されるため、再ログインが必要になる。
// POST /api/auth/password-reset/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	if token == "" {
		handleServiceError(w, model.NewInvalidOrExpiredTokenError())
		return
	}

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewValidationFailedError("リクエストボディを解釈できません"))
		return
	}
	if err := validatePassword(req.Password); err != nil {
		handleServiceError(w, model.NewValidationFailedError(err.Error()))
		return
	}

	if err := h.service.ResetPassword(r.Context(), token, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{
		"message": "パスワードを再設定しました。新しいパスワードでログインしてください。",
	})
}

// establishSession はセッションIDを再生成し、ユーザーを紐付け、Cookieを設定する。
func (h *AuthHandler) establishSession(w http.ResponseWriter, r *http.Request, userID int64) error {
	meta := session.MetaFromRequest(r)

	var oldID string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		oldID = cookie.Value
	}

	fresh, err := h.sessions.Regenerate(r.Context(), oldID, meta)
	if err != nil {
		return err
	}
	if err := h.sessions.Bind(r.Context(), fresh.ID, userID, meta); err != nil {
		return err
	}

	middleware.SetSessionCookie(w, fresh.ID, h.config.SessionMaxAge, middleware.SessionCookieConfig{
		Secure: h.config.CookieSecure,
		Domain: h.config.CookieDomain,
	})
	return nil
}

// --- ヘルパー関数 ---

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// sessionResponse はセッション一覧のAPIレスポンス。
type sessionResponse struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"userAgent"`
	IPAddress    string    `json:"ipAddress"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	Current      bool      `json:"current"`
}
