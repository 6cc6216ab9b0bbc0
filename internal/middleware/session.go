// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authd/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionLifecycle はセッションの検索と期限管理に必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionLifecycle interface {
	Find(ctx context.Context, id string) (*model.Session, error)
	TouchOrExpire(ctx context.Context, session *model.Session) error
}

// NewSessionMiddleware はHTTP Only CookieからセッションIDを読み取り、
// 有効なセッションをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、またはセッションが存在しない場合は未認証のまま通過させる
// （認証の強制はRequireAuthが行う）。
// 期限切れセッションには専用コードSESSION_EXPIREDの401を返し、Cookieを消去する。
// クライアントはこれにより未ログインと期限切れを区別できる。
func NewSessionMiddleware(lifecycle SessionLifecycle) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			// 2. セッションを取得
			sess, err := lifecycle.Find(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if sess == nil {
				next.ServeHTTP(w, r)
				return
			}

			// 3. 期限判定とスライド延長
			if err := lifecycle.TouchOrExpire(r.Context(), sess); err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSessionExpired {
					ClearSessionCookie(w)
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to touch session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 4. セッションをコンテキストに注入
			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth は認証済みユーザーに紐付いたセッションを必須とするミドルウェアを返す。
// 未認証リクエストには401を返す。SessionMiddlewareの後段に配置する。
func RequireAuth() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok || sess.UserID == nil {
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*model.Session)
	return sess, ok
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
// RequireAuthを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	sess, ok := SessionFromContext(ctx)
	if !ok || sess.UserID == nil {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return *sess.UserID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionCookieConfig はセッションCookieの属性設定。
type SessionCookieConfig struct {
	Secure bool
	Domain string
}

// SetSessionCookie はセッションIDをHttpOnly Cookieとして設定する。
// SameSite=StrictによりクロスサイトリクエストにCookieは送信されない。
func SetSessionCookie(w http.ResponseWriter, sessionID string, maxAge int, config SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie はセッションCookieを消去する。
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
