package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/authd/internal/auth"
	"github.com/hitoshi/authd/internal/middleware"
	"github.com/hitoshi/authd/internal/model"
	"github.com/hitoshi/authd/internal/security"
	"github.com/hitoshi/authd/internal/session"
)

const oauthStateCookie = "oauth_state"

// IdentityResolverInterface はOAuthユーザー情報をローカルユーザーに解決する
// サービスインターフェース。
type IdentityResolverInterface interface {
	ResolveGoogleIdentity(ctx context.Context, info *auth.OAuthUserInfo) (*model.User, error)
}

// OAuthHandlerConfig はOAuthハンドラーの設定。
type OAuthHandlerConfig struct {
	CookieDomain    string
	CookieSecure    bool
	SessionMaxAge   int    // セッションCookieの有効期間（秒）
	SuccessRedirect string // redirect_to未指定時の遷移先
	FailureRedirect string // 認証失敗時の遷移先
}

// OAuthHandler はGoogle OAuthフローのHTTPハンドラー。
type OAuthHandler struct {
	provider auth.OAuthProvider
	resolver IdentityResolverInterface
	sessions SessionManagerInterface
	guard    security.RedirectGuardService
	config   OAuthHandlerConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(
	provider auth.OAuthProvider,
	resolver IdentityResolverInterface,
	sessions SessionManagerInterface,
	guard security.RedirectGuardService,
	config OAuthHandlerConfig,
) *OAuthHandler {
	if config.SuccessRedirect == "" {
		config.SuccessRedirect = "/"
	}
	if config.FailureRedirect == "" {
		config.FailureRedirect = "/login"
	}
	return &OAuthHandler{
		provider: provider,
		resolver: resolver,
		sessions: sessions,
		guard:    guard,
		config:   config,
	}
}

// oauthState はstateクッキーに保存する認可フローの進行状態。
// CSRF検証用のランダム値と、認証完了後の遷移先を保持する。
type oauthState struct {
	State      string `json:"state"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// Login はGoogle OAuthフローを開始する。
// redirect_toクエリパラメータはリダイレクトガードで検証し、
// 許可されない値は無視してデフォルトの遷移先を使用する。
// GET /api/auth/google?redirect_to=...
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	pending := oauthState{State: state}
	if redirectTo := r.URL.Query().Get("redirect_to"); redirectTo != "" {
		if h.guard.ValidateRedirect(redirectTo) {
			pending.RedirectTo = redirectTo
		} else {
			slog.Warn("rejected redirect_to parameter",
				slog.String("redirect_to", redirectTo),
			)
		}
	}

	encoded, err := encodeOAuthState(pending)
	if err != nil {
		slog.Error("failed to encode oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 進行状態をCookieに保存（stateはCSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    encoded,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// ブラウザフローのため、失敗時はJSONではなく失敗画面へのリダイレクトで応答する。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	pending, ok := h.consumeOAuthState(w, r)
	if !ok {
		h.redirectFailure(w, r, "invalid_state")
		return
	}

	// 2. IdP側でのエラー（同意拒否等）
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		slog.Info("oauth flow denied by provider", slog.String("error", errCode))
		h.redirectFailure(w, r, "access_denied")
		return
	}

	// 3. 認可コードの取得と交換
	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectFailure(w, r, "missing_code")
		return
	}

	info, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		h.redirectFailure(w, r, "upstream_auth_failed")
		return
	}

	// 4. ローカルユーザーへの解決
	user, err := h.resolver.ResolveGoogleIdentity(r.Context(), info)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeMissingEmail {
			h.redirectFailure(w, r, "missing_email")
			return
		}
		slog.Error("oauth identity resolution failed", slog.String("error", err.Error()))
		h.redirectFailure(w, r, "upstream_auth_failed")
		return
	}

	// 5. セッションを再生成してユーザーを紐付け
	meta := session.MetaFromRequest(r)
	var oldID string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		oldID = cookie.Value
	}

	fresh, err := h.sessions.Regenerate(r.Context(), oldID, meta)
	if err != nil {
		slog.Error("failed to regenerate session", slog.String("error", err.Error()))
		h.redirectFailure(w, r, "session_error")
		return
	}
	if err := h.sessions.Bind(r.Context(), fresh.ID, user.ID, meta); err != nil {
		slog.Error("failed to bind session", slog.String("error", err.Error()))
		h.redirectFailure(w, r, "session_error")
		return
	}

	middleware.SetSessionCookie(w, fresh.ID, h.config.SessionMaxAge, middleware.SessionCookieConfig{
		Secure: h.config.CookieSecure,
		Domain: h.config.CookieDomain,
	})

	// 6. 検証済みの遷移先へリダイレクト
	target := h.config.SuccessRedirect
	if pending.RedirectTo != "" && h.guard.ValidateRedirect(pending.RedirectTo) {
		target = pending.RedirectTo
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// consumeOAuthState はstateクッキーを検証・削除し、保存された進行状態を返す。
func (h *OAuthHandler) consumeOAuthState(w http.ResponseWriter, r *http.Request) (oauthState, bool) {
	defer http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" {
		slog.Warn("oauth state cookie missing")
		return oauthState{}, false
	}

	pending, err := decodeOAuthState(cookie.Value)
	if err != nil {
		slog.Warn("oauth state cookie malformed", slog.String("error", err.Error()))
		return oauthState{}, false
	}

	queryState := r.URL.Query().Get("state")
	if queryState == "" || queryState != pending.State {
		slog.Warn("oauth state mismatch")
		return oauthState{}, false
	}

	return pending, true
}

// redirectFailure は失敗画面へエラーコード付きでリダイレクトする。
func (h *OAuthHandler) redirectFailure(w http.ResponseWriter, r *http.Request, reason string) {
	target := h.config.FailureRedirect
	if parsed, err := url.Parse(target); err == nil {
		q := parsed.Query()
		q.Set("error", reason)
		parsed.RawQuery = q.Encode()
		target = parsed.String()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// encodeOAuthState は進行状態をCookie値にエンコードする。
func encodeOAuthState(s oauthState) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeOAuthState はCookie値から進行状態をデコードする。
func decodeOAuthState(encoded string) (oauthState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return oauthState{}, err
	}
	var s oauthState
	if err := json.Unmarshal(raw, &s); err != nil {
		return oauthState{}, err
	}
	return s, nil
}

// generateState は暗号的に安全なstateパラメータを生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
