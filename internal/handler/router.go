package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authd/internal/auth"
	"github.com/hitoshi/authd/internal/metrics"
	"github.com/hitoshi/authd/internal/middleware"
	"github.com/hitoshi/authd/internal/security"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// sql.DBのPingContextがこれを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionLifecycle middleware.SessionLifecycle
	RateLimiter      *middleware.RateLimiter
	CORSOrigins      []string
	CSRFConfig       middleware.CSRFConfig
	Logger           *slog.Logger
	Metrics          metrics.MetricsCollector
	Gatherer         prometheus.Gatherer

	// 認証
	AuthService    AuthServiceInterface
	SessionManager SessionManagerInterface
	UserFinder     UserFinderInterface
	AuthConfig     AuthHandlerConfig

	// OAuth
	OAuthProvider auth.OAuthProvider
	OAuthResolver IdentityResolverInterface
	RedirectGuard security.RedirectGuardService
	OAuthConfig   OAuthHandlerConfig

	// ヘルスチェック
	HealthChecker HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit(General) → Session → CSRF
//
// ログイン・パスワード再設定には認証エンドポイント専用のレート制限を追加する。
// /healthと/metricsはミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionManager, deps.UserFinder, deps.AuthConfig)
	sessionHandler := NewSessionHandler(deps.SessionManager)
	oauthHandler := NewOAuthHandler(deps.OAuthProvider, deps.OAuthResolver, deps.SessionManager, deps.RedirectGuard, deps.OAuthConfig)

	// --- 運用エンドポイント（ミドルウェアチェーンの外） ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRecoveryMiddleware())
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSOrigins))
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewSessionMiddleware(deps.SessionLifecycle))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Route("/api/auth", func(r chi.Router) {
			// 認証前エンドポイント（専用レート制限付き）
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/password-reset", authHandler.RequestPasswordReset)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/password-reset/{token}", authHandler.ResetPassword)

			// OAuthフロー（ブラウザ遷移）
			r.Get("/google", oauthHandler.Login)
			r.Get("/google/callback", oauthHandler.Callback)

			// ログアウトはセッションの有無にかかわらず成功する
			r.Post("/logout", authHandler.Logout)

			// 認証必須エンドポイント
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth())

				r.Get("/me", authHandler.Me)
				r.Get("/sessions", sessionHandler.List)
				r.Delete("/sessions/{sessionID}", sessionHandler.Terminate)
			})
		})
	})

	return r
}

// NewHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		statusCode := http.StatusOK

		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				status = "unavailable"
				statusCode = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
