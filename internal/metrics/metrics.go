// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordRegistration()
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordLockout()
	RecordResetRequest()
	RecordResetRedemption()
	RecordSessionCreated()
	RecordSessionDestroyed()
	RecordSessionExpired()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations    prometheus.Counter
	loginSuccess     prometheus.Counter
	loginFail        prometheus.Counter
	lockouts         prometheus.Counter
	resetRequests    prometheus.Counter
	resetRedemptions prometheus.Counter
	sessionCreated   prometheus.Counter
	sessionDestroyed prometheus.Counter
	sessionExpired   prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_registrations_total",
			Help: "ユーザー登録の合計数",
		}),
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_login_fail_total",
			Help: "ログイン失敗の合計数",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_lockouts_total",
			Help: "試行回数超過によるログイン拒否の合計数",
		}),
		resetRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_password_reset_requests_total",
			Help: "パスワード再設定リクエストの合計数",
		}),
		resetRedemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_password_reset_redemptions_total",
			Help: "パスワード再設定トークン償還の合計数",
		}),
		sessionCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_sessions_created_total",
			Help: "作成されたセッションの合計数",
		}),
		sessionDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_sessions_destroyed_total",
			Help: "破棄されたセッションの合計数",
		}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_sessions_expired_total",
			Help: "期限切れにより破棄されたセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.registrations,
		c.loginSuccess,
		c.loginFail,
		c.lockouts,
		c.resetRequests,
		c.resetRedemptions,
		c.sessionCreated,
		c.sessionDestroyed,
		c.sessionExpired,
		c.httpStatus,
	)

	return c
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFail.Inc()
}

// RecordLockout は試行回数超過によるログイン拒否を記録する。
func (c *Collector) RecordLockout() {
	c.lockouts.Inc()
}

// RecordResetRequest はパスワード再設定リクエストを記録する。
func (c *Collector) RecordResetRequest() {
	c.resetRequests.Inc()
}

// RecordResetRedemption はパスワード再設定トークンの償還を記録する。
func (c *Collector) RecordResetRedemption() {
	c.resetRedemptions.Inc()
}

// RecordSessionCreated はセッション作成を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionCreated.Inc()
}

// RecordSessionDestroyed はセッション破棄を記録する。
func (c *Collector) RecordSessionDestroyed() {
	c.sessionDestroyed.Inc()
}

// RecordSessionExpired は期限切れによるセッション破棄を記録する。
func (c *Collector) RecordSessionExpired() {
	c.sessionExpired.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
