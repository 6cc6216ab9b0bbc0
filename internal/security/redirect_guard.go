package security

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// RedirectGuardService はOAuthフローのリダイレクト先検証のインターフェースを定義する。
// オープンリダイレクト脆弱性を防ぐため、認可開始時とコールバック時の両方で使用される。
type RedirectGuardService interface {
	// ValidateRedirect はリダイレクト先URLの安全性を検証する。
	// ルート相対パス（"/"始まり）は常に許可される。
	// 絶対URLは許可ドメインリストに含まれるホストのみ許可され、
	// リストが空の場合は一切許可されない。
	// パース不能なURLは不正とみなす。
	ValidateRedirect(rawURL string) bool
}

// redirectGuard はRedirectGuardServiceの実装。
type redirectGuard struct {
	allowedDomains []string
}

// NewRedirectGuard はRedirectGuardServiceの新しいインスタンスを生成する。
// allowedDomainsには絶対URLのリダイレクトを許可するホスト名を指定する。
// 空の場合、絶対URLはすべて拒否される（セキュリティ契約）。
func NewRedirectGuard(allowedDomains []string) *redirectGuard {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return &redirectGuard{allowedDomains: domains}
}

// ValidateRedirect はリダイレクト先URLの安全性を検証する。
func (g *redirectGuard) ValidateRedirect(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	// ルート相対パスは常に許可
	// "//host" 形式はスキーム相対URLであり外部への遷移になるため拒否する
	if strings.HasPrefix(rawURL, "/") && !strings.HasPrefix(rawURL, "//") {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	// 絶対URL: スキームはhttp/httpsのみ、ホストは許可リストとの完全一致
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	for _, allowed := range g.allowedDomains {
		if host == allowed {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ RedirectGuardService = (*redirectGuard)(nil)

// NewSafeOutboundClient は外部IdPへのリクエストに使用するHTTPクライアントを生成する。
// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
// メタデータIPへのリクエストが自動的にブロックされる。
// トークン/ユーザー情報エンドポイントは設定で差し替え可能なため、
// 設定ミスや悪意ある値による内部ネットワークへの到達をここで遮断する。
// DNS再バインディング攻撃への対策も有効化される。
func NewSafeOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}
