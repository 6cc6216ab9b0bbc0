package auth

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Mailer はパスワード再設定メールの送信インターフェース。
type Mailer interface {
	// SendPasswordReset は再設定リンクを含むメールを送信する。
	// firstName, lastNameは本文の宛名に使用される。
	SendPasswordReset(ctx context.Context, toEmail, firstName, lastName, resetURL string) error
}

// SMTPConfig はSMTPメーラーの設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer はSMTP経由でメールを送信するMailerの実装。
// ユーザー名はHTML本文に埋め込まれるため、bluemondayの厳格ポリシーで
// マークアップをすべて除去してから使用する。登録時の検証をすり抜けた
// 値がテンプレート注入になることを防ぐ。
type SMTPMailer struct {
	config SMTPConfig
	policy *bluemonday.Policy
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		config: config,
		policy: bluemonday.StrictPolicy(),
	}
}

// SendPasswordReset は再設定リンクを含むメールを送信する。
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, toEmail, firstName, lastName, resetURL string) error {
	msg := m.buildMessage(toEmail, firstName, lastName, resetURL)

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := smtp.SendMail(addr, auth, m.config.From, []string{toEmail}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// buildMessage はヘッダー込みのメールメッセージを組み立てる。
func (m *SMTPMailer) buildMessage(toEmail, firstName, lastName, resetURL string) string {
	name := strings.TrimSpace(m.policy.Sanitize(firstName) + " " + m.policy.Sanitize(lastName))

	var body strings.Builder
	body.WriteString("<html><body>")
	if name != "" {
		fmt.Fprintf(&body, "<p>%s 様</p>", name)
	}
	body.WriteString("<p>パスワード再設定のリクエストを受け付けました。</p>")
	body.WriteString("<p>以下のリンクから新しいパスワードを設定してください。リンクの有効期限は1時間です。</p>")
	fmt.Fprintf(&body, `<p><a href="%s">パスワードを再設定する</a></p>`, resetURL)
	body.WriteString("<p>このリクエストに心当たりがない場合は、このメールを破棄してください。</p>")
	body.WriteString("</body></html>")

	return strings.Join([]string{
		"From: " + m.config.From,
		"To: " + toEmail,
		"Subject: =?UTF-8?B?44OR44K544Ov44O844OJ5YaN6Kit5a6a44Gu44GU5qGI5YaF?=",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		body.String(),
	}, "\r\n")
}

// compile-time interface check
var _ Mailer = (*SMTPMailer)(nil)
