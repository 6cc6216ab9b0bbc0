package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// resetTokenBytes は再設定トークンの乱数長（バイト）。hex表現で64文字になる。
const resetTokenBytes = 32

// GenerateResetToken は暗号的に安全なパスワード再設定トークンを生成する。
// 返される平文はユーザーへのメール送信にのみ使用し、永続化には
// HashResetTokenで生成したダイジェストのみを保存する。
// ストアが漏洩しても有効なトークンは復元できない。
func GenerateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashResetToken は再設定トークンの永続化用ダイジェストを生成する。
// パスワードと同じbcryptダイジェストを使用する。
func HashResetToken(token string) (string, error) {
	return HashPassword(token)
}

// VerifyResetToken は平文トークンと永続化されたダイジェストを照合する。
func VerifyResetToken(token, digest string) bool {
	return VerifyPassword(token, digest)
}

// GenerateSessionID は推測不可能なセッションIDを生成する。
// 32バイトの暗号乱数をhexエンコードした64文字の文字列を返す。
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}
