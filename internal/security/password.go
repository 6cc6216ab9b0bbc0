// Package security はアプリケーションのセキュリティ機能を提供する。
//
// パスワードと再設定トークンのダイジェスト生成・検証、
// OAuthリダイレクト先の検証、外部IdPへの安全なHTTPクライアント生成を担う。
package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost はパスワードハッシュのコストパラメータ。
const bcryptCost = 10

// HashPassword は平文パスワードの一方向ダイジェストを生成する。
// bcryptはソルトを内包するため、同一入力でも呼び出しごとに異なる出力となる。
func HashPassword(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// VerifyPassword は平文パスワードとダイジェストを照合する。
// bcryptの比較は不一致位置に依存しない一定時間で行われる。
// ダイジェストが不正な形式の場合もパニックせずfalseを返す。
func VerifyPassword(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
