// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashとGoogleIDは少なくとも一方が設定される。
// GoogleIDのみのユーザーはOAuth専用アカウントであり、パスワードログインはできない。
type User struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	GoogleID     *string
	PasswordHash *string
	CreatedAt    time.Time
}

// HasPassword はパスワードログインが可能かどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// PublicUser はAPIレスポンスに含めてよいユーザー情報の投影。
// パスワードハッシュ等の内部情報は含まない。
type PublicUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Public はUserから公開投影を生成する。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// Session はサーバー側で追跡するログインセッションを表す。
// UserIDがnilのセッションは認証前（匿名）であり、いかなる権限も持たない。
type Session struct {
	ID           string
	UserID       *int64
	UserAgent    string
	IPAddress    string
	LastActivity time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired は絶対有効期限を過ぎているかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// PasswordResetToken は未使用のパスワード再設定グラントを表す。
// TokenDigestには平文トークンの一方向ダイジェストのみを保存する。
// Usedはfalse→trueに一度だけ遷移し、元に戻ることはない。
type PasswordResetToken struct {
	ID          string
	UserID      int64
	TokenDigest string
	ExpiresAt   time.Time
	Used        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LoginAttempt はログイン試行の追記専用監査レコードを表す。
// 作成後に更新・削除されることはない（保持期間超過後のバッチ削除を除く）。
type LoginAttempt struct {
	ID          string
	Email       string
	Success     bool
	IPAddress   string
	AttemptedAt time.Time
}
