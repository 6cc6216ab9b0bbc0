// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// メールアドレスまたはGoogle IDが既に登録されている場合に返される。
var ErrDuplicate = errors.New("duplicate identity")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	// メールアドレスは小文字に正規化して照合する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByGoogleID はGoogle IDでユーザーを検索する。見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	// メールアドレスまたはGoogle IDが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePassword はユーザーのパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error

	// LinkGoogleID は既存ユーザーにGoogle IDを紐付ける。
	// 既に他のユーザーに紐付いている場合はErrDuplicateを返す。
	LinkGoogleID(ctx context.Context, userID int64, googleID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 期限切れ判定は呼び出し側（セッションライフサイクル管理）が行うため、
	// 期限切れレコードもそのまま返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// BindUser はセッションに所有ユーザーとクライアント情報を設定する。
	BindUser(ctx context.Context, sessionID string, userID int64, userAgent, ipAddress string, expiresAt time.Time) error

	// Touch は最終アクティビティ時刻を現在時刻に更新する。
	Touch(ctx context.Context, sessionID string) error

	// ExtendExpiry は絶対有効期限を延長する。
	ExtendExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserAndID は指定ユーザーが所有するセッションを削除する。
	// 削除された場合はtrueを返す。他ユーザーのセッションは削除されない。
	DeleteByUserAndID(ctx context.Context, userID int64, sessionID string) (bool, error)

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error

	// ListActiveByUserID は指定ユーザーの有効期限内のセッション一覧を返す。
	ListActiveByUserID(ctx context.Context, userID int64) ([]*model.Session, error)

	// DeleteExpired は有効期限を過ぎたセッションを削除し、削除件数を返す。
	// クリーンアップワーカーから定期実行される。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PasswordResetRepository はパスワード再設定トークンの永続化インターフェース。
type PasswordResetRepository interface {
	// Create は再設定トークンレコードを作成する。
	Create(ctx context.Context, token *model.PasswordResetToken) error

	// InvalidateAllForUser は指定ユーザーの未使用トークンをすべて使用済みにする。
	// 新しいトークンの発行前に呼び出し、常に最新の1件のみが有効となるようにする。
	InvalidateAllForUser(ctx context.Context, userID int64) error

	// ListRedeemable は未使用かつ有効期限内のトークンを新しい順に返す。
	// 平文トークンはダイジェスト照合でしか特定できないため、候補を走査する。
	ListRedeemable(ctx context.Context) ([]*model.PasswordResetToken, error)

	// Redeem はトークンの償還を単一トランザクションで実行する。
	// ユーザーのパスワードハッシュ更新・トークンの使用済み化・
	// 当該ユーザーの全セッション削除をall-or-nothingで行う。
	Redeem(ctx context.Context, token *model.PasswordResetToken, newPasswordHash string) error

	// DeleteStale は使用済みまたは期限切れのトークンを削除し、削除件数を返す。
	// クリーンアップワーカーから定期実行される。
	DeleteStale(ctx context.Context) (int64, error)
}

// LoginAttemptRepository はログイン試行記録の永続化インターフェース。
// 追記専用であり、コアからの更新・削除は行わない。
type LoginAttemptRepository interface {
	// Create はログイン試行レコードを追記する。
	Create(ctx context.Context, attempt *model.LoginAttempt) error

	// CountRecentFailures は指定メールアドレスの直近window内の失敗回数を返す。
	CountRecentFailures(ctx context.Context, email string, window time.Duration) (int, error)

	// DeleteOlderThan は指定時刻より古い試行レコードを削除し、削除件数を返す。
	// 保持期間の管理はクリーンアップワーカーのみが行う。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
