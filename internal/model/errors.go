// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, session, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed      = "VALIDATION_FAILED"
	ErrCodeDuplicateIdentity     = "DUPLICATE_IDENTITY"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeTooManyAttempts       = "TOO_MANY_ATTEMPTS"
	ErrCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeSessionExpired        = "SESSION_EXPIRED"
	ErrCodeSessionError          = "SESSION_ERROR"
	ErrCodeSessionNotFound       = "SESSION_NOT_FOUND"
	ErrCodeUpstreamAuthFailed    = "UPSTREAM_AUTH_FAILED"
	ErrCodeMissingEmail          = "MISSING_EMAIL"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
)

// NewValidationFailedError は入力検証エラーを生成する。
func NewValidationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を修正して再度お試しください。",
	}
}

// NewDuplicateIdentityError はメールアドレスまたは外部IDの重複エラーを生成する。
func NewDuplicateIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// アカウント列挙を防ぐため、メール不存在・パスワード不一致・
// OAuth専用アカウントのいずれの場合も同一のエラーを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewTooManyAttemptsError はログイン試行回数超過エラーを生成する。
func NewTooManyAttemptsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyAttempts,
		Message:  "ログイン試行回数が上限に達しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidOrExpiredTokenError は再設定トークンの無効エラーを生成する。
// 不存在・期限切れ・使用済み・不一致のいずれの場合も同一のエラーを返す。
func NewInvalidOrExpiredTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredToken,
		Message:  "パスワード再設定トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "パスワード再設定を最初からやり直してください。",
	}
}

// NewSessionExpiredError はセッション期限切れエラーを生成する。
// 未認証と区別できるよう専用のコードを持ち、クライアントは再ログインを促せる。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "session",
		Action:   "再度ログインしてください。",
	}
}

// NewSessionError はセッション操作のストア障害エラーを生成する。
func NewSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionError,
		Message:  "セッション処理に失敗しました。",
		Category: "session",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSessionNotFoundError は指定セッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "session",
		Action:   "セッション一覧を再取得してください。",
	}
}

// NewUpstreamAuthFailedError は外部IdPとの認証失敗エラーを生成する。
func NewUpstreamAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuthFailed,
		Message:  "外部認証プロバイダーとの連携に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMissingEmailError は外部IdPがメールアドレスを提供しなかった場合のエラーを生成する。
func NewMissingEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingEmail,
		Message:  "外部認証プロバイダーからメールアドレスを取得できませんでした。",
		Category: "auth",
		Action:   "プロバイダー側でメールアドレスの公開を許可するか、別の方法で登録してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
